// Package orchestrate runs one build unit per catalog target in parallel
// and collects a per-target report.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/goplus/vvbuild/internal/archive"
	"github.com/goplus/vvbuild/internal/assemble"
	"github.com/goplus/vvbuild/internal/build"
	"github.com/goplus/vvbuild/internal/config"
	"github.com/goplus/vvbuild/internal/ctxlog"
	"github.com/goplus/vvbuild/internal/env"
	"github.com/goplus/vvbuild/internal/par"
	"github.com/goplus/vvbuild/internal/release"
	"github.com/goplus/vvbuild/internal/target"
	"github.com/goplus/vvbuild/internal/version"
	"github.com/goplus/vvbuild/internal/workspace"
)

// Stages of a unit, in execution order. A Result records the stage a unit
// failed in, or StageDone.
const (
	StageWorkspace = "workspace"
	StageBuild     = "build"
	StageAssemble  = "assemble"
	StageArchive   = "archive"
	StagePublish   = "publish"
	StageDone      = "done"
)

// Builder runs a build unit.
type Builder interface {
	Run(ctx context.Context, u build.Unit) (*build.Output, error)
}

// Assembler turns build output into a bundle.
type Assembler interface {
	Assemble(ctx context.Context, req assemble.Request) (*assemble.Bundle, error)
}

// Publisher uploads release assets.
type Publisher interface {
	Enabled(v version.Version) bool
	Publish(ctx context.Context, v version.Version, assets ...release.Asset) error
}

// revisioner is implemented by workspace providers that check out a single
// commit.
type revisioner interface {
	Revision(ctx context.Context) (string, error)
}

// Options configures Run.
type Options struct {
	Plan    *config.Plan
	Catalog target.Catalog

	Workspaces workspace.Provider
	Builder    Builder
	Assembler  Assembler
	Publisher  Publisher

	WorkDir string
	// Jobs bounds the number of units running at once; <= 0 means one per
	// target.
	Jobs int
	// KeepWorkspaces leaves unit source trees in place after the run.
	KeepWorkspaces bool
	// RunID names the run directory; a random UUID when empty.
	RunID string
}

// Result is the outcome of one unit.
type Result struct {
	Target target.Target
	Stage  string
	Err    error

	Archive   *archive.Archive
	Wheel     string
	Published bool
	Warnings  []string
	Duration  time.Duration
}

// OK reports whether the unit completed.
func (r *Result) OK() bool { return r.Err == nil }

// Run executes every target of the catalog. Units share nothing but the
// read-only plan; one failing unit never stops the others. The returned
// error is reserved for problems that prevent the run from starting; unit
// failures are in the report.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Plan == nil {
		return nil, errors.New("orchestrate: no plan")
	}
	if err := opts.Catalog.Validate(); err != nil {
		return nil, err
	}
	if opts.Workspaces == nil || opts.Builder == nil || opts.Assembler == nil {
		return nil, errors.New("orchestrate: workspaces, builder and assembler are required")
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	jobs := opts.Jobs
	if jobs <= 0 || jobs > len(opts.Catalog) {
		jobs = len(opts.Catalog)
	}

	logger := ctxlog.FromContext(ctx).With("run", opts.RunID)
	ctx = ctxlog.WithLogger(ctx, logger)
	attrs := []any{
		"version", opts.Plan.Version.String(),
		"targets", len(opts.Catalog),
		"jobs", jobs,
		"propagate", opts.Plan.PropagateVersion,
		"publish", opts.Plan.Publish,
		"sign", opts.Plan.Sign,
	}
	// Every unit builds the same commit, so one header serves all targets.
	if rv, ok := opts.Workspaces.(revisioner); ok {
		rev, err := rv.Revision(ctx)
		if err != nil {
			return nil, fmt.Errorf("orchestrate: %w", err)
		}
		attrs = append(attrs, "revision", rev)
	}
	logger.Info("run started", attrs...)

	results := make([]*Result, len(opts.Catalog))
	for i, t := range opts.Catalog {
		results[i] = &Result{Target: t}
	}
	var w par.Work[int]
	for i := range opts.Catalog {
		w.Add(i)
	}
	errs := w.Do(ctx, jobs, func(ctx context.Context, i int) error {
		runUnit(ctx, opts, results[i])
		return nil
	})
	// Units that never started were cancelled; a unit that panicked keeps
	// the stage it reached.
	for i, err := range errs {
		res := results[i]
		if err == nil || res.Err != nil {
			continue
		}
		if res.Stage == "" {
			res.Stage = StageWorkspace
		}
		res.Err = err
		logger.Error("unit failed", "target", res.Target.ArtifactName, "stage", res.Stage, "err", err)
	}

	rep := &Report{RunID: opts.RunID, Version: opts.Plan.Version}
	for _, r := range results {
		rep.Results = append(rep.Results, *r)
	}
	logger.Info("run finished", "ok", rep.Succeeded(), "failed", len(rep.Failed()))
	return rep, nil
}

// runUnit runs the stages of res.Target, recording progress in res as it
// goes.
func runUnit(ctx context.Context, opts Options, res *Result) {
	start := time.Now()
	t := res.Target
	logger := ctxlog.FromContext(ctx).With("target", t.ArtifactName)
	ctx = ctxlog.WithLogger(ctx, logger)
	defer func() {
		res.Duration = time.Since(start)
		switch {
		case res.Err != nil:
			logger.Error("unit failed", "stage", res.Stage, "err", res.Err)
		case res.Stage == StageDone:
			logger.Info("unit finished", "duration", res.Duration.Round(time.Millisecond))
		}
	}()
	plan := opts.Plan
	unitDir := env.UnitDir(opts.WorkDir, opts.RunID, t.ArtifactName)
	src := filepath.Join(unitDir, "src")
	res.Stage = StageWorkspace
	if err := opts.Workspaces.Prepare(ctx, src); err != nil {
		res.Err = err
		return
	}
	if !opts.KeepWorkspaces {
		defer func() {
			// Cleanup runs even when the run was cancelled.
			if err := opts.Workspaces.Release(context.WithoutCancel(ctx), src); err != nil {
				logger.Warn("workspace not removed", "dir", src, "err", err)
			}
		}()
	}

	res.Stage = StageBuild
	out, err := opts.Builder.Run(ctx, build.Unit{
		Target:           t,
		Dir:              src,
		Version:          plan.Version,
		PropagateVersion: plan.PropagateVersion,
	})
	if err != nil {
		res.Err = err
		return
	}
	// The wheel outlives the workspace.
	wheel := filepath.Join(unitDir, filepath.Base(out.Wheel))
	if err := os.Rename(out.Wheel, wheel); err != nil {
		res.Err = fmt.Errorf("collect wheel: %w", err)
		return
	}
	res.Wheel = wheel

	res.Stage = StageAssemble
	bundle, err := opts.Assembler.Assemble(ctx, assemble.Request{
		Target:    t,
		Version:   plan.Version,
		Output:    out,
		SourceDir: src,
		DestDir:   unitDir,
	})
	if err != nil {
		res.Err = err
		return
	}
	res.Warnings = bundle.Warnings

	res.Stage = StageArchive
	arc, err := archive.Zip(bundle.Dir)
	if err != nil {
		res.Err = err
		return
	}
	res.Archive = arc
	if err := os.RemoveAll(bundle.Dir); err != nil {
		logger.Warn("bundle directory not removed", "dir", bundle.Dir, "err", err)
	}
	logger.Info("archived", "archive", arc.Name, "sha256", arc.SHA256)

	// Publication is the last step, so a cancelled unit never uploads.
	res.Stage = StagePublish
	if err := ctx.Err(); err != nil {
		res.Err = err
		return
	}
	if opts.Publisher != nil && plan.Publish && opts.Publisher.Enabled(plan.Version) {
		assets := []release.Asset{
			release.NewAsset(arc.Path, t.ArtifactName),
			release.NewAsset(wheel, t.ArtifactName),
		}
		if err := opts.Publisher.Publish(ctx, plan.Version, assets...); err != nil {
			res.Err = err
			return
		}
		res.Published = true
	}
	res.Stage = StageDone
}
