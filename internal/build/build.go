// Package build runs the per-target build pipeline: toolchain setup,
// version propagation, header generation, native compilation and extension
// packaging.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goplus/vvbuild/internal/ctxlog"
	"github.com/goplus/vvbuild/internal/target"
	"github.com/goplus/vvbuild/internal/toolchain"
	"github.com/goplus/vvbuild/internal/version"
)

var (
	// ErrToolchain marks a failure to prepare the target's toolchain.
	ErrToolchain = errors.New("toolchain setup failed")
	// ErrBuild marks a version propagation, compilation or packaging failure.
	ErrBuild = errors.New("build failed")
)

// Steps of a build unit, in execution order.
const (
	StepToolchain = "toolchain"
	StepVersion   = "version"
	StepHeader    = "header"
	StepCompile   = "compile"
	StepPackage   = "package"
)

// StepError reports the step a unit failed in.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Layout locates the build units inside a source tree. Paths are relative to
// the workspace root.
type Layout struct {
	CAPICrate      string   // crate compiled into the product library
	Manifests      []string // globs of Cargo.toml files receiving the base version
	PythonManifest string   // Cargo.toml of the extension crate
	PyProject      string   // pyproject.toml of the extension package
}

// DefaultLayout is the voicevox_core repository layout.
var DefaultLayout = Layout{
	CAPICrate:      "voicevox_core_c_api",
	Manifests:      []string{"Cargo.toml", "crates/*/Cargo.toml"},
	PythonManifest: "crates/voicevox_core_python_api/Cargo.toml",
	PyProject:      "crates/voicevox_core_python_api/pyproject.toml",
}

// CUDAToggle is the environment variable carrying the accelerator-selection
// toggle to compilation and packaging.
const CUDAToggle = "ORT_USE_CUDA"

// Unit is one build unit: a target built in its own workspace.
type Unit struct {
	Target target.Target
	Dir    string // workspace root

	Version version.Version
	// PropagateVersion is evaluated once per run; see config.Plan.
	PropagateVersion bool
}

// Output is the raw result of a unit, still inside its workspace.
type Output struct {
	Header      string
	Library     string
	ImportLib   string // Windows link stub; "" when not produced
	RuntimeLibs []string
	Wheel       string
}

// Options configures a Runner.
type Options struct {
	Exec   toolchain.Executor
	Layout Layout
	// Sudo runs the cross-compiler installer through sudo.
	Sudo bool
}

// Runner executes build units. A Runner is safe for concurrent use as long
// as units have distinct workspaces.
type Runner struct {
	exec   toolchain.Executor
	layout Layout
	sudo   bool
}

// NewRunner creates a Runner. Zero-valued options select real subprocesses
// and DefaultLayout.
func NewRunner(opts Options) *Runner {
	r := &Runner{exec: opts.Exec, layout: opts.Layout, sudo: opts.Sudo}
	if r.exec == nil {
		r.exec = toolchain.Exec{}
	}
	if r.layout.CAPICrate == "" {
		r.layout = DefaultLayout
	}
	return r
}

// Tools lists the executables a Runner needs on PATH.
func Tools() []string {
	return []string{"rustup", "cargo", "cbindgen", "maturin"}
}

// Run executes the unit's steps in order and stops at the first failure.
func (r *Runner) Run(ctx context.Context, u Unit) (*Output, error) {
	logger := ctxlog.FromContext(ctx)
	out := &Output{}

	steps := []struct {
		name string
		kind error
		fn   func(context.Context, Unit, *Output) error
	}{
		{StepToolchain, ErrToolchain, r.setupToolchain},
		{StepVersion, ErrBuild, r.propagateVersion},
		{StepHeader, ErrBuild, r.generateHeader},
		{StepCompile, ErrBuild, r.compile},
		{StepPackage, ErrBuild, r.packageExtension},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, &StepError{Step: s.name, Err: err}
		}
		logger.Info("build step", "step", s.name)
		if err := s.fn(ctx, u, out); err != nil {
			return nil, &StepError{Step: s.name, Err: fmt.Errorf("%w: %w", s.kind, err)}
		}
	}
	return out, nil
}

func (r *Runner) setupToolchain(ctx context.Context, u Unit, _ *Output) error {
	if u.Target.NeedsCrossCompiler() {
		apt := toolchain.Apt{X: r.exec, Sudo: r.sudo}
		if err := apt.Install(ctx, u.Target.CrossCompiler); err != nil {
			return fmt.Errorf("install %s: %w", u.Target.CrossCompiler, err)
		}
	}
	return toolchain.Rustup{X: r.exec}.AddTarget(ctx, u.Target.Triple)
}

func (r *Runner) generateHeader(ctx context.Context, u Unit, out *Output) error {
	dir := filepath.Join(u.Dir, "target")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	header := filepath.Join(dir, target.Header)
	if err := (toolchain.Cbindgen{X: r.exec}).Generate(ctx, u.Dir, r.layout.CAPICrate, header); err != nil {
		return err
	}
	out.Header = header
	return nil
}

func (r *Runner) compile(ctx context.Context, u Unit, out *Output) error {
	t := u.Target
	cargo := toolchain.NewCargo(r.exec, u.Dir).
		Target(t.Triple).
		Features(t.FeatureList()...).
		Env(CUDAToggle, toggle(t.UseCUDA()))
	if t.CrossLinker != "" {
		cargo.Env(toolchain.LinkerVar(t.Triple), t.CrossLinker)
	}
	if err := cargo.Build(ctx, r.layout.CAPICrate); err != nil {
		return err
	}

	p := t.Platform()
	dir := cargo.OutputDir()
	out.Library = filepath.Join(dir, p.BuiltLibrary)
	if p.BuiltImportLib != "" {
		if lib := filepath.Join(dir, p.BuiltImportLib); exists(lib) {
			out.ImportLib = lib
		}
	}
	libs, err := globAll(dir, p.RuntimePatterns)
	if err != nil {
		return err
	}
	out.RuntimeLibs = libs
	return nil
}

func (r *Runner) packageExtension(ctx context.Context, u Unit, out *Output) error {
	t := u.Target
	maturin := toolchain.NewMaturin(r.exec, u.Dir).
		Target(t.Triple).
		Features(t.FeatureList()...).
		Env(CUDAToggle, toggle(t.UseCUDA()))
	if t.CrossLinker != "" {
		maturin.Env(toolchain.LinkerVar(t.Triple), t.CrossLinker)
	}
	if err := maturin.Build(ctx, r.layout.PythonManifest); err != nil {
		return err
	}

	wheels, err := filepath.Glob(filepath.Join(maturin.OutputDir(), "*.whl"))
	if err != nil {
		return err
	}
	switch len(wheels) {
	case 0:
		return fmt.Errorf("no wheel produced in %s", maturin.OutputDir())
	case 1:
		out.Wheel = wheels[0]
		return nil
	default:
		return fmt.Errorf("expected one wheel in %s, found %d", maturin.OutputDir(), len(wheels))
	}
}

func toggle(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// globAll matches every pattern in dir and returns the sorted, de-duplicated
// set of regular files.
func globAll(dir string, patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			if info, err := os.Stat(m); err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}
