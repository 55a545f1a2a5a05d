package orchestrate

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goplus/vvbuild/internal/build"
	"github.com/goplus/vvbuild/internal/release"
	"github.com/goplus/vvbuild/internal/target"
	"github.com/goplus/vvbuild/internal/version"
	"github.com/goplus/vvbuild/internal/workspace"
)

// fakeBuilder writes the files a successful build leaves in the workspace.
type fakeBuilder struct {
	fail      map[string]error // by artifact name
	noLibrary map[string]bool
	// block, when set, is waited on before every build.
	block chan struct{}
}

func (b *fakeBuilder) Run(ctx context.Context, u build.Unit) (*build.Output, error) {
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return nil, &build.StepError{Step: build.StepToolchain, Err: ctx.Err()}
		}
	}
	if err := b.fail[u.Target.ArtifactName]; err != nil {
		return nil, &build.StepError{Step: build.StepCompile, Err: err}
	}
	p := u.Target.Platform()
	rel := filepath.Join(u.Dir, "target", u.Target.Triple, "release")
	out := &build.Output{
		Header:  filepath.Join(u.Dir, "target", target.Header),
		Library: filepath.Join(rel, p.BuiltLibrary),
		Wheel:   filepath.Join(u.Dir, "target", "wheels", "voicevox_core-"+u.Version.PackageVersion(u.Target.LocalVersion)+"-cp38-abi3-"+u.Target.Triple+".whl"),
	}
	if u.Version.IsDebug() {
		out.Wheel = filepath.Join(u.Dir, "target", "wheels", "voicevox_core-0.0.0-cp38-abi3-"+u.Target.Triple+".whl")
	}
	files := []string{out.Header, out.Wheel}
	if !b.noLibrary[u.Target.ArtifactName] {
		files = append(files, out.Library)
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(f, []byte(filepath.Base(f)), 0o644); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// panicBuilder panics inside every build.
type panicBuilder struct{}

func (panicBuilder) Run(ctx context.Context, u build.Unit) (*build.Output, error) {
	panic("compiler exploded")
}

// pinnedCopy is a copy provider that reports a fixed revision.
type pinnedCopy struct {
	workspace.Copy
	rev string
	err error
}

func (p pinnedCopy) Revision(ctx context.Context) (string, error) { return p.rev, p.err }

type fakePublisher struct {
	mu     sync.Mutex
	assets []release.Asset
	err    error
}

func (p *fakePublisher) Enabled(v version.Version) bool { return !v.IsDebug() }

func (p *fakePublisher) Publish(_ context.Context, _ version.Version, assets ...release.Asset) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.assets = append(p.assets, assets...)
	return nil
}

func (p *fakePublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, a := range p.assets {
		names = append(names, a.Name)
	}
	return names
}

// newSource creates a minimal source tree with collateral.
func newSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"README.md":        "notes",
		"model/metas.json": "{}",
	} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}
