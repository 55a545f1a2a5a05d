// Package assemble collects a build unit's outputs and static collateral
// into the canonical bundle layout:
//
//	voicevox_core-<artifact>-<version>/
//	  voicevox_core.h
//	  libvoicevox_core.so | libvoicevox_core.dylib | voicevox_core.dll
//	  voicevox_core.lib            (windows, when produced)
//	  <versioned runtime libraries>
//	  README.txt
//	  model/
//	  VERSION
package assemble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/goplus/vvbuild/internal/build"
	"github.com/goplus/vvbuild/internal/ctxlog"
	"github.com/goplus/vvbuild/internal/target"
	"github.com/goplus/vvbuild/internal/version"
)

var (
	// ErrMissingLibrary means the mandatory product library was not built.
	// A bundle without it is never archived.
	ErrMissingLibrary = errors.New("product library missing")
	// ErrAmbiguousRuntime means several versioned copies of one runtime
	// library were produced and the loader could resolve either.
	ErrAmbiguousRuntime = errors.New("ambiguous runtime library")
	// ErrSigning marks a failure to sign when signing was requested.
	ErrSigning = errors.New("signing failed")
)

// Bundle file names.
const (
	NotesFile   = "README.txt"
	ModelDir    = "model"
	VersionFile = "VERSION"
)

// Collateral locates static files in the source tree, relative to the unit
// workspace.
type Collateral struct {
	Notes string
	Model string
}

// DefaultCollateral matches the voicevox_core repository.
var DefaultCollateral = Collateral{
	Notes: "README.md",
	Model: "model",
}

// Signer signs a file with a base64 PFX certificate.
type Signer interface {
	Sign(ctx context.Context, file, certBase64, password string) error
}

// Options configures an Assembler.
type Options struct {
	Collateral Collateral

	// Sign requests signing of Windows product libraries.
	Sign         bool
	Signer       Signer
	CertBase64   string
	CertPassword string
}

// Request is one assembly job.
type Request struct {
	Target  target.Target
	Version version.Version
	Output  *build.Output
	// SourceDir is the unit workspace holding static collateral.
	SourceDir string
	// DestDir is the parent directory of the bundle.
	DestDir string
}

// Bundle is an assembled, not yet archived, artifact directory.
type Bundle struct {
	Name     string
	Dir      string
	Files    []string // slash-separated paths relative to Dir, sorted
	Warnings []string // optional collateral that was absent
}

// Assembler builds bundles. It is safe for concurrent use with distinct
// destination directories.
type Assembler struct {
	opts Options
}

// New creates an Assembler.
func New(opts Options) *Assembler {
	if opts.Collateral == (Collateral{}) {
		opts.Collateral = DefaultCollateral
	}
	return &Assembler{opts: opts}
}

// Assemble produces the bundle for req. Optional files that are absent are
// recorded as warnings; the product library is mandatory.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Bundle, error) {
	logger := ctxlog.FromContext(ctx)
	t, out := req.Target, req.Output
	p := t.Platform()

	library, ok := lookup(out.Library)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingLibrary, out.Library)
	}

	name := t.BundleName(req.Version.String())
	b := &Bundle{Name: name, Dir: filepath.Join(req.DestDir, name)}
	if err := os.RemoveAll(b.Dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return nil, err
	}

	warn := func(what, path string) {
		b.Warnings = append(b.Warnings, fmt.Sprintf("%s not found: %s", what, path))
		logger.Warn("optional file missing", "file", what, "path", path)
	}

	if header, ok := lookup(out.Header); ok {
		if err := copyFile(header, filepath.Join(b.Dir, target.Header)); err != nil {
			return nil, err
		}
	} else {
		warn("header", out.Header)
	}

	if err := copyFile(library, filepath.Join(b.Dir, p.Library)); err != nil {
		return nil, err
	}

	if p.ImportLib != "" {
		if stub, ok := lookup(out.ImportLib); ok {
			if err := copyFile(stub, filepath.Join(b.Dir, p.ImportLib)); err != nil {
				return nil, err
			}
		} else {
			warn("import library", out.ImportLib)
		}
	}

	var runtime []string
	for _, lib := range out.RuntimeLibs {
		dst := filepath.Join(b.Dir, filepath.Base(lib))
		copied, err := copyNoClobber(lib, dst)
		if err != nil {
			return nil, err
		}
		if !copied {
			logger.Debug("runtime library not copied over existing file", "file", filepath.Base(lib))
			continue
		}
		runtime = append(runtime, filepath.Base(lib))
	}
	removed, err := pruneRuntimeLibs(b.Dir, runtime)
	if err != nil {
		return nil, err
	}
	for _, r := range removed {
		logger.Debug("removed unversioned runtime library", "file", r)
	}

	if notes, ok := lookup(filepath.Join(req.SourceDir, a.opts.Collateral.Notes)); ok {
		if err := copyFile(notes, filepath.Join(b.Dir, NotesFile)); err != nil {
			return nil, err
		}
	} else {
		warn("notes", a.opts.Collateral.Notes)
	}

	if model, ok := lookupDir(filepath.Join(req.SourceDir, a.opts.Collateral.Model)); ok {
		if err := os.CopyFS(filepath.Join(b.Dir, ModelDir), os.DirFS(model)); err != nil {
			return nil, fmt.Errorf("copy model directory: %w", err)
		}
	} else {
		warn("model directory", a.opts.Collateral.Model)
	}

	if err := os.WriteFile(filepath.Join(b.Dir, VersionFile), []byte(req.Version.String()), 0o644); err != nil {
		return nil, err
	}

	if a.opts.Sign && t.OS == target.Windows {
		if err := a.sign(ctx, filepath.Join(b.Dir, p.Library)); err != nil {
			return nil, err
		}
	}

	files, err := listFiles(b.Dir)
	if err != nil {
		return nil, err
	}
	b.Files = files
	return b, nil
}

func (a *Assembler) sign(ctx context.Context, file string) error {
	if a.opts.Signer == nil {
		return fmt.Errorf("%w: no signer configured", ErrSigning)
	}
	if err := a.opts.Signer.Sign(ctx, file, a.opts.CertBase64, a.opts.CertPassword); err != nil {
		return fmt.Errorf("%w: %w", ErrSigning, err)
	}
	ctxlog.FromContext(ctx).Info("signed", "file", filepath.Base(file))
	return nil
}

// lookup reports whether path names an existing regular file.
func lookup(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// lookupDir reports whether path names an existing directory.
func lookupDir(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return path, true
}

func copyFile(src, dst string) error {
	return copyWith(src, dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

// copyNoClobber copies src to dst unless dst already exists.
func copyNoClobber(src, dst string) (bool, error) {
	err := copyWith(src, dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	return err == nil, err
}

func copyWith(src, dst string, flag int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, flag, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}
