package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/goplus/vvbuild/internal/ctxlog"
	"github.com/goplus/vvbuild/internal/manifest"
)

// propagateVersion writes the run version into every Cargo manifest and the
// backend-suffixed package version into the extension package.
func (r *Runner) propagateVersion(ctx context.Context, u Unit, _ *Output) error {
	if !u.PropagateVersion {
		return nil
	}
	logger := ctxlog.FromContext(ctx)
	base := u.Version.String()
	pkgVersion := u.Version.PackageVersion(u.Target.LocalVersion)

	pythonManifest := filepath.Join(u.Dir, r.layout.PythonManifest)
	var declared int
	for _, pattern := range r.layout.Manifests {
		paths, err := filepath.Glob(filepath.Join(u.Dir, pattern))
		if err != nil {
			return err
		}
		for _, path := range paths {
			if path == pythonManifest {
				continue
			}
			res, err := manifest.SetVersion(path, base, manifest.CargoPackage, manifest.CargoWorkspace)
			if errors.Is(err, manifest.ErrNoVersion) {
				logger.Debug("manifest has no version", "path", path)
				continue
			}
			if err != nil {
				return err
			}
			if res != manifest.Inherited {
				declared++
			}
		}
	}
	if declared == 0 {
		return fmt.Errorf("no Cargo manifest declares a version")
	}

	return r.setPackageVersion(u.Dir, pkgVersion)
}

// setPackageVersion prefers a static version in pyproject.toml and falls back
// to the extension crate's manifest, which maturin reads for dynamic
// versions. An extension crate inheriting the workspace version cannot carry
// the backend suffix and is rejected.
func (r *Runner) setPackageVersion(dir, v string) error {
	if r.layout.PyProject != "" {
		_, err := manifest.SetVersion(filepath.Join(dir, r.layout.PyProject), v, manifest.PyProject)
		if err == nil {
			return nil
		}
		if !errors.Is(err, manifest.ErrNoVersion) && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	res, err := manifest.SetVersion(filepath.Join(dir, r.layout.PythonManifest), v, manifest.CargoPackage)
	if err != nil {
		return err
	}
	if res == manifest.Inherited {
		return fmt.Errorf("%s inherits the workspace version; cannot set %s", r.layout.PythonManifest, v)
	}
	return nil
}
