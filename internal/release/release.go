// Package release publishes assets to a versioned release store.
package release

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/goplus/vvbuild/internal/ctxlog"
	"github.com/goplus/vvbuild/internal/version"
)

// Asset is one publishable file.
type Asset struct {
	Path   string
	Name   string // file name in the release
	Target string // artifact name; empty for auxiliary assets
}

// NewAsset names an asset after its file.
func NewAsset(path, target string) Asset {
	return Asset{Path: path, Name: filepath.Base(path), Target: target}
}

// Store is a release store. Implementations must tolerate concurrent
// EnsureRelease and Upload calls for the same tag, and Upload must be
// idempotent per asset name.
type Store interface {
	EnsureRelease(ctx context.Context, tag string, prerelease bool) error
	Upload(ctx context.Context, tag string, a Asset) error
}

// PublishError is the failure to publish one asset.
type PublishError struct {
	Asset Asset
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Asset.Name, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher uploads assets when the version is publishable and the gate is
// open.
type Publisher struct {
	Store Store
	// Gate must be explicitly opened; publishing is disabled by default.
	Gate bool
}

// Enabled reports whether assets for v would be uploaded.
func (p *Publisher) Enabled(v version.Version) bool {
	return p != nil && p.Store != nil && p.Gate && !v.IsDebug()
}

// Publish uploads assets to the release tagged v. It makes no store calls
// unless Enabled(v). Every asset is attempted; the returned error joins one
// *PublishError per failed asset.
func (p *Publisher) Publish(ctx context.Context, v version.Version, assets ...Asset) error {
	logger := ctxlog.FromContext(ctx)
	if !p.Enabled(v) {
		logger.Info("publishing skipped", "version", v.String(), "gate", p != nil && p.Gate)
		return nil
	}
	tag := v.String()
	if err := p.Store.EnsureRelease(ctx, tag, v.Prerelease()); err != nil {
		errs := make([]error, len(assets))
		for i, a := range assets {
			errs[i] = &PublishError{Asset: a, Err: err}
		}
		return errors.Join(errs...)
	}

	var errs []error
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, &PublishError{Asset: a, Err: err})
			continue
		}
		if err := p.Store.Upload(ctx, tag, a); err != nil {
			errs = append(errs, &PublishError{Asset: a, Err: err})
			continue
		}
		logger.Info("published", "asset", a.Name, "tag", tag)
	}
	return errors.Join(errs...)
}

// DefaultAuxFiles are the downloader scripts attached to every release,
// relative to the source tree.
var DefaultAuxFiles = []string{
	"scripts/downloads/download.sh",
	"scripts/downloads/download.ps1",
}

const auxUploads = 4

// PublishAux uploads auxiliary files concurrently under the same gating rule
// as Publish. It does not depend on any build result.
func (p *Publisher) PublishAux(ctx context.Context, v version.Version, files []string) error {
	if !p.Enabled(v) {
		ctxlog.FromContext(ctx).Info("auxiliary publishing skipped", "version", v.String())
		return nil
	}
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(auxUploads)
	for _, f := range files {
		g.Go(func() error {
			// Each file is attempted even when another fails.
			if err := p.Publish(gctx, v, NewAsset(f, "")); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
