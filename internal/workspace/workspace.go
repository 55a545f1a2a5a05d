// Copyright 2025 The vvbuild Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package workspace gives every build unit a private checkout of the source
// tree, so units can rewrite manifests and compile without touching each
// other's files.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Provider creates and removes unit workspaces.
type Provider interface {
	// Prepare materializes the source tree at dir. dir must not exist or be
	// empty.
	Prepare(ctx context.Context, dir string) error

	// Release removes a workspace created by Prepare.
	Release(ctx context.Context, dir string) error
}

// Git creates workspaces as detached git worktrees of a local repository.
type Git struct {
	git    string
	source string
	ref    string
}

// GitOption configures Git.
type GitOption func(*Git)

// WithRef checks out ref instead of HEAD.
func WithRef(ref string) GitOption {
	return func(g *Git) {
		g.ref = ref
	}
}

// NewGit returns a provider backed by the repository at source.
func NewGit(source string, opts ...GitOption) *Git {
	g := &Git{git: "git", source: source, ref: "HEAD"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Git) Prepare(ctx context.Context, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	if err := g.run(ctx, g.source, "worktree", "add", "--detach", "--force", dir, g.ref); err != nil {
		return fmt.Errorf("worktree add %s: %w", dir, err)
	}
	return nil
}

func (g *Git) Release(ctx context.Context, dir string) error {
	if err := g.run(ctx, g.source, "worktree", "remove", "--force", dir); err != nil {
		return fmt.Errorf("worktree remove %s: %w", dir, err)
	}
	return nil
}

// Revision returns the commit hash workspaces are created from.
func (g *Git) Revision(ctx context.Context) (string, error) {
	out, err := g.output(ctx, g.source, "rev-parse", g.ref)
	if err != nil {
		return "", fmt.Errorf("rev-parse %s: %w", g.ref, err)
	}
	return strings.TrimSpace(out), nil
}

func (g *Git) run(ctx context.Context, dir string, args ...string) error {
	_, err := g.output(ctx, dir, args...)
	return err
}

func (g *Git) output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.git, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s", msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

// Copy creates workspaces by copying a directory tree. It suits sources that
// are not git repositories, and tests.
type Copy struct {
	Source string
}

func (c Copy) Prepare(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	return os.CopyFS(dir, os.DirFS(c.Source))
}

func (c Copy) Release(ctx context.Context, dir string) error {
	return os.RemoveAll(dir)
}

// Detect returns a Git provider when source is inside a git work tree and a
// Copy provider otherwise.
func Detect(ctx context.Context, source string) Provider {
	g := NewGit(source)
	if out, err := g.output(ctx, source, "rev-parse", "--is-inside-work-tree"); err == nil && strings.TrimSpace(out) == "true" {
		return g
	}
	return Copy{Source: source}
}
