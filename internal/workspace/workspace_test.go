// Copyright 2025 The vvbuild Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCopy(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"Cargo.toml":                  "[workspace]\n",
		"crates/voicevox_core/lib.rs": "",
		"model/README.txt":            "model",
	})
	ctx := context.Background()
	p := Copy{Source: src}

	a := filepath.Join(t.TempDir(), "run", "linux-x64-cpu")
	b := filepath.Join(t.TempDir(), "run", "linux-x64-gpu")
	for _, dir := range []string{a, b} {
		if err := p.Prepare(ctx, dir); err != nil {
			t.Fatalf("Prepare(%s) failed: %v", dir, err)
		}
	}

	// Writes in one workspace are invisible to the other.
	if err := os.WriteFile(filepath.Join(a, "Cargo.toml"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(b, "Cargo.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[workspace]\n" {
		t.Errorf("workspace b affected by a: %q", data)
	}

	if err := p.Release(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Errorf("workspace %s not removed", a)
	}
}

func TestGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"Cargo.toml": "[workspace]\n"})

	for _, args := range [][]string{
		{"init", "-q"},
		{"-c", "user.email=ci@example.com", "-c", "user.name=ci", "add", "."},
		{"-c", "user.email=ci@example.com", "-c", "user.name=ci", "commit", "-q", "-m", "init"},
	} {
		gitRun(t, src, args...)
	}

	if p := Detect(ctx, src); p == nil {
		t.Fatal("Detect returned nil")
	} else if _, ok := p.(*Git); !ok {
		t.Fatalf("Detect returned %T, want *Git", p)
	}

	g := NewGit(src)
	rev, err := g.Revision(ctx)
	if err != nil {
		t.Fatalf("Revision failed: %v", err)
	}
	if len(rev) != 40 {
		t.Errorf("expected 40-char hash, got %q", rev)
	}

	dir := filepath.Join(t.TempDir(), "unit")
	if err := g.Prepare(ctx, dir); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Cargo.toml")); err != nil {
		t.Errorf("worktree missing Cargo.toml: %v", err)
	}
	if err := g.Release(ctx, dir); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	writeTree(t, src, map[string]string{"Cargo.toml": "[workspace]\nmembers = []\n"})
	gitRun(t, src, "-c", "user.email=ci@example.com", "-c", "user.name=ci", "commit", "-q", "-a", "-m", "next")

	pinned := NewGit(src, WithRef(rev))
	if got, err := pinned.Revision(ctx); err != nil || got != rev {
		t.Fatalf("pinned Revision = %q, %v; want %q", got, err, rev)
	}
	if head, _ := g.Revision(ctx); head == rev {
		t.Fatal("HEAD did not move")
	}
	dir = filepath.Join(t.TempDir(), "pinned")
	if err := pinned.Prepare(ctx, dir); err != nil {
		t.Fatalf("Prepare at %s failed: %v", rev, err)
	}
	defer pinned.Release(ctx, dir)
	data, err := os.ReadFile(filepath.Join(dir, "Cargo.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[workspace]\n" {
		t.Errorf("pinned worktree Cargo.toml = %q", data)
	}
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func TestDetect_NotGit(t *testing.T) {
	src := t.TempDir()
	if _, ok := Detect(context.Background(), src).(Copy); !ok {
		t.Error("expected Copy provider for a plain directory")
	}
}
