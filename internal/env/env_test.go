package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWorkDir(t *testing.T) {
	root := t.TempDir()
	t.Setenv(WorkDirEnv, "")
	t.Setenv("XDG_CACHE_HOME", root)
	t.Setenv("HOME", root)

	workDir, err := WorkDir()
	if err != nil {
		t.Fatalf("WorkDir() returned error: %v", err)
	}

	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		t.Fatalf("os.UserCacheDir() returned error: %v", err)
	}
	if want := filepath.Join(userCacheDir, ".vvbuild"); workDir != want {
		t.Errorf("WorkDir() = %q, want %q", workDir, want)
	}

	info, err := os.Stat(workDir)
	if err != nil {
		t.Fatalf("Directory was not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("WorkDir() created a file instead of a directory")
	}
	if mode := info.Mode().Perm(); mode != 0700 {
		t.Errorf("Directory has permissions %v, want 0700", mode)
	}
}

func TestWorkDir_Override(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom")
	t.Setenv(WorkDirEnv, dir)

	got, err := WorkDir()
	if err != nil {
		t.Fatalf("WorkDir() returned error: %v", err)
	}
	if got != dir {
		t.Errorf("WorkDir() = %q, want %q", got, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("override directory not created: %v", err)
	}
}

func TestUnitDir_Distinct(t *testing.T) {
	a := UnitDir("/w", "run", "linux-x64-cpu")
	b := UnitDir("/w", "run", "linux-x64-gpu")
	if a == b || strings.HasPrefix(b, a+string(filepath.Separator)) {
		t.Errorf("unit dirs overlap: %q %q", a, b)
	}
}
