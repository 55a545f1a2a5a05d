package toolchain

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Rustup installs compilation targets.
type Rustup struct {
	X Executor
}

// AddTarget makes the standard library for triple available.
func (r Rustup) AddTarget(ctx context.Context, triple string) error {
	return r.X.Run(ctx, Cmd{Name: "rustup", Args: []string{"target", "add", triple}})
}

// LinkerVar returns the cargo environment variable that selects the linker
// for triple, e.g. CARGO_TARGET_AARCH64_UNKNOWN_LINUX_GNU_LINKER.
func LinkerVar(triple string) string {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(triple))
	return fmt.Sprintf("CARGO_TARGET_%s_LINKER", key)
}

// Cargo wraps `cargo build` with chainable configuration.
type Cargo struct {
	x         Executor
	dir       string
	triple    string
	targetDir string
	features  []string
	env       map[string]string
}

// NewCargo creates a cargo helper running in the workspace dir.
func NewCargo(x Executor, dir string) *Cargo {
	return &Cargo{
		x:         x,
		dir:       dir,
		targetDir: filepath.Join(dir, "target"),
		env:       map[string]string{},
	}
}

func (c *Cargo) Target(triple string) *Cargo {
	c.triple = triple
	return c
}

func (c *Cargo) Features(features ...string) *Cargo {
	c.features = append(c.features, features...)
	return c
}

func (c *Cargo) Env(key, value string) *Cargo {
	c.env[key] = value
	return c
}

// Build compiles pkg in release mode.
func (c *Cargo) Build(ctx context.Context, pkg string) error {
	args := []string{"build", "--release", "-p", pkg, "--target-dir", c.targetDir}
	if c.triple != "" {
		args = append(args, "--target", c.triple)
	}
	if len(c.features) > 0 {
		args = append(args, "--features", strings.Join(c.features, ","))
	}
	return c.x.Run(ctx, Cmd{Name: "cargo", Args: args, Dir: c.dir, Env: envList(c.env)})
}

// OutputDir is where release artifacts of the configured target land.
func (c *Cargo) OutputDir() string {
	if c.triple == "" {
		return filepath.Join(c.targetDir, "release")
	}
	return filepath.Join(c.targetDir, c.triple, "release")
}

// Maturin wraps `maturin build` for the Python extension package.
type Maturin struct {
	x        Executor
	dir      string
	triple   string
	outDir   string
	features []string
	env      map[string]string
}

// NewMaturin creates a maturin helper running in dir. Wheels are written to
// <dir>/target/wheels unless Out is called.
func NewMaturin(x Executor, dir string) *Maturin {
	return &Maturin{
		x:      x,
		dir:    dir,
		outDir: filepath.Join(dir, "target", "wheels"),
		env:    map[string]string{},
	}
}

func (m *Maturin) Target(triple string) *Maturin {
	m.triple = triple
	return m
}

func (m *Maturin) Out(dir string) *Maturin {
	m.outDir = dir
	return m
}

func (m *Maturin) Features(features ...string) *Maturin {
	m.features = append(m.features, features...)
	return m
}

func (m *Maturin) Env(key, value string) *Maturin {
	m.env[key] = value
	return m
}

// Build packages the crate at manifest into a wheel.
func (m *Maturin) Build(ctx context.Context, manifest string) error {
	args := []string{"build", "--release", "--manifest-path", manifest, "--out", m.outDir}
	if m.triple != "" {
		args = append(args, "--target", m.triple)
	}
	if len(m.features) > 0 {
		args = append(args, "--features", strings.Join(m.features, ","))
	}
	return m.x.Run(ctx, Cmd{Name: "maturin", Args: args, Dir: m.dir, Env: envList(m.env)})
}

// OutputDir is where wheels land.
func (m *Maturin) OutputDir() string { return m.outDir }

// Cbindgen generates the C binding header.
type Cbindgen struct {
	X Executor
}

// Generate writes the header for crate to out. The invocation depends only
// on the source tree, so the same revision yields the same header on every
// target.
func (c Cbindgen) Generate(ctx context.Context, dir, crate, out string) error {
	return c.X.Run(ctx, Cmd{Name: "cbindgen", Args: []string{"--crate", crate, "-o", out}, Dir: dir})
}

func envList(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, len(keys))
	for i, k := range keys {
		env[i] = k + "=" + m[k]
	}
	return env
}
