package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/goplus/vvbuild/internal/toolchain"
)

// fakeTools implements toolchain.Executor by simulating rustup, cargo,
// cbindgen and maturin on the workspace filesystem.
type fakeTools struct {
	mu   sync.Mutex
	cmds []toolchain.Cmd

	fail        map[string]error // command name -> error
	runtimeLibs []string         // extra files cargo leaves in its output dir
	noImportLib bool
}

func (f *fakeTools) Run(ctx context.Context, c toolchain.Cmd) error {
	f.mu.Lock()
	f.cmds = append(f.cmds, c)
	err := f.fail[c.Name]
	f.mu.Unlock()
	if err != nil {
		return err
	}

	switch c.Name {
	case "cbindgen":
		src, err := os.ReadFile(filepath.Join(c.Dir, "crates", "voicevox_core_c_api", "src", "lib.rs"))
		if err != nil {
			return err
		}
		return os.WriteFile(argAfter(c.Args, "-o"), append([]byte("/* generated */\n"), src...), 0o644)
	case "cargo":
		dir := filepath.Join(argAfter(c.Args, "--target-dir"), argAfter(c.Args, "--target"), "release")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		triple := argAfter(c.Args, "--target")
		names := []string{"libvoicevox_core_c_api.so"}
		if strings.Contains(triple, "windows") {
			names = []string{"voicevox_core_c_api.dll"}
			if !f.noImportLib {
				names = append(names, "voicevox_core_c_api.dll.lib")
			}
		}
		names = append(names, f.runtimeLibs...)
		for _, n := range names {
			if err := os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644); err != nil {
				return err
			}
		}
		return nil
	case "maturin":
		out := argAfter(c.Args, "--out")
		if err := os.MkdirAll(out, 0o755); err != nil {
			return err
		}
		v, err := pyprojectVersion(filepath.Join(c.Dir, "crates", "voicevox_core_python_api", "pyproject.toml"))
		if err != nil {
			return err
		}
		name := fmt.Sprintf("voicevox_core-%s-cp38-abi3-%s.whl", v, argAfter(c.Args, "--target"))
		return os.WriteFile(filepath.Join(out, name), []byte("wheel"), 0o644)
	}
	return nil
}

func (f *fakeTools) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.cmds {
		names = append(names, c.Name)
	}
	return names
}

func (f *fakeTools) find(name string) (toolchain.Cmd, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cmds {
		if c.Name == name {
			return c, true
		}
	}
	return toolchain.Cmd{}, false
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

var pyVersionRE = regexp.MustCompile(`(?m)^version = "([^"]*)"`)

func pyprojectVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	m := pyVersionRE.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("no version in %s", path)
	}
	return string(m[1]), nil
}

// newSourceTree writes a minimal voicevox_core source tree into dir.
func newSourceTree(dir string) error {
	files := map[string]string{
		"Cargo.toml":                                     "[workspace]\nmembers = [\"crates/*\"]\n\n[workspace.package]\nversion = \"0.0.0\"\n",
		"crates/voicevox_core_c_api/Cargo.toml":          "[package]\nname = \"voicevox_core_c_api\"\nversion.workspace = true\n",
		"crates/voicevox_core_c_api/src/lib.rs":          "pub extern \"C\" fn voicevox_get_version() {}\n",
		"crates/voicevox_core_python_api/Cargo.toml":     "[package]\nname = \"voicevox_core_python_api\"\nversion = \"0.0.0\"\n",
		"crates/voicevox_core_python_api/pyproject.toml": "[project]\nname = \"voicevox_core\"\nversion = \"0.0.0\"\n",
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// noWheel wraps fakeTools but makes maturin a no-op.
type noWheel struct {
	*fakeTools
}

func (n noWheel) Run(ctx context.Context, c toolchain.Cmd) error {
	if c.Name == "maturin" {
		return nil
	}
	return n.fakeTools.Run(ctx, c)
}
