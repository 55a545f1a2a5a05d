package target

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

// Catalog is the ordered list of targets of a run.
type Catalog []Target

// Default returns the built-in release matrix.
func Default() Catalog {
	return Catalog{
		{ArtifactName: "windows-x64-directml", OS: Windows, Triple: "x86_64-pc-windows-msvc", Backend: DirectML, Features: "directml", LocalVersion: "directml"},
		{ArtifactName: "windows-x64-cpu", OS: Windows, Triple: "x86_64-pc-windows-msvc", Backend: CPU, LocalVersion: "cpu"},
		{ArtifactName: "windows-x64-cuda", OS: Windows, Triple: "x86_64-pc-windows-msvc", Backend: CUDA, LocalVersion: "cuda"},
		{ArtifactName: "windows-x86-cpu", OS: Windows, Triple: "i686-pc-windows-msvc", Backend: CPU, LocalVersion: "cpu"},
		{ArtifactName: "linux-x64-cpu", OS: Linux, Triple: "x86_64-unknown-linux-gnu", Backend: CPU, LocalVersion: "cpu"},
		{ArtifactName: "linux-x64-gpu", OS: Linux, Triple: "x86_64-unknown-linux-gnu", Backend: CUDA, LocalVersion: "cuda"},
		{
			ArtifactName: "linux-arm64-cpu", OS: Linux, Triple: "aarch64-unknown-linux-gnu", Backend: CPU, LocalVersion: "cpu",
			CrossCompiler: "gcc-aarch64-linux-gnu", CrossLinker: "aarch64-linux-gnu-gcc",
		},
		{
			ArtifactName: "linux-armhf-cpu", OS: Linux, Triple: "arm-unknown-linux-gnueabihf", Backend: CPU, LocalVersion: "cpu",
			CrossCompiler: "gcc-arm-linux-gnueabihf", CrossLinker: "arm-linux-gnueabihf-gcc",
		},
		{ArtifactName: "osx-x64-cpu", OS: OSX, Triple: "x86_64-apple-darwin", Backend: CPU, LocalVersion: "cpu"},
		{ArtifactName: "osx-arm64-cpu", OS: OSX, Triple: "aarch64-apple-darwin", Backend: CPU, LocalVersion: "cpu"},
	}
}

// Validate checks every target's mandatory fields, that artifact names are
// pairwise distinct, and that no two targets sharing an OS and triple share a
// local-version suffix (their extension packages would collide).
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: no targets", ErrInvalidCatalog)
	}
	names := make(map[string]bool, len(c))
	suffixes := make(map[string]string, len(c))
	for _, t := range c {
		if err := t.validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		if names[t.ArtifactName] {
			return fmt.Errorf("%w: duplicate artifact name %q", ErrInvalidCatalog, t.ArtifactName)
		}
		names[t.ArtifactName] = true

		key := t.OS + "/" + t.Triple + "/" + t.LocalVersion
		if other, ok := suffixes[key]; ok {
			return fmt.Errorf("%w: %q and %q share local version %q on %s",
				ErrInvalidCatalog, other, t.ArtifactName, t.LocalVersion, t.Triple)
		}
		suffixes[key] = t.ArtifactName
	}
	return nil
}

// Lookup returns the target with the given artifact name.
func (c Catalog) Lookup(name string) (Target, bool) {
	for _, t := range c {
		if t.ArtifactName == name {
			return t, true
		}
	}
	return Target{}, false
}

// Filter returns the targets named in names, in catalog order. An empty
// names returns c unchanged.
func (c Catalog) Filter(names []string) (Catalog, error) {
	if len(names) == 0 {
		return c, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := c.Lookup(n); !ok {
			return nil, fmt.Errorf("%w: unknown target %q", ErrInvalidCatalog, n)
		}
		want[n] = true
	}
	var out Catalog
	for _, t := range c {
		if want[t.ArtifactName] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Names returns the artifact names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, t := range c {
		names[i] = t.ArtifactName
	}
	return names
}

type catalogFile struct {
	Targets []Target `hcl:"target,block"`
}

// evalContext exposes variables usable in catalog files.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"product": cty.StringVal(Product),
			"os": cty.ObjectVal(map[string]cty.Value{
				"windows": cty.StringVal(Windows),
				"linux":   cty.StringVal(Linux),
				"osx":     cty.StringVal(OSX),
			}),
		},
	}
}

// Load reads a catalog from an HCL (or HCL JSON) file:
//
//	target "linux-x64-cpu" {
//	  os            = os.linux
//	  triple        = "x86_64-unknown-linux-gnu"
//	  backend       = "cpu"
//	  local_version = "cpu"
//	}
func Load(path string) (Catalog, error) {
	var f catalogFile
	if err := hclsimple.DecodeFile(path, evalContext(), &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return finish(f)
}

// Parse is like Load but reads src; filename selects the syntax by suffix.
func Parse(filename string, src []byte) (Catalog, error) {
	var f catalogFile
	if err := hclsimple.Decode(filename, src, evalContext(), &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return finish(f)
}

func finish(f catalogFile) (Catalog, error) {
	c := Catalog(f.Targets)
	for i := range c {
		c[i].Features = strings.TrimSpace(c[i].Features)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
