// Package target defines the static build matrix: one Target per
// platform/architecture/accelerator combination.
package target

import (
	"errors"
	"fmt"
	"strings"
)

// Product is the name every bundle and archive starts with.
const Product = "voicevox_core"

// Operating-system families.
const (
	Windows = "windows"
	Linux   = "linux"
	OSX     = "osx"
)

// Accelerator backends.
const (
	CPU      = "cpu"
	CUDA     = "cuda"
	DirectML = "directml"
)

// ErrInvalidCatalog reports a catalog that cannot be built. It is a
// configuration error: the run aborts before any target starts.
var ErrInvalidCatalog = errors.New("invalid target catalog")

// Target is one immutable cell of the build matrix.
type Target struct {
	ArtifactName  string `hcl:"name,label"`
	OS            string `hcl:"os"`
	Triple        string `hcl:"triple"`
	Backend       string `hcl:"backend"`
	Features      string `hcl:"features,optional"`
	LocalVersion  string `hcl:"local_version"`
	CrossCompiler string `hcl:"cross_compiler,optional"` // package to install before compiling
	CrossLinker   string `hcl:"cross_linker,optional"`
}

func (t Target) String() string { return t.ArtifactName }

// UseCUDA is the accelerator-selection toggle handed to compilation and
// packaging out of band.
func (t Target) UseCUDA() bool { return t.Backend == CUDA }

// NeedsCrossCompiler reports whether the toolchain step must install a
// cross-compiler first.
func (t Target) NeedsCrossCompiler() bool { return t.CrossCompiler != "" }

// Platform returns the naming rules of the target's OS family.
func (t Target) Platform() Platform { return PlatformOf(t.OS) }

// BundleName returns "<product>-<artifact_name>-<version>".
func (t Target) BundleName(version string) string {
	return fmt.Sprintf("%s-%s-%s", Product, t.ArtifactName, version)
}

// FeatureList splits Features on commas and spaces.
func (t Target) FeatureList() []string {
	return strings.FieldsFunc(t.Features, func(r rune) bool { return r == ',' || r == ' ' })
}

func (t Target) validate() error {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"name", t.ArtifactName},
		{"os", t.OS},
		{"triple", t.Triple},
		{"backend", t.Backend},
		{"local_version", t.LocalVersion},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("target %q: missing %s", t.ArtifactName, strings.Join(missing, ", "))
	}
	switch t.OS {
	case Windows, Linux, OSX:
	default:
		return fmt.Errorf("target %q: unknown os %q", t.ArtifactName, t.OS)
	}
	switch t.Backend {
	case CPU, CUDA, DirectML:
	default:
		return fmt.Errorf("target %q: unknown backend %q", t.ArtifactName, t.Backend)
	}
	if t.Backend == DirectML && t.OS != Windows {
		return fmt.Errorf("target %q: directml is windows only", t.ArtifactName)
	}
	if t.CrossLinker != "" && t.CrossCompiler == "" {
		return fmt.Errorf("target %q: cross_linker set without cross_compiler", t.ArtifactName)
	}
	return nil
}
