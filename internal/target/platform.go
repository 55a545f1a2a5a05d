package target

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Platform holds per-OS file naming.
type Platform struct {
	// BuiltLibrary is the file cargo produces for the C API crate.
	BuiltLibrary string
	// Library is the canonical product library name inside a bundle.
	Library string
	// BuiltImportLib and ImportLib name the Windows link stub; empty elsewhere.
	BuiltImportLib string
	ImportLib      string
	// RuntimePatterns glob third-party runtime libraries left in the
	// build output directory.
	RuntimePatterns []string
}

// Header is the binding header file name, identical on every platform.
const Header = Product + ".h"

const cAPICrate = "voicevox_core_c_api"

var platforms = map[string]Platform{
	Windows: {
		BuiltLibrary:    cAPICrate + ".dll",
		Library:         Product + ".dll",
		BuiltImportLib:  cAPICrate + ".dll.lib",
		ImportLib:       Product + ".lib",
		RuntimePatterns: []string{"onnxruntime*.dll", "DirectML.dll"},
	},
	Linux: {
		BuiltLibrary:    "lib" + cAPICrate + ".so",
		Library:         "lib" + Product + ".so",
		RuntimePatterns: []string{"libonnxruntime*.so", "libonnxruntime*.so.*"},
	},
	OSX: {
		BuiltLibrary:    "lib" + cAPICrate + ".dylib",
		Library:         "lib" + Product + ".dylib",
		RuntimePatterns: []string{"libonnxruntime*.dylib"},
	},
}

// PlatformOf returns the naming rules for an OS family. Unknown families get
// the Linux rules; the catalog rejects them before this matters.
func PlatformOf(os string) Platform {
	if p, ok := platforms[os]; ok {
		return p
	}
	return platforms[Linux]
}

var (
	// libfoo.so.1.13.1
	soVersionRE = regexp.MustCompile(`^(.+\.so)\.[0-9]+(\.[0-9]+)*$`)
	// libfoo.1.13.1.dylib
	dylibVersionRE = regexp.MustCompile(`^(.+?)\.[0-9]+(\.[0-9]+)*(\.dylib)$`)
)

// RuntimeBase splits a runtime library file name into the unversioned name it
// duplicates and whether the name carries a version. Windows DLL names are
// never versioned.
//
//	libonnxruntime.so.1.13.1    -> libonnxruntime.so, true
//	libonnxruntime.1.13.1.dylib -> libonnxruntime.dylib, true
//	libonnxruntime.so           -> libonnxruntime.so, false
func RuntimeBase(name string) (base string, versioned bool) {
	name = filepath.Base(name)
	if m := soVersionRE.FindStringSubmatch(name); m != nil {
		return m[1], true
	}
	if strings.HasSuffix(name, ".dylib") {
		if m := dylibVersionRE.FindStringSubmatch(name); m != nil {
			return m[1] + m[3], true
		}
	}
	return name, false
}
