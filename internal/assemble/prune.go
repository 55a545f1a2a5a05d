package assemble

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goplus/vvbuild/internal/target"
)

// pruneRuntimeLibs deletes the unversioned copy of every runtime library that
// also has a versioned copy in dir, so the loader resolves the versioned one.
//
// With no versioned copy the unversioned file is kept: it is the only one.
// Versioned copies that form a soname chain (libx.so.1, libx.so.1.17.1) are
// one library and are all kept. Any other set of versioned copies, such as
// two different releases, is an error.
func pruneRuntimeLibs(dir string, names []string) (removed []string, err error) {
	type group struct {
		versioned   []string
		unversioned bool
	}
	groups := map[string]*group{}
	for _, n := range names {
		base, versioned := target.RuntimeBase(n)
		g := groups[base]
		if g == nil {
			g = &group{}
			groups[base] = g
		}
		if versioned {
			g.versioned = append(g.versioned, n)
		} else {
			g.unversioned = true
		}
	}

	bases := make([]string, 0, len(groups))
	for base := range groups {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	for _, base := range bases {
		g := groups[base]
		switch {
		case len(g.versioned) > 1 && !sonameChain(base, g.versioned):
			sort.Strings(g.versioned)
			return removed, fmt.Errorf("%w: %s has %d versioned copies (%s)",
				ErrAmbiguousRuntime, base, len(g.versioned), strings.Join(g.versioned, ", "))
		case len(g.versioned) > 0 && g.unversioned:
			if err := os.Remove(filepath.Join(dir, base)); err != nil {
				return removed, err
			}
			removed = append(removed, base)
		}
	}
	return removed, nil
}

// sonameChain reports whether every version in names extends the next
// shorter one, as in 1 < 1.17 < 1.17.1.
func sonameChain(base string, names []string) bool {
	vers := make([]string, len(names))
	for i, n := range names {
		vers[i] = runtimeVersion(base, n)
	}
	sort.Slice(vers, func(i, j int) bool { return len(vers[i]) < len(vers[j]) })
	for i := 1; i < len(vers); i++ {
		if !strings.HasPrefix(vers[i], vers[i-1]+".") {
			return false
		}
	}
	return true
}

// runtimeVersion returns the version part of a versioned runtime library
// name: "1.17.1" for libx.so.1.17.1 and libx.1.17.1.dylib.
func runtimeVersion(base, name string) string {
	if v, ok := strings.CutPrefix(name, base+"."); ok {
		return v
	}
	stem := strings.TrimSuffix(base, ".dylib")
	return strings.TrimSuffix(strings.TrimPrefix(name, stem+"."), ".dylib")
}
