// Package manifest rewrites the version field of Cargo.toml and
// pyproject.toml files in place, leaving every other byte untouched.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Sections holding a package version.
const (
	CargoPackage   = "package"
	CargoWorkspace = "workspace.package"
	PyProject      = "project"
)

// ErrNoVersion is returned when none of the requested sections declares a
// version.
var ErrNoVersion = errors.New("no version field")

var (
	tableRE     = regexp.MustCompile(`^\s*\[([^\[\]]+)\]\s*(#.*)?$`)
	versionRE   = regexp.MustCompile(`^(\s*version\s*=\s*)"[^"]*"(.*)$`)
	inheritedRE = regexp.MustCompile(`^\s*version(\.workspace\s*=\s*true|\s*=\s*\{\s*workspace\s*=\s*true\s*\})`)
)

// Result describes what SetVersion did.
type Result int

const (
	Updated   Result = iota // the version field was rewritten
	Unchanged               // the field already held the version
	Inherited               // the package takes its version from the workspace
)

// SetVersion sets the version field of the TOML file at path. The first
// version declared in any of sections wins.
func SetVersion(path, version string, sections ...string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	out, res, err := setVersion(data, version, sections)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if res != Updated {
		return res, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return Updated, os.WriteFile(path, out, info.Mode().Perm())
}

func setVersion(data []byte, version string, sections []string) ([]byte, Result, error) {
	want := make(map[string]bool, len(sections))
	for _, s := range sections {
		want[s] = true
	}

	lines := bytes.SplitAfter(data, []byte("\n"))
	var table string
	for i, line := range lines {
		body := bytes.TrimRight(line, "\r\n")
		if m := tableRE.FindSubmatch(body); m != nil {
			table = string(bytes.TrimSpace(m[1]))
			continue
		}
		if !want[table] {
			continue
		}
		if inheritedRE.Match(body) {
			return data, Inherited, nil
		}
		m := versionRE.FindSubmatch(body)
		if m == nil {
			continue
		}
		nl := line[len(body):]
		replaced := append(append(append([]byte{}, m[1]...), strconv.Quote(version)...), m[2]...)
		if bytes.Equal(replaced, body) {
			return data, Unchanged, nil
		}
		lines[i] = append(replaced, nl...)
		return bytes.Join(lines, nil), Updated, nil
	}
	return nil, 0, ErrNoVersion
}
