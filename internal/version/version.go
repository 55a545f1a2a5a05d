// Package version resolves the single release version a run builds and
// publishes.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Debug is the sentinel used when no version was supplied. It disables all
// publishing.
const Debug = "DEBUG"

// Kind is the form of a resolved version.
type Kind int

const (
	KindDebug Kind = iota
	KindStable
	KindPreview
)

func (k Kind) String() string {
	switch k {
	case KindStable:
		return "stable"
	case KindPreview:
		return "preview"
	default:
		return "debug"
	}
}

// ErrMalformed is returned when a tag or operator input does not match the
// stable or preview grammar.
var ErrMalformed = errors.New("malformed version")

// ConfigError reports an unusable version input. It is fatal: the run aborts
// before any build starts.
type ConfigError struct {
	Source string // "tag" or "input"
	Value  string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Source, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

var (
	stableRE  = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)
	previewRE = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+-preview\.[0-9]+$`)
)

// Version is an immutable resolved release version.
type Version struct {
	s    string
	kind Kind
}

// Parse validates s against the stable (A.BB.C) or preview
// (A.BB.C-preview.D) grammar. The literal "DEBUG" parses to the sentinel.
func Parse(s string) (Version, error) {
	switch {
	case s == Debug:
		return Version{s: Debug, kind: KindDebug}, nil
	case stableRE.MatchString(s):
		if !semver.IsValid("v" + s) {
			return Version{}, ErrMalformed
		}
		return Version{s: s, kind: KindStable}, nil
	case previewRE.MatchString(s):
		if !semver.IsValid("v" + s) {
			return Version{}, ErrMalformed
		}
		return Version{s: s, kind: KindPreview}, nil
	}
	return Version{}, ErrMalformed
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("version: %q: %v", s, err))
	}
	return v
}

// String returns the version exactly as written in release names and the
// VERSION stamp file.
func (v Version) String() string {
	if v.s == "" {
		return Debug
	}
	return v.s
}

func (v Version) Kind() Kind { return v.kind }

// IsDebug reports whether v is the sentinel. The zero Version is the sentinel.
func (v Version) IsDebug() bool { return v.kind == KindDebug }

// Prerelease reports whether the release for v is marked as a prerelease.
// Every published version is, stable ones included.
func (v Version) Prerelease() bool { return !v.IsDebug() }

// PackageVersion returns the extension package version for a backend
// local-version suffix: "<version>+<suffix>".
func (v Version) PackageVersion(suffix string) string {
	if suffix == "" {
		return v.String()
	}
	return v.String() + "+" + suffix
}

// Trigger events that carry a version.
const (
	EventRelease  = "release"
	EventDispatch = "workflow_dispatch"
)

// Inputs are the raw version sources of a run, in priority order.
type Inputs struct {
	Event string // trigger kind, e.g. "release"
	Tag   string // release tag, used only for release events
	Input string // operator-supplied version
}

// Resolve produces exactly one Version: the release tag for release events,
// else the operator input, else the sentinel.
func Resolve(in Inputs) (Version, error) {
	if in.Event == EventRelease && in.Tag != "" {
		return parseFrom("tag", in.Tag)
	}
	if s := strings.TrimSpace(in.Input); s != "" {
		return parseFrom("input", s)
	}
	return Version{s: Debug, kind: KindDebug}, nil
}

// parseFrom parses a present input. The sentinel is never a valid input: it
// only stands for the absence of one.
func parseFrom(source, s string) (Version, error) {
	if s == Debug {
		return Version{}, &ConfigError{Source: source, Value: s, Err: ErrMalformed}
	}
	v, err := Parse(s)
	if err != nil {
		return Version{}, &ConfigError{Source: source, Value: s, Err: err}
	}
	return v, nil
}
