// Package config turns trigger inputs, secrets and flags into a Plan: the
// read-only description of a run shared by every build unit.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goplus/vvbuild/internal/version"
)

// Environment variable names.
const (
	EnvEventName   = "GITHUB_EVENT_NAME"
	EnvRefName     = "GITHUB_REF_NAME"
	EnvVersion     = "VVBUILD_VERSION"
	EnvSign        = "VVBUILD_SIGN"
	EnvPublish     = "VVBUILD_PUBLISH"
	EnvCertBase64  = "CERT_BASE64"
	EnvCertPass    = "CERT_PASSWORD"
	EnvGitHubToken = "GITHUB_TOKEN"
	EnvRepository  = "GITHUB_REPOSITORY"
)

// Secrets are operator-provided values that never appear in logs.
type Secrets struct {
	CertBase64   string
	CertPassword string
	GitHubToken  string
}

func (s Secrets) String() string { return "config.Secrets{redacted}" }

// Env is the raw configuration read from the environment before flags are
// applied.
type Env struct {
	Event       string
	Tag         string
	Version     string
	Sign        string
	PublishGate string
	Repository  string
	Secrets     Secrets
}

// Load reads Env using getenv (os.Getenv in production).
func Load(getenv func(string) string) Env {
	return Env{
		Event:       getenv(EnvEventName),
		Tag:         getenv(EnvRefName),
		Version:     getenv(EnvVersion),
		Sign:        getenv(EnvSign),
		PublishGate: getenv(EnvPublish),
		Repository:  getenv(EnvRepository),
		Secrets: Secrets{
			CertBase64:   getenv(EnvCertBase64),
			CertPassword: getenv(EnvCertPass),
			GitHubToken:  getenv(EnvGitHubToken),
		},
	}
}

// Plan is evaluated once at run start. Build units read its predicates and
// never re-derive them from the raw inputs.
type Plan struct {
	Version version.Version

	// PropagateVersion writes Version into package metadata.
	PropagateVersion bool
	// Publish uploads release assets.
	Publish bool
	// Sign signs Windows product libraries.
	Sign bool

	Repository string
	Secrets    Secrets
}

// NewPlan resolves the version and evaluates every run predicate. A malformed
// version is a configuration error.
func NewPlan(e Env) (*Plan, error) {
	v, err := version.Resolve(version.Inputs{Event: e.Event, Tag: e.Tag, Input: e.Version})
	if err != nil {
		return nil, fmt.Errorf("resolve version: %w", err)
	}
	p := &Plan{
		Version:          v,
		PropagateVersion: !v.IsDebug(),
		Publish:          !v.IsDebug() && Truthy(e.PublishGate),
		Sign:             Truthy(e.Sign),
		Repository:       e.Repository,
		Secrets:          e.Secrets,
	}
	return p, nil
}

// Truthy interprets a boolean-like gate value. Absent or unparsable values
// are false.
func Truthy(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}
