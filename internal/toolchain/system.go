package toolchain

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// Apt installs cross-compiler packages on Debian-based hosts.
type Apt struct {
	X    Executor
	Sudo bool
}

// Install installs pkgs non-interactively.
func (a Apt) Install(ctx context.Context, pkgs ...string) error {
	args := append([]string{"install", "-y", "--no-install-recommends"}, pkgs...)
	c := Cmd{Name: "apt-get", Args: args, Env: []string{"DEBIAN_FRONTEND=noninteractive"}}
	if a.Sudo {
		c = Cmd{Name: "sudo", Args: append([]string{"apt-get"}, args...), Env: c.Env}
	}
	return a.X.Run(ctx, c)
}

// DefaultTimestampURL is the RFC 3161 server used when signing.
const DefaultTimestampURL = "http://timestamp.digicert.com"

// Signtool signs Windows binaries with a PFX certificate.
type Signtool struct {
	X            Executor
	TimestampURL string
}

// Sign signs file using a base64-encoded PFX certificate and its passphrase.
// The certificate is written to a private temporary file that is removed
// before Sign returns.
func (s Signtool) Sign(ctx context.Context, file, certBase64, password string) error {
	if certBase64 == "" {
		return fmt.Errorf("signtool: no certificate provided")
	}
	der, err := base64.StdEncoding.DecodeString(certBase64)
	if err != nil {
		return fmt.Errorf("signtool: decode certificate: %w", err)
	}
	dir, err := os.MkdirTemp("", "vvbuild-sign-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	pfx := filepath.Join(dir, "cert.pfx")
	if err := os.WriteFile(pfx, der, 0o600); err != nil {
		return err
	}

	ts := s.TimestampURL
	if ts == "" {
		ts = DefaultTimestampURL
	}
	return s.X.Run(ctx, Cmd{
		Name:    "signtool",
		Args:    []string{"sign", "/fd", "SHA256", "/td", "SHA256", "/tr", ts, "/f", pfx, "/p", password, file},
		Secrets: []string{password},
	})
}
