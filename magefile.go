//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target to run when none is specified.
var Default = Build

// Build compiles vvbuild into bin/.
func Build() error {
	mg.Deps(Vet)
	out := filepath.Join("bin", "vvbuild")
	if os.Getenv("GOOS") == "windows" {
		out += ".exe"
	}
	return sh.RunV("go", "build", "-trimpath", "-o", out, "./cmd/vvbuild")
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Vet runs go vet.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Clean removes build output.
func Clean() error {
	return sh.Rm("bin")
}
