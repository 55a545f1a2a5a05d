//go:build !unix

package toolchain

import "os/exec"

// setProcessGroup keeps the default cancellation, which kills the direct
// child only.
func setProcessGroup(cmd *exec.Cmd) {}
