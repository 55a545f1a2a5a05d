// Package toolchain wraps the external tools a build unit drives: rustup,
// cargo, cbindgen, maturin, apt-get and signtool. Each is an opaque
// subprocess; this package only knows how to invoke them.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/goplus/vvbuild/internal/ctxlog"
)

// Cmd describes one external command invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	Env  []string // KEY=VALUE pairs added to the inherited environment

	// Secrets are argument values masked when the command is printed.
	Secrets []string
}

func (c Cmd) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a
		for _, s := range c.Secrets {
			if s != "" && a == s {
				args[i] = "***"
			}
		}
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(args, " "))
}

// Executor runs commands. Implementations must be safe for concurrent use;
// every build unit shares one.
type Executor interface {
	Run(ctx context.Context, c Cmd) error
}

// CommandError is returned when a command exits unsuccessfully. Output holds
// the tail of its combined stdout/stderr.
type CommandError struct {
	Cmd    Cmd
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("%s: %v\n\nOutput:\n%s", e.Cmd, e.Err, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }

// maxOutput bounds the output kept in a CommandError.
const maxOutput = 4 << 10

// waitDelay bounds how long a cancelled command may take to exit after its
// process group was signalled.
const waitDelay = 10 * time.Second

// Exec runs commands as real subprocesses.
type Exec struct{}

// Run executes c, logging its output at debug level. Cancelling ctx
// terminates the command's whole process group.
func (Exec) Run(ctx context.Context, c Cmd) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("exec", "cmd", c.String(), "dir", c.Dir)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if logger.Enabled(ctx, slog.LevelDebug) && out.Len() > 0 {
		logger.Debug("exec output", "cmd", c.Name, "output", out.String())
	}
	if err != nil {
		return &CommandError{Cmd: c, Output: tail(out.String(), maxOutput), Err: err}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// Check verifies that every named tool is on PATH.
func Check(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required tools not found in PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}
