package toolchain

import (
	"context"
	"sync"
)

// recorder implements Executor by recording commands instead of running them.
type recorder struct {
	mu   sync.Mutex
	cmds []Cmd
	err  error
}

func (r *recorder) Run(ctx context.Context, c Cmd) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, c)
	return r.err
}

func (r *recorder) last() Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cmds) == 0 {
		return Cmd{}
	}
	return r.cmds[len(r.cmds)-1]
}
