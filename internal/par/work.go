// Package par runs independent work items with bounded parallelism.
package par

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicError is reported for an item whose function panicked. One item
// panicking never takes down the others.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Work manages a set of work items to be executed in parallel, at most once
// each. The items in the set must all be valid map keys.
type Work[T comparable] struct {
	f       func(context.Context, T) error
	running int // total number of runners

	mu      sync.Mutex
	added   map[T]bool
	todo    []T // items yet to be run, in insertion order
	errs    map[T]error
	wait    sync.Cond // wait when todo is empty
	waiting int       // number of runners waiting for todo
}

func (w *Work[T]) init() {
	if w.added == nil {
		w.added = make(map[T]bool)
		w.errs = make(map[T]error)
	}
}

// Add adds item to the work set, if it hasn't already been added.
func (w *Work[T]) Add(item T) {
	w.mu.Lock()
	w.init()
	if !w.added[item] {
		w.added[item] = true
		w.todo = append(w.todo, item)
		if w.waiting > 0 {
			w.wait.Signal()
		}
	}
	w.mu.Unlock()
}

// Do runs f on every item in the set, with at most n invocations running at
// a time, and returns the non-nil errors by item. Items start in the order
// they were added; f may add new items. Do should only be used once on a
// given Work.
//
// Items still queued when ctx is done are not started; their error is
// ctx.Err().
func (w *Work[T]) Do(ctx context.Context, n int, f func(context.Context, T) error) map[T]error {
	if n < 1 {
		panic("par.Work.Do: n < 1")
	}
	if w.running >= 1 {
		panic("par.Work.Do: already called Do")
	}

	w.mu.Lock()
	w.init()
	w.running = n
	w.f = f
	w.wait.L = &w.mu
	w.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < n-1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runner(ctx)
		}()
	}
	w.runner(ctx)
	wg.Wait()
	return w.errs
}

// runner executes work in w until both nothing is left to do
// and all the runners are waiting for work.
func (w *Work[T]) runner(ctx context.Context) {
	for {
		w.mu.Lock()
		for len(w.todo) == 0 {
			w.waiting++
			if w.waiting == w.running {
				// All done.
				w.wait.Broadcast()
				w.mu.Unlock()
				return
			}
			w.wait.Wait()
			w.waiting--
		}
		item := w.todo[0]
		w.todo = w.todo[1:]
		w.mu.Unlock()

		var err error
		if err = ctx.Err(); err == nil {
			err = w.call(ctx, item)
		}
		if err != nil {
			w.mu.Lock()
			w.errs[item] = err
			w.mu.Unlock()
		}
	}
}

func (w *Work[T]) call(ctx context.Context, item T) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return w.f(ctx, item)
}
