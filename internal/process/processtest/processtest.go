// Package processtest provides an in-memory process.Runner for tests.
package processtest

import (
	"os"
	"sync"
	"time"

	"camstream/internal/process"
)

// Runner records every Spec it is asked to start and hands out Handles that
// behave according to Configure.
type Runner struct {
	// StartErr, when set, is consulted before each start; a non-nil result
	// is returned instead of a handle.
	StartErr func(spec process.Spec) error
	// Configure is called with every new handle before Start returns.
	Configure func(spec process.Spec, h *Handle)

	mu      sync.Mutex
	nextPID int
	specs   []process.Spec
	handles []*Handle
}

func (r *Runner) Start(spec process.Spec) (process.Handle, error) {
	if r.StartErr != nil {
		if err := r.StartErr(spec); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.nextPID++
	h := &Handle{pid: 1000 + r.nextPID, Spec: spec, done: make(chan struct{})}
	r.specs = append(r.specs, spec)
	r.handles = append(r.handles, h)
	r.mu.Unlock()

	if r.Configure != nil {
		r.Configure(spec, h)
	}
	return h, nil
}

// Specs returns the started specs in order.
func (r *Runner) Specs() []process.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]process.Spec(nil), r.specs...)
}

// Handles returns the handed-out handles in start order.
func (r *Runner) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Handle(nil), r.handles...)
}

// Handle is a fake process. By default it runs until terminated or killed.
type Handle struct {
	Spec process.Spec
	// IgnoreTerminate makes the process survive Terminate; only Kill ends it.
	IgnoreTerminate bool
	// OnExit runs once, just before the process is reported as exited.
	OnExit func()

	pid        int
	done       chan struct{}
	once       sync.Once
	mu         sync.Mutex
	terminated bool
	killed     bool
}

// ExitAfter makes the process exit on its own after d.
func (h *Handle) ExitAfter(d time.Duration) {
	time.AfterFunc(d, h.exit)
}

func (h *Handle) PID() int {
	return h.pid
}

func (h *Handle) Terminate() error {
	if h.exited() {
		return os.ErrProcessDone
	}
	h.mu.Lock()
	h.terminated = true
	h.mu.Unlock()
	if !h.IgnoreTerminate {
		h.exit()
	}
	return nil
}

func (h *Handle) Kill() error {
	if h.exited() {
		return os.ErrProcessDone
	}
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	h.exit()
	return nil
}

func (h *Handle) Wait(timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Terminated reports whether Terminate was called while the process ran.
func (h *Handle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// Killed reports whether Kill was called while the process ran.
func (h *Handle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) exit() {
	h.once.Do(func() {
		if h.OnExit != nil {
			h.OnExit()
		}
		close(h.done)
	})
}
