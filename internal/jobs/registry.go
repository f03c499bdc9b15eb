package jobs

import (
	"context"
	"fmt"
	"sync"
)

// ErrJobActive means an execution unit for the job is still alive. Callers
// must wait for it to exit before relaunching.
type ErrJobActive struct {
	error
}

func NewErrJobActive(jobID uint) *ErrJobActive {
	return &ErrJobActive{fmt.Errorf("job %d already has an active execution unit", jobID)}
}

// handle tracks one running execution unit. done is closed when the unit's
// goroutine has fully exited, which is the only point a relaunch becomes
// safe.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// registry maps job ids to their active execution unit. A job keeps its slot
// until the goroutine exits, so a cancelled-but-still-draining job cannot be
// relaunched underneath itself.
type registry struct {
	mu      sync.Mutex
	running map[uint]*handle
}

func newRegistry() *registry {
	return &registry{running: make(map[uint]*handle)}
}

// begin claims the job's slot and returns the context the execution unit must
// honor. Fails with ErrJobActive when a unit already holds the slot.
func (r *registry) begin(jobID uint) (context.Context, *handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[jobID]; ok {
		return nil, nil, NewErrJobActive(jobID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	r.running[jobID] = h
	return ctx, h, nil
}

// finish releases the slot. Must be called exactly once by the execution
// unit's goroutine as it exits.
func (r *registry) finish(jobID uint, h *handle) {
	r.mu.Lock()
	delete(r.running, jobID)
	r.mu.Unlock()
	h.cancel()
	close(h.done)
}

// cancel signals the job's execution unit to stop at its next checkpoint.
// Returns false when no unit is active.
func (r *registry) cancel(jobID uint) bool {
	r.mu.Lock()
	h, ok := r.running[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// active reports whether an execution unit currently holds the job's slot.
func (r *registry) active(jobID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

// wait blocks until the job's execution unit exits, or returns immediately
// when none is active.
func (r *registry) wait(jobID uint) {
	r.mu.Lock()
	h, ok := r.running[jobID]
	r.mu.Unlock()
	if ok {
		<-h.done
	}
}
