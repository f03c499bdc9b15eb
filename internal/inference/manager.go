package inference

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Manager owns the shared backend instance. Leases grant access to a backend
// loaded with the requested weights; when the weights path changes the swap
// waits until every outstanding lease is released, unloads the old instance
// and builds a fresh one. Jobs holding leases against the same weights run
// concurrently.
type Manager struct {
	factory BackendFactory
	log     *zap.SugaredLogger

	mu          sync.Mutex
	cond        *sync.Cond
	backend     Backend
	weightsPath string
	leases      int
}

func NewManager(factory BackendFactory, log *zap.SugaredLogger) *Manager {
	m := &Manager{factory: factory, log: log}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lease is a held reference to the shared backend. Release it when the job
// finishes; the backend stays loaded for the next lease on the same weights.
type Lease struct {
	m       *Manager
	backend Backend

	once sync.Once
}

func (l *Lease) Backend() Backend { return l.backend }

func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.mu.Lock()
		l.m.leases--
		l.m.mu.Unlock()
		l.m.cond.Broadcast()
	})
}

// Acquire returns a lease on a backend loaded per opts. Load is invoked on
// every acquire so implementations can verify readiness; it must be a no-op
// when already loaded with the same options. Acquire blocks while leases on a
// different weights path drain, and honors ctx cancellation while waiting.
func (m *Manager) Acquire(ctx context.Context, opts LoadOptions) (*Lease, error) {
	// Wake waiters when the context is cancelled so the wait loop can
	// observe ctx.Err.
	stop := context.AfterFunc(ctx, m.cond.Broadcast)
	defer stop()

	m.mu.Lock()
	for m.backend != nil && m.weightsPath != opts.WeightsPath && m.leases > 0 {
		if err := ctx.Err(); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	if m.backend != nil && m.weightsPath != opts.WeightsPath {
		m.log.Infow("swapping model weights", "from", m.weightsPath, "to", opts.WeightsPath)
		m.backend.Unload()
		m.backend = nil
	}
	if m.backend == nil {
		m.backend = m.factory()
		m.weightsPath = opts.WeightsPath
	}
	backend := m.backend
	m.leases++
	m.mu.Unlock()

	if err := backend.Load(ctx, opts); err != nil {
		m.mu.Lock()
		m.leases--
		m.mu.Unlock()
		m.cond.Broadcast()
		return nil, NewErrLoad(opts.WeightsPath, err)
	}
	return &Lease{m: m, backend: backend}, nil
}
