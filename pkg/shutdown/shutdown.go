// Package shutdown coordinates graceful teardown: components register
// callbacks, main runs them all with one timeout context.
package shutdown

import (
	"context"
	"sync"

	"github.com/pairbot/gopair/pkg/logger"
)

// Handler is one teardown callback. It must return when ctx expires.
type Handler func(ctx context.Context)

// Manager collects and runs shutdown callbacks.
type Manager struct {
	mu        sync.Mutex
	callbacks []Handler
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown registers a callback. Safe for concurrent use.
func (m *Manager) OnShutdown(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, handler)
}

// Shutdown runs all callbacks concurrently and blocks until they finish
// or ctx expires. Pass a context with a deadline.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}
	logger.Infof("shutting down, %d callbacks", len(callbacks))

	var wg sync.WaitGroup
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go func(handler Handler) {
			defer wg.Done()
			handler(ctx)
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-ctx.Done():
		logger.Warnf("shutdown timed out: %v", ctx.Err())
	}
}
