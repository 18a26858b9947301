package mirror

import (
	"context"
	"sync"
	"time"

	sglog "github.com/sourcegraph/log"
)

// Manager runs named, delay-parameterised drivers as goroutines and cancels
// them at shutdown. It is opaque to the engine.
type Manager struct {
	logger sglog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(logger sglog.Logger) *Manager {
	return &Manager{
		logger:  logger,
		cancels: map[string]context.CancelFunc{},
	}
}

// Register starts run under a context derived from ctx and remembers it by
// name. Registering a name twice cancels the earlier task first.
func (m *Manager) Register(ctx context.Context, name string, delay time.Duration, run func(context.Context, time.Duration)) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if prev, ok := m.cancels[name]; ok {
		prev()
	}
	m.cancels[name] = cancel
	m.mu.Unlock()

	m.logger.Info("registered task",
		sglog.String("name", name),
		sglog.Duration("delay", delay))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		run(ctx, delay)
	}()
}

// Cancel stops the named task. It reports whether the name was registered.
func (m *Manager) Cancel(name string) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[name]
	delete(m.cancels, name)
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every registered task and waits for them to return.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for name, cancel := range m.cancels {
		m.logger.Info("cancelling task", sglog.String("name", name))
		cancel()
	}
	m.cancels = map[string]context.CancelFunc{}
	m.mu.Unlock()
	m.wg.Wait()
}
