package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/logging"
)

// Manager runs cleanup steps when the process stops. Steps run one at a
// time in reverse registration order, so a component is stopped before
// anything it depends on.
type Manager struct {
	logger       *logging.Logger
	timeout      time.Duration
	steps        []step
	mu           sync.Mutex
	shutdownOnce sync.Once
	done         chan struct{}
	err          error
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

type step struct {
	name string
	fn   ShutdownFunc
}

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	return &Manager{
		logger:  cfg.Logger.WithComponent("shutdown"),
		timeout: cfg.Timeout,
		done:    make(chan struct{}),
	}
}

// RegisterFunc registers a shutdown function to be called during shutdown
func (m *Manager) RegisterFunc(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug().Str("step", name).Msg("Registered shutdown function")
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// Component represents a component that can be gracefully shut down
type Component interface {
	Stop(context.Context) error
	Name() string
}

// RegisterComponent registers a component for graceful shutdown
func (m *Manager) RegisterComponent(component Component) {
	m.RegisterFunc(component.Name(), component.Stop)
}

// Shutdown runs every registered step once, sharing one timeout. Later
// calls return the first call's result.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		m.err = m.performShutdown()
		close(m.done)
	})
	<-m.done
	return m.err
}

func (m *Manager) performShutdown() error {
	m.mu.Lock()
	steps := append([]step(nil), m.steps...)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("functions", len(steps)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]

		if ctx.Err() != nil {
			m.logger.Warn().Str("step", s.name).Msg("Shutdown timed out, skipping step")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, ctx.Err()))
			continue
		}

		if err := s.fn(ctx); err != nil {
			m.logger.Error().Err(err).Str("step", s.name).Msg("Shutdown function failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		m.logger.Debug().Str("step", s.name).Msg("Shutdown function completed")
	}

	if len(errs) > 0 {
		m.logger.Warn().Int("errors", len(errs)).Msg("Graceful shutdown completed with errors")
		return errors.Join(errs...)
	}

	m.logger.Info().Msg("Graceful shutdown completed successfully")
	return nil
}

// Done returns a channel that is closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
