package alerts

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultReloadInterval is how often processors refresh their rule snapshot.
const DefaultReloadInterval = 60 * time.Second

// RuleSource loads the enabled rule set. Satisfied by *Store.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]Rule, error)
}

// Manager holds the live rule snapshot for a processor. Readers see an
// atomically swapped slice; a reload failure keeps the last good snapshot.
type Manager struct {
	source   RuleSource
	interval time.Duration
	rules    atomic.Pointer[[]Rule]
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(source RuleSource, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	m := &Manager{
		source:   source,
		interval: interval,
		logger:   slog.Default().With("component", "alerts.manager"),
	}
	empty := []Rule{}
	m.rules.Store(&empty)
	return m
}

// Rules returns the current snapshot. The returned slice must not be
// mutated.
func (m *Manager) Rules() []Rule {
	return *m.rules.Load()
}

// Reload fetches the enabled rules and swaps the snapshot.
func (m *Manager) Reload(ctx context.Context) error {
	rules, err := m.source.ListEnabled(ctx)
	if err != nil {
		return err
	}
	if rules == nil {
		rules = []Rule{}
	}
	m.rules.Store(&rules)
	return nil
}

// Start loads an initial snapshot and launches the periodic refresh loop.
func (m *Manager) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	if err := m.Reload(ctx); err != nil {
		m.logger.Error("Initial alert rule load failed, starting with empty rule set", "error", err)
	}

	go m.run(ctx)

	m.logger.Info("Alert rule manager started",
		"rules", len(m.Rules()),
		"reload_interval", m.interval)
}

// Stop signals the refresh loop to exit and waits for it to finish.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.logger.Info("Alert rule manager stopped")
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Reload(ctx); err != nil {
				m.logger.Error("Alert rule reload failed, keeping last snapshot",
					"error", err,
					"rules", len(m.Rules()))
			}
		}
	}
}
