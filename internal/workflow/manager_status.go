package workflow

import (
	"context"

	"newsreel/internal/logging"
	"newsreel/internal/queue"
	"newsreel/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running        bool
	Tenant         string
	LastError      string
	Queue          queue.HealthSummary
	QuotaRemaining int
	StageHealth    map[string]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	m.mu.RUnlock()

	summary := StatusSummary{Running: running, Tenant: m.policy.ID()}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}

	health, err := m.store.Health(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue health", logging.Error(err))
	} else {
		summary.Queue = health
	}

	if m.ledger != nil && !m.policy.Shared() {
		remaining, err := m.ledger.Remaining(ctx, m.policy.ID())
		if err != nil {
			m.logger.Warn("failed to read quota remaining", logging.Error(err))
		} else {
			summary.QuotaRemaining = remaining
		}
	}

	summary.StageHealth = make(map[string]stage.Health, len(m.handlers))
	for _, handler := range m.handlers {
		summary.StageHealth[handler.Name()] = handler.HealthCheck(ctx)
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// Drain pumps every consumer until the event log is quiet. Tests and the
// manual retrigger paths use it to avoid waiting on poll tickers.
func (m *Manager) Drain(ctx context.Context) error {
	for {
		for _, consumer := range m.consumers {
			if err := consumer.Drain(ctx); err != nil {
				return err
			}
		}
		pending, err := m.pendingEvents(ctx)
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}
	}
}

func (m *Manager) pendingEvents(ctx context.Context) (bool, error) {
	for _, handler := range m.handlers {
		events, err := m.eventBus.NextEvents(ctx, handler.Group(), handler.Topic(), 1)
		if err != nil {
			return false, err
		}
		if len(events) > 0 {
			return true, nil
		}
	}
	return false, nil
}
