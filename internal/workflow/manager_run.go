package workflow

import (
	"context"
	"errors"
	"time"

	"newsreel/internal/bus"
	"newsreel/internal/logging"
)

// observeInterval is how often the manager refreshes the queue gauges.
const observeInterval = 15 * time.Second

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.consumers) == 0 {
		m.mu.Unlock()
		return errors.New("workflow consumers not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(len(m.consumers) + 1)
	if m.admitter != nil {
		m.wg.Add(1)
	}
	m.mu.Unlock()

	if m.watcher != nil {
		if err := m.watcher.Start(runCtx); err != nil {
			m.logger.Warn("ingest watcher unavailable, relying on periodic scans",
				logging.Error(err))
		}
	}

	for _, consumer := range m.consumers {
		go m.runConsumer(runCtx, consumer)
	}
	if m.admitter != nil {
		go m.runAdmission(runCtx)
	}
	go m.runObserver(runCtx)

	m.logger.Info("workflow started",
		logging.String(logging.FieldTenant, m.policy.ID()),
		logging.Int("consumers", len(m.consumers)))
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

func (m *Manager) runConsumer(ctx context.Context, consumer *bus.Consumer) {
	defer m.wg.Done()
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.setLastError(err)
		m.logger.Error("consumer exited", logging.Error(err))
	}
}

func (m *Manager) runAdmission(ctx context.Context) {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.Workflow.AdmissionIntervalSeconds) * time.Second
	var wake <-chan struct{}
	if m.watcher != nil {
		wake = m.watcher.Wake()
	}
	if err := m.admitter.Run(ctx, interval, wake); err != nil && !errors.Is(err, context.Canceled) {
		m.setLastError(err)
		m.logger.Error("admission loop exited", logging.Error(err))
	}
}

// runObserver keeps the per-status gauges fresh.
func (m *Manager) runObserver(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(observeInterval)
	defer ticker.Stop()

	for {
		summary, err := m.store.Health(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("queue health read failed", logging.Error(err))
		} else {
			m.metrics.ObserveQueue(summary)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
