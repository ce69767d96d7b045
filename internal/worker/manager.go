// Package worker runs the engine's background machinery: the accrual
// dispatch loop feeding a dynamically sized consumer pool, and the
// transaction retry loop.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/havenvest/engine/internal/accrual"
	"github.com/havenvest/engine/internal/config"
	"github.com/havenvest/engine/internal/metrics"
	"github.com/havenvest/engine/internal/queue"
	"github.com/havenvest/engine/internal/retry"
	"github.com/havenvest/engine/internal/store"
)

const (
	scalingInterval    = 30 * time.Second
	monitoringInterval = time.Minute
	stuckCheckInterval = 5 * time.Minute
	stuckTimeout       = 15 * time.Minute
)

// Manager owns the scheduler loops and a pool of accrual workers scaled to
// the queue depth.
type Manager struct {
	config      config.Config
	queue       *queue.Client
	runner      *accrual.Runner
	retrier     *retry.Processor
	investments store.InvestmentStore
	workers     []*Worker
	logger      zerolog.Logger
	mutex       sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	eg          *errgroup.Group
	stopped     bool
}

// NewManager wires the background machinery together.
func NewManager(
	cfg config.Config,
	queueClient *queue.Client,
	runner *accrual.Runner,
	retrier *retry.Processor,
	investments store.InvestmentStore,
	logger zerolog.Logger,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	return &Manager{
		config:      cfg,
		queue:       queueClient,
		runner:      runner,
		retrier:     retrier,
		investments: investments,
		workers:     make([]*Worker, 0),
		logger:      logger.With().Str("component", "worker_manager").Logger(),
		ctx:         egCtx,
		cancel:      cancel,
		eg:          eg,
	}
}

// Start launches the loops and the initial worker pool.
func (m *Manager) Start() error {
	m.logger.Info().
		Int("min_workers", m.config.MinWorkers).
		Int("max_workers", m.config.MaxWorkers).
		Dur("accrual_interval", m.config.AccrualInterval).
		Dur("retry_interval", m.config.RetryInterval).
		Msg("starting worker manager")

	if err := m.adjustWorkerCount(); err != nil {
		return fmt.Errorf("failed to start initial workers: %w", err)
	}

	m.eg.Go(m.runAccrualDispatch)
	m.eg.Go(m.runRetryLoop)
	m.eg.Go(m.runScalingLoop)
	m.eg.Go(m.runStuckRecovery)
	m.eg.Go(m.runMonitoring)

	m.logger.Info().Msg("worker manager started")
	return nil
}

// Stop shuts the loops and workers down, waiting up to 30 seconds.
func (m *Manager) Stop() error {
	m.mutex.Lock()
	if m.stopped {
		m.mutex.Unlock()
		return nil
	}
	m.stopped = true
	m.mutex.Unlock()

	m.logger.Info().Msg("stopping worker manager")
	m.cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.eg.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			m.logger.Error().Err(err).Msg("error during shutdown")
		}
	case <-time.After(30 * time.Second):
		m.logger.Warn().Msg("shutdown timed out")
	}

	m.mutex.Lock()
	m.workers = nil
	m.mutex.Unlock()

	metrics.WorkersActive.Set(0)
	m.logger.Info().Msg("worker manager stopped")
	return nil
}

// runAccrualDispatch periodically queues every investment whose accrual
// window is due. The queue deduplicates ids and the claim write makes
// duplicate dispatch harmless.
func (m *Manager) runAccrualDispatch() error {
	// dispatch once at startup so a restart doesn't wait a full interval
	if err := m.dispatchDue(); err != nil {
		m.logger.Error().Err(err).Msg("initial accrual dispatch failed")
	}

	ticker := time.NewTicker(m.config.AccrualInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			if err := m.dispatchDue(); err != nil {
				m.logger.Error().Err(err).Msg("accrual dispatch failed")
			}
		}
	}
}

func (m *Manager) dispatchDue() error {
	due, err := m.investments.ListDue(m.ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to list due investments: %w", err)
	}
	for i := range due {
		if err := m.queue.PushInvestment(m.ctx, due[i].ID, due[i].NextAccrualAt); err != nil {
			return err
		}
	}
	if len(due) > 0 {
		m.logger.Info().Int("queued", len(due)).Msg("due investments dispatched")
	}
	return nil
}

func (m *Manager) runRetryLoop() error {
	ticker := time.NewTicker(m.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			if err := m.retrier.Run(m.ctx); err != nil {
				m.logger.Error().Err(err).Msg("retry pass failed")
			}
		}
	}
}

func (m *Manager) runScalingLoop() error {
	ticker := time.NewTicker(scalingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			if err := m.adjustWorkerCount(); err != nil {
				m.logger.Error().Err(err).Msg("failed to adjust worker count")
			}
		}
	}
}

// adjustWorkerCount scales the pool to the queue depth.
func (m *Manager) adjustWorkerCount() error {
	queueLength, err := m.queue.QueueLength(m.ctx)
	if err != nil {
		return fmt.Errorf("failed to get queue length: %w", err)
	}
	metrics.AccrualQueueLength.Set(float64(queueLength))

	desired := m.calculateDesiredWorkers(int(queueLength))

	m.mutex.Lock()
	current := len(m.workers)
	m.mutex.Unlock()

	if desired == current {
		return nil
	}

	m.logger.Info().
		Int("current_workers", current).
		Int("desired_workers", desired).
		Int64("queue_length", queueLength).
		Msg("adjusting worker count")

	if desired > current {
		m.addWorkers(desired - current)
		return nil
	}
	m.removeWorkers(current - desired)
	return nil
}

// calculateDesiredWorkers targets one worker per ten queued investments,
// bounded by the configured pool size.
func (m *Manager) calculateDesiredWorkers(queueLength int) int {
	desired := queueLength / 10
	if desired < m.config.MinWorkers {
		desired = m.config.MinWorkers
	}
	if desired > m.config.MaxWorkers {
		desired = m.config.MaxWorkers
	}
	return desired
}

func (m *Manager) addWorkers(count int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i := 0; i < count; i++ {
		workerID := fmt.Sprintf("worker-%d", len(m.workers)+1)
		w := NewWorker(workerID, m.queue, m.runner, m.logger)

		m.eg.Go(func() error {
			return w.Start(m.ctx)
		})
		m.workers = append(m.workers, w)
	}

	metrics.WorkersActive.Set(float64(len(m.workers)))
	m.logger.Info().Int("added", count).Int("total_workers", len(m.workers)).Msg("workers added")
}

func (m *Manager) removeWorkers(count int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if count > len(m.workers) {
		count = len(m.workers)
	}
	for _, w := range m.workers[len(m.workers)-count:] {
		w.Stop()
	}
	m.workers = m.workers[:len(m.workers)-count]

	metrics.WorkersActive.Set(float64(len(m.workers)))
	m.logger.Info().Int("removed", count).Int("remaining_workers", len(m.workers)).Msg("workers removed")
}

// runStuckRecovery requeues investments whose worker died mid-flight.
func (m *Manager) runStuckRecovery() error {
	ticker := time.NewTicker(stuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			if err := m.queue.RequeueStuck(m.ctx, stuckTimeout); err != nil {
				m.logger.Error().Err(err).Msg("failed to requeue stuck investments")
			}
		}
	}
}

func (m *Manager) runMonitoring() error {
	ticker := time.NewTicker(monitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			queueLength, err := m.queue.QueueLength(m.ctx)
			if err != nil {
				m.logger.Error().Err(err).Msg("failed to get queue length")
				continue
			}
			inFlight, err := m.queue.InFlight(m.ctx)
			if err != nil {
				m.logger.Error().Err(err).Msg("failed to get in-flight investments")
				continue
			}

			m.mutex.RLock()
			activeWorkers := len(m.workers)
			m.mutex.RUnlock()

			m.logger.Info().
				Int64("queue_length", queueLength).
				Int("in_flight", len(inFlight)).
				Int("active_workers", activeWorkers).
				Msg("queue stats")
		}
	}
}

// Stats reports the manager's current state for admin tooling.
func (m *Manager) Stats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	queueLength, _ := m.queue.QueueLength(context.Background())
	inFlight, _ := m.queue.InFlight(context.Background())

	return map[string]interface{}{
		"active_workers": len(m.workers),
		"queue_length":   queueLength,
		"in_flight":      len(inFlight),
		"min_workers":    m.config.MinWorkers,
		"max_workers":    m.config.MaxWorkers,
	}
}
