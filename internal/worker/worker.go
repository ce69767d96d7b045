package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenvest/engine/internal/accrual"
	"github.com/havenvest/engine/internal/logger"
	"github.com/havenvest/engine/internal/queue"
)

// Worker consumes dispatched investment ids and runs accrual on them.
type Worker struct {
	id     string
	queue  *queue.Client
	runner *accrual.Runner
	logger zerolog.Logger

	// stopped is set from the manager's scaling goroutine and read in the
	// consume loop.
	stopped atomic.Bool
}

// NewWorker creates a queue consumer.
func NewWorker(id string, queueClient *queue.Client, runner *accrual.Runner, baseLogger zerolog.Logger) *Worker {
	return &Worker{
		id:     id,
		queue:  queueClient,
		runner: runner,
		logger: logger.WithWorker(baseLogger, id),
	}
}

// Start runs the consume loop until the context is cancelled or Stop is
// called.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker received shutdown signal")
			return ctx.Err()
		default:
			if w.stopped.Load() {
				w.logger.Info().Msg("worker stopped")
				return nil
			}

			if err := w.processNext(ctx); err != nil {
				w.logger.Error().Err(err).Msg("failed to process investment")

				// brief pause to avoid tight error loops
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Stop signals the worker to exit after its current item.
func (w *Worker) Stop() {
	w.stopped.Store(true)
}

func (w *Worker) processNext(ctx context.Context) error {
	id, err := w.queue.PopInvestment(ctx)
	if err != nil {
		return err
	}
	if id == 0 {
		// empty queue, back off before polling again
		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	if err := w.queue.SetInFlight(ctx, id, w.id); err != nil {
		w.logger.Error().Err(err).Uint("investment_id", id).Msg("failed to mark investment in-flight")
		if requeueErr := w.queue.PushInvestment(ctx, id, time.Now()); requeueErr != nil {
			w.logger.Error().Err(requeueErr).Uint("investment_id", id).Msg("failed to requeue untracked investment")
		}
		return err
	}

	log := logger.WithInvestment(w.logger, id)
	started := time.Now()
	err = w.runner.ProcessInvestment(ctx, id)
	duration := time.Since(started)

	if removeErr := w.queue.RemoveInFlight(ctx, id); removeErr != nil {
		log.Error().Err(removeErr).Msg("failed to clear in-flight mark")
	}

	switch {
	case err == nil:
		log.Debug().Dur("duration", duration).Msg("investment accrued")
		return nil
	case errors.Is(err, accrual.ErrNotClaimed):
		// another runner already advanced the window
		log.Debug().Msg("accrual window already claimed")
		return nil
	default:
		return fmt.Errorf("accrual processing failed: %w", err)
	}
}
