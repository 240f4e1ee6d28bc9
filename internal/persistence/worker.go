package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"HedgeVault/internal/observability"
	"HedgeVault/internal/vault"
)

// Worker drains the vault's output channel and writes it to Postgres.
// Epoch checkpoints arrive on blocking sends, so a stalled database stalls
// settlement instead of losing a boundary; plain events are batched and
// flushed on size or timeout.
type Worker struct {
	store        *CheckpointStore
	inputs       <-chan vault.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputs <-chan vault.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		store:        NewCheckpointStore(db),
		inputs:       inputs,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run blocks until ctx is cancelled or the input channel closes, flushing
// any buffered events on the way out.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]vault.Event, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flushEvents(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final event flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputs:
			if !ok {
				if len(batch) > 0 {
					if err := w.flushEvents(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Msg("final event flush failed")
					}
				}
				return nil
			}

			if out.Checkpoint != nil {
				w.writeCheckpointWithRetry(ctx, out.Checkpoint)
			}
			batch = append(batch, out.Event)
			if len(batch) >= w.batchSize {
				if err := w.flushEvents(ctx, batch); err != nil {
					w.log.Error().Err(err).Int("events", len(batch)).Msg("event flush failed, batch dropped")
					w.metrics.CheckpointErrors.WithLabelValues("events").Inc()
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushEvents(ctx, batch); err != nil {
					w.log.Error().Err(err).Int("events", len(batch)).Msg("event flush failed, batch dropped")
					w.metrics.CheckpointErrors.WithLabelValues("events").Inc()
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// writeCheckpointWithRetry retries with exponential backoff until the
// checkpoint lands or the context is cancelled. Checkpoints are the
// audit spine of the vault and are never dropped; the insert itself is
// idempotent, so a retry after an ambiguous failure is safe.
func (w *Worker) writeCheckpointWithRetry(ctx context.Context, cp *vault.Checkpoint) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				if err := w.writeCheckpoint(context.Background(), cp); err != nil {
					w.log.Error().Err(err).Int64("epoch", int64(cp.Epoch)).
						Msg("checkpoint write failed during shutdown")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.writeCheckpoint(ctx, cp)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt+1).Int64("epoch", int64(cp.Epoch)).
					Msg("checkpoint write succeeded after retries")
			}
			return
		}

		w.metrics.CheckpointErrors.WithLabelValues("write").Inc()
		w.log.Warn().Err(err).Int("attempt", attempt).Int64("epoch", int64(cp.Epoch)).
			Dur("backoff", backoff).Msg("checkpoint write failed, retrying")
	}
}

func (w *Worker) writeCheckpoint(ctx context.Context, cp *vault.Checkpoint) error {
	start := time.Now()
	if err := w.store.WriteCheckpoint(ctx, cp); err != nil {
		return err
	}
	w.metrics.CheckpointsWritten.Inc()
	w.metrics.CheckpointWriteDur.Observe(time.Since(start).Seconds())
	return nil
}

func (w *Worker) flushEvents(ctx context.Context, events []vault.Event) error {
	return w.store.WriteEvents(ctx, events)
}

// Store exposes the underlying store for recovery reads at startup.
func (w *Worker) Store() *CheckpointStore {
	return w.store
}
