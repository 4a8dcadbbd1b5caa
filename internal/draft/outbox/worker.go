package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config tunes the publishing worker.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}

// EventPublisher delivers one outbox record to the event stream.
type EventPublisher interface {
	Publish(ctx context.Context, record Record) error
}

// RecordStore is the worker's view of the outbox table.
type RecordStore interface {
	FetchUnsent(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, ids []uuid.UUID) error
}

// Worker polls the outbox and publishes unsent records. Delivery is at
// least once; the publisher's message id dedupes redeliveries.
type Worker struct {
	store     RecordStore
	publisher EventPublisher
	config    Config
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(store RecordStore, publisher EventPublisher, cfg Config, logger *slog.Logger) *Worker {
	return &Worker{
		store:     store,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("outbox worker started",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize))

	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	w.logger.Info("outbox worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on start
	w.processOutbox(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		}
	}
}

func (w *Worker) processOutbox(ctx context.Context) {
	records, err := w.store.FetchUnsent(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to fetch unsent records", slog.String("error", err.Error()))
		return
	}
	if len(records) == 0 {
		return
	}

	w.logger.Debug("processing outbox records", slog.Int("count", len(records)))

	var sent, failed []uuid.UUID
	for _, rec := range records {
		if err := w.publishWithRetry(ctx, rec); err != nil {
			w.logger.Error("failed to publish record",
				slog.String("record_id", rec.ID.String()),
				slog.String("event_type", rec.EventType),
				slog.String("error", err.Error()))
			failed = append(failed, rec.ID)
			continue
		}
		sent = append(sent, rec.ID)
	}

	if err := w.store.MarkSent(ctx, sent, time.Now().UTC()); err != nil {
		w.logger.Error("failed to mark records sent", slog.String("error", err.Error()))
		return
	}
	if err := w.store.MarkFailed(ctx, failed); err != nil {
		w.logger.Error("failed to mark records failed", slog.String("error", err.Error()))
		return
	}

	w.logger.Info("processed outbox records",
		slog.Int("total", len(records)),
		slog.Int("successful", len(sent)))
}

func (w *Worker) publishWithRetry(ctx context.Context, rec Record) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := w.publisher.Publish(ctx, rec); err != nil {
			lastErr = err
			w.logger.Warn("failed to publish record, retrying",
				slog.String("record_id", rec.ID.String()),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}

		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}
