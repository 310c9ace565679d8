// Package diag records failure diagnostics off the request path.
//
// Validation failures and no-match outcomes are appended to the
// diagnostics log so operators can see which inputs fell through the
// configuration. Recording is best-effort: entries are queued on a
// buffered channel and dropped on overflow, and persistence errors are
// logged, never returned to the caller.
package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencover/merlin/internal/domain"
)

// Recorder buffers diagnostics and persists them on a background
// goroutine.
type Recorder struct {
	repo   domain.Repository
	bus    domain.EventBus
	logger *slog.Logger

	entries chan *domain.Diagnostic
	done    chan struct{}
	once    sync.Once
}

// NewRecorder creates a recorder with the given buffer size and starts
// its consumer. bus may be nil.
func NewRecorder(repo domain.Repository, bus domain.EventBus, logger *slog.Logger, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		repo:    repo,
		bus:     bus,
		logger:  logger,
		entries: make(chan *domain.Diagnostic, bufferSize),
		done:    make(chan struct{}),
	}
	go r.consume()
	return r
}

// Record queues a diagnostic entry. The input and detail are marshalled
// here so the caller's values can mutate freely afterwards. Never
// blocks: on a full buffer the entry is dropped and counted in the log.
func (r *Recorder) Record(component, kind string, input, detail any) {
	inputRaw, err := json.Marshal(input)
	if err != nil {
		r.logger.Warn("diagnostic input not serializable", "component", component, "error", err)
		return
	}
	detailRaw, err := json.Marshal(detail)
	if err != nil {
		r.logger.Warn("diagnostic detail not serializable", "component", component, "error", err)
		return
	}

	entry := &domain.Diagnostic{
		ID:        uuid.New().String(),
		Component: component,
		Kind:      kind,
		Input:     inputRaw,
		Detail:    detailRaw,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case r.entries <- entry:
	default:
		r.logger.Warn("diagnostic buffer full, entry dropped",
			"component", component,
			"kind", kind,
		)
	}
}

func (r *Recorder) consume() {
	defer close(r.done)

	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := r.repo.SaveDiagnostic(ctx, entry); err != nil {
			r.logger.Warn("failed to persist diagnostic",
				"component", entry.Component,
				"kind", entry.Kind,
				"error", err,
			)
		}

		if r.bus != nil {
			payload, err := json.Marshal(entry)
			if err == nil {
				_ = r.bus.Publish(ctx, domain.TopicDiagnosticRecorded, payload)
			}
		}

		cancel()
	}
}

// Close drains and stops the recorder. Entries already queued are
// persisted before Close returns.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.entries)
		<-r.done
	})
}
