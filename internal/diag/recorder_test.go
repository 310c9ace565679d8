package diag

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opencover/merlin/internal/domain"
)

// recordingRepo captures saved diagnostics for assertions.
type recordingRepo struct {
	domain.Repository
	mu    sync.Mutex
	saved []*domain.Diagnostic
}

func (r *recordingRepo) SaveDiagnostic(ctx context.Context, d *domain.Diagnostic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, d)
	return nil
}

func (r *recordingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func (r *recordingRepo) first() *domain.Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return nil
	}
	return r.saved[0]
}

func TestRecorder(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	t.Run("RecordAndPersist", func(t *testing.T) {
		repo := &recordingRepo{}
		rec := NewRecorder(repo, nil, logger, 16)

		rec.Record("rating", domain.DiagKindNoMatch,
			map[string]string{"product_id": "warranty-12"},
			[]string{"currency mismatch"},
		)
		rec.Close()

		if repo.count() != 1 {
			t.Fatalf("expected 1 diagnostic, got %d", repo.count())
		}

		d := repo.first()
		if d.Component != "rating" {
			t.Errorf("expected component 'rating', got %s", d.Component)
		}
		if d.Kind != domain.DiagKindNoMatch {
			t.Errorf("expected kind %s, got %s", domain.DiagKindNoMatch, d.Kind)
		}
		if d.ID == "" {
			t.Error("expected generated diagnostic id")
		}
		if len(d.Input) == 0 || len(d.Detail) == 0 {
			t.Error("expected input and detail payloads")
		}
	})

	t.Run("CloseDrainsQueue", func(t *testing.T) {
		repo := &recordingRepo{}
		rec := NewRecorder(repo, nil, logger, 64)

		for i := 0; i < 20; i++ {
			rec.Record("assignment", domain.DiagKindValidation, i, "blank field")
		}
		rec.Close()

		if repo.count() != 20 {
			t.Errorf("expected 20 diagnostics after drain, got %d", repo.count())
		}
	})

	t.Run("RecordNeverBlocks", func(t *testing.T) {
		repo := &recordingRepo{}
		rec := NewRecorder(repo, nil, logger, 1)

		done := make(chan struct{})
		go func() {
			for i := 0; i < 1000; i++ {
				rec.Record("rating", domain.DiagKindNoMatch, i, "x")
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Record blocked under pressure")
		}
		rec.Close()
	})
}
