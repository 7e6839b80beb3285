package api

import (
	"context"
	"testing"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/errs"
	"github.com/odinmarkets/dna-pipeline/internal/storage"
)

func TestCancelRunUnknownIDReturnsCancelledKind(t *testing.T) {
	a := New(nil, nil)
	env := a.CancelRun("does-not-exist")
	if env.ErrorKind != errs.Cancelled {
		t.Fatalf("expected errs.Cancelled for an unknown run_id, got %v", env.ErrorKind)
	}
}

func TestGetBarsWithoutStoreReturnsStoreIOError(t *testing.T) {
	a := New(nil, nil)
	now := time.Now().UTC()
	env := a.GetBars(context.Background(), "AAPL", "1m", now.Add(-time.Hour), now, storage.Filters{})
	if env.ErrorKind != errs.StoreIOError {
		t.Fatalf("expected errs.StoreIOError when no store is configured, got %v", env.ErrorKind)
	}
}

func TestPipelineStatusEmptyWhenNoRuns(t *testing.T) {
	a := New(nil, nil)
	env := a.PipelineStatus()
	statuses, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any data, got %T", env.Data)
	}
	if len(statuses) != 0 {
		t.Fatalf("expected no runs before any RunPipeline call, got %d", len(statuses))
	}
}
