package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestManagerDisabledStillRunsOperation(t *testing.T) {
	m, err := New(context.Background(), Config{ServiceName: "test", Enabled: false})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ran := false
	err = m.TraceOperation(context.Background(), "op", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("trace operation: %v", err)
	}
	if !ran {
		t.Fatal("expected wrapped function to run")
	}

	snap, ok := m.Profiles().Snapshot("op")
	if !ok || snap.Count != 1 {
		t.Fatalf("expected one recorded sample, got %+v ok=%v", snap, ok)
	}
}

func TestManagerRecordsErrorInProfile(t *testing.T) {
	m, _ := New(context.Background(), Config{ServiceName: "test", Enabled: false})

	wantErr := errors.New("boom")
	err := m.TraceOperation(context.Background(), "failing-op", func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error to propagate, got %v", err)
	}

	snap, ok := m.Profiles().Snapshot("failing-op")
	if !ok || snap.Errors != 1 {
		t.Fatalf("expected error to be recorded, got %+v", snap)
	}
}

func TestProfileStoreSnapshotPercentiles(t *testing.T) {
	store := NewProfileStore()
	for i := 1; i <= 100; i++ {
		store.Record("op", time.Duration(i)*time.Millisecond, false)
	}

	snap, ok := store.Snapshot("op")
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if snap.Count != 100 {
		t.Fatalf("expected 100 samples, got %d", snap.Count)
	}
	if snap.P50 < 45*time.Millisecond || snap.P50 > 55*time.Millisecond {
		t.Fatalf("unexpected p50: %v", snap.P50)
	}
	if snap.Max != 100*time.Millisecond {
		t.Fatalf("unexpected max: %v", snap.Max)
	}
}

func TestTraceIDAsFractionIsDeterministic(t *testing.T) {
	var id oteltrace.TraceID
	for i := range id {
		id[i] = byte(i * 7)
	}
	a := traceIDAsFraction(id)
	b := traceIDAsFraction(id)
	if a != b {
		t.Fatalf("expected deterministic fraction, got %v and %v", a, b)
	}
	if a < 0 || a >= 1 {
		t.Fatalf("expected fraction in [0,1), got %v", a)
	}
}
