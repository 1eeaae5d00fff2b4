package replica

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRouterWriterReflectsPrimaryHealth(t *testing.T) {
	primary := newMockDB(t)
	r := New(Config{Primary: primary}, nil)

	if _, err := r.Writer(); err != nil {
		t.Fatalf("expected primary writer to be healthy initially: %v", err)
	}

	r.primary.mu.Lock()
	r.primary.healthy = false
	r.primary.mu.Unlock()

	if _, err := r.Writer(); err == nil {
		t.Fatal("expected writer to fail once primary is unhealthy")
	}
}

func TestRouterStrongLevelNeverUsesReplica(t *testing.T) {
	primary := newMockDB(t)
	replica := newMockDB(t)
	r := New(Config{Primary: primary, Replicas: map[string]*sql.DB{"r1": replica}}, nil)

	db, degraded, err := r.Reader(context.Background(), ReadRequest{Level: LevelStrong})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db != primary {
		t.Fatal("expected STRONG reads to always use the primary")
	}
	if !degraded {
		t.Fatal("expected degraded=true when falling back to primary despite a healthy replica existing")
	}
}

func TestRouterEventualUsesHealthyReplica(t *testing.T) {
	primary := newMockDB(t)
	replica := newMockDB(t)
	r := New(Config{Primary: primary, Replicas: map[string]*sql.DB{"r1": replica}}, nil)

	db, degraded, err := r.Reader(context.Background(), ReadRequest{Level: LevelEventual})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db != replica {
		t.Fatal("expected EVENTUAL to pick the healthy replica")
	}
	if degraded {
		t.Fatal("did not expect a degraded read when a replica is healthy")
	}
}

func TestRouterBoundedStalenessExcludesLaggingReplica(t *testing.T) {
	primary := newMockDB(t)
	replica := newMockDB(t)
	r := New(Config{Primary: primary, Replicas: map[string]*sql.DB{"r1": replica}}, nil)
	r.replicas[0].lag = 10 * time.Second

	db, _, err := r.Reader(context.Background(), ReadRequest{Level: LevelBoundedStaleness, MaxLag: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db != primary {
		t.Fatal("expected a lagging replica to be excluded, falling back to primary")
	}
}

func TestRecordProbeHysteresis(t *testing.T) {
	n := &node{healthy: true}

	for i := 0; i < 3; i++ {
		recordProbe(n, false, 0, 0)
	}
	if n.healthy {
		t.Fatal("expected node to be marked unhealthy after three consecutive failures")
	}

	recordProbe(n, true, 0, 0)
	if n.healthy {
		t.Fatal("expected a single success not to restore health")
	}

	recordProbe(n, true, 0, 0)
	if !n.healthy {
		t.Fatal("expected two consecutive successes to restore health")
	}
}

func TestRouterAllUnhealthyFallsBackToPrimary(t *testing.T) {
	primary := newMockDB(t)
	replica := newMockDB(t)
	r := New(Config{Primary: primary, Replicas: map[string]*sql.DB{"r1": replica}}, nil)
	r.replicas[0].healthy = false

	db, degraded, err := r.Reader(context.Background(), ReadRequest{Level: LevelEventual})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db != primary || !degraded {
		t.Fatalf("expected degraded fallback to primary, got db=%v degraded=%v", db, degraded)
	}
}
