package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	moderrors "github.com/edgemesh/core/pkg/errors"
	"github.com/edgemesh/core/pkg/store"
)

// failingStore always returns ErrUnavailable from EvalTokenBucket, used to
// exercise the fail-open/fail-closed branches without a real backend.
type failingStore struct{ store.Store }

func (failingStore) EvalTokenBucket(ctx context.Context, key string, rps float64, burst int, now time.Time) (bool, int, error) {
	return false, 0, &store.ErrUnavailable{Op: "eval", Err: errors.New("connection refused")}
}
func (failingStore) Close() error { return nil }

func TestLimiterAdmitsWithinBurst(t *testing.T) {
	l := New(Config{Default: Rule{RequestsPerSecond: 10, Burst: 5}}, store.NewMemoryStore(), nil)

	now := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		d, err := l.Allow(context.Background(), "caller-a", "", now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("expected request %d to be admitted", i)
		}
	}

	d, err := l.Allow(context.Background(), "caller-a", "", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected burst to be exhausted")
	}
	if d.RetryAfter <= 0 {
		t.Fatal("expected a positive retry-after when rejected")
	}
}

func TestLimiterEndpointOverrideIsLeastPermissive(t *testing.T) {
	l := New(Config{
		Default:   Rule{RequestsPerSecond: 100, Burst: 100},
		Endpoints: map[string]Rule{"/expensive": {RequestsPerSecond: 1, Burst: 1}},
	}, store.NewMemoryStore(), nil)

	now := time.Unix(2000, 0)
	d, err := l.Allow(context.Background(), "caller-b", "/expensive", now)
	if err != nil || !d.Allowed {
		t.Fatalf("expected first call admitted, got %+v err=%v", d, err)
	}

	d, err = l.Allow(context.Background(), "caller-b", "/expensive", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected endpoint override to cap burst at 1")
	}
}

func TestLimiterFailsOpenByDefault(t *testing.T) {
	l := New(Config{Default: Rule{RequestsPerSecond: 1, Burst: 1}}, failingStore{}, nil)

	d, err := l.Allow(context.Background(), "caller-c", "", time.Now())
	if err == nil {
		t.Fatal("expected an error describing the degraded decision")
	}
	var me *moderrors.Error
	if !errors.As(err, &me) || me.Kind != moderrors.KindRateLimitStoreUnavailable {
		t.Fatalf("expected KindRateLimitStoreUnavailable, got %v", err)
	}
	if !d.Allowed || !d.Degraded {
		t.Fatalf("expected fail-open admission, got %+v", d)
	}
}

func TestLimiterFailsClosedWhenConfigured(t *testing.T) {
	l := New(Config{Default: Rule{RequestsPerSecond: 1, Burst: 1}, FailClosed: true}, failingStore{}, nil)

	d, err := l.Allow(context.Background(), "caller-d", "", time.Now())
	if err == nil {
		t.Fatal("expected an error describing the degraded decision")
	}
	if d.Allowed {
		t.Fatal("expected fail-closed configuration to reject the call")
	}
}

func TestLimiterStatsTracksAllowedAndDenied(t *testing.T) {
	l := New(Config{Default: Rule{RequestsPerSecond: 10, Burst: 1}}, store.NewMemoryStore(), nil)
	now := time.Unix(3000, 0)

	_, _ = l.Allow(context.Background(), "caller-e", "", now)
	_, _ = l.Allow(context.Background(), "caller-e", "", now)

	stats := l.Stats()
	if stats.Allowed != 1 || stats.Denied != 1 {
		t.Fatalf("expected 1 allowed and 1 denied, got %+v", stats)
	}
}
