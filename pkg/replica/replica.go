// Package replica routes reads across a primary Postgres instance and its
// replicas according to a requested consistency level, and always sends
// writes to the primary. It probes replica health and replication lag on a
// background interval rather than on every request.
//
// Connections are plain database/sql (via the pgx stdlib driver) rather than
// pgxpool, so the router's logic can be exercised in tests against
// DATA-DOG/go-sqlmock, which only understands database/sql/driver.
package replica

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"time"

	moderrors "github.com/edgemesh/core/pkg/errors"
	"github.com/edgemesh/core/pkg/logging"
)

// Level is one of the four consistency levels a read request may request.
type Level string

const (
	LevelStrong           Level = "STRONG"
	LevelBoundedStaleness Level = "BOUNDED_STALENESS"
	LevelEventual         Level = "EVENTUAL"
	LevelSession          Level = "SESSION"
)

// ReadRequest parameterizes a read admission decision.
type ReadRequest struct {
	Level Level
	// MaxLag bounds acceptable replication lag for BOUNDED_STALENESS.
	MaxLag time.Duration
	// SessionWriteAt is the wall-clock time of the caller's last write, used
	// by SESSION to require replicas whose lag doesn't predate it.
	SessionWriteAt time.Time
}

// node is one database target the router can select, primary or replica.
type node struct {
	name       string
	db         *sql.DB
	weight     float64
	isPrimary  bool

	mu              sync.Mutex
	healthy         bool
	lag             time.Duration
	load            float64 // 0..1, derived from sql.DB.Stats() InUse/MaxOpenConnections
	consecutiveFail int
	consecutiveOK   int
}

func (n *node) snapshot() (healthy bool, lag time.Duration, load float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.healthy, n.lag, n.load
}

// Router selects a database target for each read or write.
type Router struct {
	primary  *node
	replicas []*node
	log      *logging.Logger

	mu  sync.Mutex
	rr  int // round-robin cursor used when every eligible score is zero
	rng *rand.Rand
}

// Config names the primary and replica connections to manage. Callers
// construct the *sql.DB values themselves (e.g. via
// sql.Open("pgx", url)) so tests can substitute sqlmock connections.
type Config struct {
	Primary  *sql.DB
	Replicas map[string]*sql.DB // name -> connection
	Weights  map[string]float64 // name -> base_weight, default 1.0
}

// New constructs a Router with all replicas initially marked healthy.
func New(cfg Config, log *logging.Logger) *Router {
	if log == nil {
		log = logging.Noop()
	}
	r := &Router{
		primary: &node{name: "primary", db: cfg.Primary, isPrimary: true, healthy: true, weight: 1},
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for name, db := range cfg.Replicas {
		w := cfg.Weights[name]
		if w <= 0 {
			w = 1
		}
		r.replicas = append(r.replicas, &node{name: name, db: db, healthy: true, weight: w})
	}
	return r
}

// Writer returns the primary connection, or a no-primary error if it is
// currently marked unhealthy.
func (r *Router) Writer() (*sql.DB, error) {
	healthy, _, _ := r.primary.snapshot()
	if !healthy {
		return nil, &moderrors.Error{Kind: moderrors.KindNoPrimary, Message: "primary is unhealthy"}
	}
	return r.primary.db, nil
}

// Reader selects a connection eligible for req, returning degraded=true if
// it had to fall back to the primary because no replica qualified.
func (r *Router) Reader(ctx context.Context, req ReadRequest) (db *sql.DB, degraded bool, err error) {
	eligible := r.eligibleReplicas(req)
	if len(eligible) == 0 {
		primaryHealthy, _, _ := r.primary.snapshot()
		if !primaryHealthy {
			return nil, false, &moderrors.Error{Kind: moderrors.KindNoPrimary, Message: "no healthy replica and primary is down"}
		}
		return r.primary.db, len(r.replicas) > 0, nil
	}
	return r.weightedPick(eligible).db, false, nil
}

func (r *Router) eligibleReplicas(req ReadRequest) []*node {
	var out []*node
	for _, n := range r.replicas {
		healthy, lag, _ := n.snapshot()
		if !healthy {
			continue
		}
		switch req.Level {
		case LevelStrong:
			continue
		case LevelBoundedStaleness:
			if req.MaxLag > 0 && lag > req.MaxLag {
				continue
			}
		case LevelSession:
			if !req.SessionWriteAt.IsZero() && time.Now().Add(-lag).Before(req.SessionWriteAt) {
				continue
			}
		case LevelEventual:
			// any healthy replica qualifies
		default:
			continue
		}
		out = append(out, n)
	}
	return out
}

// weightedPick draws among eligible at random, weighted by
// weight*(1-normalized_lag)*(1-load), falling back to round-robin when every
// score is zero.
func (r *Router) weightedPick(eligible []*node) *node {
	if len(eligible) == 1 {
		return eligible[0]
	}

	maxLag := time.Duration(0)
	for _, n := range eligible {
		_, lag, _ := n.snapshot()
		if lag > maxLag {
			maxLag = lag
		}
	}

	type scored struct {
		n     *node
		score float64
	}
	scores := make([]scored, 0, len(eligible))
	total := 0.0
	for _, n := range eligible {
		_, lag, load := n.snapshot()
		normLag := 0.0
		if maxLag > 0 {
			normLag = float64(lag) / float64(maxLag)
		}
		s := n.weight * (1 - normLag) * (1 - load)
		if s < 0 {
			s = 0
		}
		scores = append(scores, scored{n: n, score: s})
		total += s
	}

	if total <= 0 {
		r.mu.Lock()
		idx := r.rr % len(eligible)
		r.rr++
		r.mu.Unlock()
		return eligible[idx]
	}

	pick := r.rng.Float64() * total
	cum := 0.0
	for _, s := range scores {
		cum += s.score
		if pick <= cum {
			return s.n
		}
	}
	return scores[len(scores)-1].n
}

// Snapshot describes one node's health for the observability endpoint.
type Snapshot struct {
	Name      string
	IsPrimary bool
	Healthy   bool
	Lag       time.Duration
	Load      float64
}

// Status returns a snapshot of every managed node.
func (r *Router) Status() []Snapshot {
	out := make([]Snapshot, 0, len(r.replicas)+1)
	healthy, lag, load := r.primary.snapshot()
	out = append(out, Snapshot{Name: r.primary.name, IsPrimary: true, Healthy: healthy, Lag: lag, Load: load})
	for _, n := range r.replicas {
		h, l, ld := n.snapshot()
		out = append(out, Snapshot{Name: n.name, Healthy: h, Lag: l, Load: ld})
	}
	return out
}
