package replica

import (
	"context"
	"database/sql"
	"time"
)

const lagQuery = `SELECT extract(epoch FROM now() - pg_last_xact_replay_timestamp())`

// StartProbing runs background health checks for every replica (and the
// primary's plain reachability) every interval, until ctx is canceled.
func (r *Router) StartProbing(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.probeOnce(ctx)
			}
		}
	}()
}

func (r *Router) probeOnce(ctx context.Context) {
	r.probePrimary(ctx)
	for _, n := range r.replicas {
		r.probeReplica(ctx, n)
	}
}

func (r *Router) probePrimary(ctx context.Context) {
	ok := pingOK(ctx, r.primary.db)
	recordProbe(r.primary, ok, 0, loadFor(r.primary.db))
	if !ok {
		r.log.Warn("primary health probe failed", "node", r.primary.name)
	}
}

func (r *Router) probeReplica(ctx context.Context, n *node) {
	ok := pingOK(ctx, n.db)
	lag := time.Duration(0)
	if ok {
		if l, err := queryLag(ctx, n.db); err == nil {
			lag = l
		} else {
			ok = false
		}
	}
	recordProbe(n, ok, lag, loadFor(n.db))
	if !ok {
		r.log.Warn("replica health probe failed", "node", n.name)
	}
}

func pingOK(ctx context.Context, db *sql.DB) bool {
	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	return db.QueryRowContext(qctx, "SELECT 1").Scan(&one) == nil
}

func queryLag(ctx context.Context, db *sql.DB) (time.Duration, error) {
	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var seconds float64
	if err := db.QueryRowContext(qctx, lagQuery).Scan(&seconds); err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func loadFor(db *sql.DB) float64 {
	s := db.Stats()
	if s.MaxOpenConnections <= 0 {
		return 0
	}
	return float64(s.InUse) / float64(s.MaxOpenConnections)
}

// recordProbe applies the three-consecutive-failures-unhealthy,
// two-consecutive-successes-healthy hysteresis.
func recordProbe(n *node, ok bool, lag time.Duration, load float64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.lag = lag
	n.load = load

	if ok {
		n.consecutiveOK++
		n.consecutiveFail = 0
		if !n.healthy && n.consecutiveOK >= 2 {
			n.healthy = true
		}
	} else {
		n.consecutiveFail++
		n.consecutiveOK = 0
		if n.healthy && n.consecutiveFail >= 3 {
			n.healthy = false
		}
	}
}
