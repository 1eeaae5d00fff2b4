package loadbalancer

import (
	"context"
	"time"

	"github.com/edgemesh/core/pkg/logging"
)

// ScaleHint is the capacity manager's non-prescriptive signal: it never
// scales anything itself, only reports that a region looks over- or
// under-utilized.
type ScaleHint struct {
	RegionCode string
	Utilization float64 // load/capacity, 0..1+
	ScaleUp     bool     // utilization > 0.8
	ScaleDown   bool     // utilization < 0.2
}

// CapacityManager computes per-region utilization on a fixed interval and
// emits scale hints via onHint; it does not scale anything itself.
type CapacityManager struct {
	regions []*Region
	onHint  func(ScaleHint)
	log     *logging.Logger
}

// NewCapacityManager constructs a CapacityManager over regions.
func NewCapacityManager(regions []*Region, onHint func(ScaleHint), log *logging.Logger) *CapacityManager {
	if log == nil {
		log = logging.Noop()
	}
	return &CapacityManager{regions: regions, onHint: onHint, log: log}
}

// Start runs the 60-second evaluation loop until ctx is canceled.
func (m *CapacityManager) Start(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evaluate()
			}
		}
	}()
}

func (m *CapacityManager) evaluate() {
	for _, r := range m.regions {
		if r.CapacityRPS <= 0 {
			continue
		}
		util := r.load() / r.CapacityRPS
		hint := ScaleHint{RegionCode: r.Code, Utilization: util, ScaleUp: util > 0.8, ScaleDown: util < 0.2}
		if hint.ScaleUp {
			m.log.Warn("region over 80% capacity", "region", r.Code, "utilization", util)
		} else if hint.ScaleDown {
			m.log.Info("region under 20% capacity", "region", r.Code, "utilization", util)
		}
		if m.onHint != nil {
			m.onHint(hint)
		}
	}
}
