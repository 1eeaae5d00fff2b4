package consensus

import (
	"context"
	"time"
)

const (
	reliabilityAlpha = 0.3
	reliabilityMin    = 0.1
	reliabilityMax    = 2.0
)

// updateReliability runs after a consensus finalizes, nudging each
// participating voter's reliability toward how well their stated confidence
// matched the outcome. The signal is 0.5 plus the vote's confidence when it
// agreed with the final result, or 0.5 plus (1 - confidence) when it did
// not, so a confident correct vote or an unconfident wrong one gives a
// signal above 1.0, and a confident wrong vote or an unconfident correct
// one gives a signal below 1.0. Reliability moves toward the signal by an
// EMA (α=0.3) and is clamped to [0.1, 2.0]. Nothing is updated when the
// result has no final value.
func (e *Engine) updateReliability(p *process, result *Result) {
	if result.FinalResult == nil {
		return
	}
	finalKey := valueKey(result.FinalResult)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, v := range p.votes {
		voter, ok := e.voters[v.VoterID]
		if !ok {
			continue
		}

		agreed := valueKey(v.Value) == finalKey
		observed := v.Confidence
		if !agreed {
			observed = 1 - v.Confidence
		}
		// observed is in [0,1]; rescale around 1.0 so a perfectly-confident
		// correct vote pushes reliability up and a confidently wrong one
		// pushes it down.
		signal := 0.5 + observed // in [0.5, 1.5]

		voter.mu.Lock()
		voter.reliability = reliabilityAlpha*signal + (1-reliabilityAlpha)*voter.reliability
		if voter.reliability < reliabilityMin {
			voter.reliability = reliabilityMin
		}
		if voter.reliability > reliabilityMax {
			voter.reliability = reliabilityMax
		}
		voter.mu.Unlock()
	}
}

// Reliability returns a voter's current reliability factor, or 1.0 if the
// voter is unregistered.
func (e *Engine) Reliability(voterID string) float64 {
	e.mu.Lock()
	voter, ok := e.voters[voterID]
	e.mu.Unlock()
	if !ok {
		return 1.0
	}
	return voter.currentReliability()
}

// StartReliabilityTrend runs a periodic sweep over recent consensus history,
// on top of the immediate per-result update applied by Result. Each sweep
// takes the last 20 results, computes the slope as the mean agreement level
// of the newer half minus that of the older half, and moves every registered
// voter's reliability toward 1.0+slope by the same EMA. The slope is one
// engine-wide value; it is not computed per voter. This is the slow,
// trend-sensitive half of the composite reliability signal; the immediate
// update is the fast, per-vote half.
func (e *Engine) StartReliabilityTrend(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.applyReliabilityTrend()
			}
		}
	}()
}

func (e *Engine) applyReliabilityTrend() {
	e.mu.Lock()
	defer e.mu.Unlock()

	const window = 20
	recent := e.history
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	if len(recent) < 2 {
		return
	}

	half := len(recent) / 2
	older := mean(agreementLevels(recent[:half]))
	newer := mean(agreementLevels(recent[half:]))
	slope := newer - older // positive: agreement improving

	for _, voter := range e.voters {
		voter.mu.Lock()
		voter.reliability = reliabilityAlpha*(1.0+slope) + (1-reliabilityAlpha)*voter.reliability
		if voter.reliability < reliabilityMin {
			voter.reliability = reliabilityMin
		}
		if voter.reliability > reliabilityMax {
			voter.reliability = reliabilityMax
		}
		voter.mu.Unlock()
	}
}

func agreementLevels(results []*Result) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.AgreementLevel
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
