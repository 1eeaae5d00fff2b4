// Package circuitbreaker implements a CLOSED/OPEN/HALF_OPEN circuit breaker
// with a ramped half-open admission probability and jittered reset, per
// downstream call target.
//
// sony/gobreaker was considered (its Settings/Counts/OnStateChange shape is
// the model this breaker's API follows) but its half-open state admits
// exactly MaxRequests probes with no way to express a probability that
// ramps up as probes succeed, and it has no hook for per-open-event jitter.
// Both are required here, so the state machine is hand-rolled instead.
package circuitbreaker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is one of the breaker's three admission states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes one breaker instance.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive or windowed failures that trip the breaker
	FailureRate      float64       // fraction of the window that must fail to trip, once Window samples are seen
	Window           int           // size of the rolling outcome window used for FailureRate
	SuccessThreshold int           // consecutive half-open successes needed to close
	ResetTimeout     time.Duration // base time spent OPEN before probing moves to HALF_OPEN
	MaxJitter        time.Duration // uniform random jitter added to ResetTimeout per open event
	CallTimeout      time.Duration // per-call timeout enforced around the wrapped function
	IsExcluded       func(error) bool // errors that should bypass the breaker's accounting entirely
	OnStateChange    func(name string, from, to State)
}

// DefaultConfig returns sane defaults for a named breaker.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		FailureRate:      0.5,
		Window:           10,
		SuccessThreshold: 2,
		ResetTimeout:     2 * time.Second,
		MaxJitter:        500 * time.Millisecond,
		CallTimeout:      2 * time.Second,
	}
}

// ErrOpen is returned when a call is rejected because the breaker is OPEN
// or a HALF_OPEN probe slot was not granted.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker is a single named circuit breaker instance.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	outcomes        []bool // rolling window, true = success
	consecutiveFail int
	halfOpenSuccess int
	openedAt        time.Time
	nextProbeAt     time.Time
	rng             *rand.Rand
}

// New constructs a Breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 2 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// State reports the breaker's current state, resolving an OPEN state whose
// reset timeout has elapsed into HALF_OPEN as a side effect, matching the
// lazy transition gobreaker itself uses (no background timer).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen()
	return b.state
}

func (b *Breaker) maybeTransitionToHalfOpen() {
	if b.state == StateOpen && !time.Now().Before(b.nextProbeAt) {
		b.setState(StateHalfOpen)
		b.halfOpenSuccess = 0
	}
}

// Execute runs fn if the breaker currently admits a call, enforcing
// CallTimeout via ctx, and updates breaker state from the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	err := fn(callCtx)

	if err != nil && b.cfg.IsExcluded != nil && b.cfg.IsExcluded(err) {
		return err
	}

	b.recordOutcome(err == nil)
	return err
}

// admit decides whether a call may proceed, granting HALF_OPEN probes with
// a probability that ramps up as consecutive half-open successes
// accumulate: min(0.1*(successes+1), 1.0).
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeTransitionToHalfOpen()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		prob := min(0.1*float64(b.halfOpenSuccess+1), 1.0)
		if b.rng.Float64() < prob {
			return nil
		}
		return ErrOpen
	default:
		return ErrOpen
	}
}

func (b *Breaker) recordOutcome(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		if success {
			b.halfOpenSuccess++
			if b.halfOpenSuccess >= b.cfg.SuccessThreshold {
				b.setState(StateClosed)
				b.outcomes = nil
				b.consecutiveFail = 0
			}
		} else {
			b.trip()
		}
		return
	case StateOpen:
		return
	}

	b.outcomes = append(b.outcomes, success)
	if len(b.outcomes) > b.cfg.Window {
		b.outcomes = b.outcomes[len(b.outcomes)-b.cfg.Window:]
	}

	if success {
		b.consecutiveFail = 0
		return
	}
	b.consecutiveFail++

	if b.consecutiveFail >= b.cfg.FailureThreshold {
		b.trip()
		return
	}
	if len(b.outcomes) >= b.cfg.Window {
		failures := 0
		for _, o := range b.outcomes {
			if !o {
				failures++
			}
		}
		if float64(failures)/float64(len(b.outcomes)) >= b.cfg.FailureRate {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.setState(StateOpen)
	b.openedAt = time.Now()
	b.nextProbeAt = b.openedAt.Add(b.jitteredResetTimeout())
}

// jitteredResetTimeout uses cenkalti/backoff's exponential backoff purely
// for its randomization: a single NextBackOff() call off an interval
// centered on ResetTimeout+MaxJitter/2 and randomized by MaxJitter/2 either
// way, which yields ResetTimeout plus a uniform jitter in [0, MaxJitter], so
// many breakers tripping at once don't all probe in lockstep.
func (b *Breaker) jitteredResetTimeout() time.Duration {
	if b.cfg.MaxJitter <= 0 {
		return b.cfg.ResetTimeout
	}
	half := b.cfg.MaxJitter / 2
	center := b.cfg.ResetTimeout + half
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = center
	eb.RandomizationFactor = float64(half) / float64(center)
	eb.Multiplier = 1
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb.NextBackOff()
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
