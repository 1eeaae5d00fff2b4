// Package consensus implements the swarm-style quality consensus evaluator:
// voters submit weighted, confidence-scored opinions on a subject and one of
// six strategies collapses them into a single result with an agreement
// score and any detected minority opinions.
package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgemesh/core/pkg/logging"
)

// ErrUnknownConsensus is returned when an operation references a consensus
// ID that was never started or has already been finalized and pruned.
var ErrUnknownConsensus = errors.New("consensus: unknown consensus id")

// ErrIneligibleVoter is returned when a vote is submitted by a voter id that
// was never registered with the engine.
var ErrIneligibleVoter = errors.New("consensus: voter not registered")

// ErrDuplicateVote is returned when a voter submits a second vote on the
// same consensus.
var ErrDuplicateVote = errors.New("consensus: voter has already voted")

// Strategy selects how votes collapse into a final result.
type Strategy string

const (
	SimpleMajority     Strategy = "simple_majority"
	WeightedMajority   Strategy = "weighted_majority"
	Unanimous          Strategy = "unanimous"
	ThresholdBased     Strategy = "threshold_based"
	ConfidenceWeighted Strategy = "confidence_weighted"
	DomainWeighted     Strategy = "domain_weighted"
)

// Vote is one voter's opinion on a consensus subject.
type Vote struct {
	VoterID        string
	Value          any
	Confidence     float64
	Weight         float64
	Reasoning      string
	ExpertiseAreas []string
	Timestamp      time.Time
}

// Voter is a registered participant, weighted per vote by its base weight
// and a reliability factor maintained by a background EMA updater.
type Voter struct {
	ID             string
	BaseWeight     float64
	ExpertiseAreas []string

	mu          sync.Mutex
	reliability float64 // clamped to [0.1, 2.0]
}

func newVoter(id string, baseWeight float64, expertise []string) *Voter {
	if baseWeight <= 0 {
		baseWeight = 1.0
	}
	return &Voter{ID: id, BaseWeight: baseWeight, ExpertiseAreas: expertise, reliability: 1.0}
}

func (v *Voter) currentReliability() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reliability
}

// Config tunes the engine's default voting behavior; Strategy and Timeout
// can be overridden per-consensus via StartOptions.
type Config struct {
	Strategy           Strategy
	MinimumVotes       int
	Timeout            time.Duration
	ConfidenceThreshold float64 // defaulted to 0.7 but not read: THRESHOLD_BASED always uses 0.7
	AgreementThreshold  float64 // defaulted to 0.6 but not read: THRESHOLD_BASED always uses 0.6
	ConflictThreshold   float64 // defaulted to 0.4 but not read: conflict detection always uses 0.4
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = WeightedMajority
	}
	if c.MinimumVotes <= 0 {
		c.MinimumVotes = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.AgreementThreshold <= 0 {
		c.AgreementThreshold = 0.6
	}
	if c.ConflictThreshold <= 0 {
		c.ConflictThreshold = 0.4
	}
	return c
}

// StartOptions overrides engine defaults for a single consensus.
type StartOptions struct {
	Strategy Strategy
	Timeout  time.Duration
}

// process is one in-flight or completed consensus round.
type process struct {
	id        string
	kind      string
	subject   any
	context   map[string]string
	strategy  Strategy
	minVotes  int
	startedAt time.Time
	deadline  time.Time

	mu     sync.Mutex
	votes  []Vote
	result *Result
}

// Engine tracks registered voters and runs consensus rounds.
type Engine struct {
	cfg Config
	log *logging.Logger

	mu        sync.Mutex
	voters    map[string]*Voter
	processes map[string]*process
	history   []*Result
}

// New constructs an Engine.
func New(cfg Config, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Noop()
	}
	return &Engine{
		cfg:       cfg.withDefaults(),
		log:       log,
		voters:    make(map[string]*Voter),
		processes: make(map[string]*process),
	}
}

// RegisterVoter adds or replaces a voter's profile.
func (e *Engine) RegisterVoter(id string, baseWeight float64, expertiseAreas []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voters[id] = newVoter(id, baseWeight, expertiseAreas)
}

// Start opens a new consensus round and returns its id.
func (e *Engine) Start(kind string, subject any, context map[string]string, opts StartOptions) string {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = e.cfg.Strategy
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}

	now := time.Now()
	id := generateID(kind, subject, now)

	p := &process{
		id:        id,
		kind:      kind,
		subject:   subject,
		context:   context,
		strategy:  strategy,
		minVotes:  e.cfg.MinimumVotes,
		startedAt: now,
		deadline:  now.Add(timeout),
	}

	e.mu.Lock()
	e.processes[id] = p
	e.mu.Unlock()

	e.log.Info("consensus started", "id", id, "kind", kind, "strategy", string(strategy))
	return id
}

// Vote appends a vote to an open consensus, in the order it was received.
// Per-consensus append order equals arrival order, and result computation
// always observes exactly the votes appended before it runs.
func (e *Engine) Vote(id, voterID string, value any, confidence float64, reasoning string) error {
	e.mu.Lock()
	p, ok := e.processes[id]
	voter, voterOK := e.voters[voterID]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownConsensus
	}
	if !voterOK {
		return ErrIneligibleVoter
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.votes {
		if v.VoterID == voterID {
			return ErrDuplicateVote
		}
	}

	p.votes = append(p.votes, Vote{
		VoterID:        voterID,
		Value:          value,
		Confidence:     confidence,
		Weight:         voter.BaseWeight * voter.currentReliability(),
		Reasoning:      reasoning,
		ExpertiseAreas: voter.ExpertiseAreas,
		Timestamp:      time.Now(),
	})
	return nil
}

// Result computes (if not already computed) and returns the final result
// for id, once the minimum vote count has arrived or the consensus's
// deadline has passed.
func (e *Engine) Result(id string) (*Result, error) {
	e.mu.Lock()
	p, ok := e.processes[id]
	e.mu.Unlock()
	if !ok {
		return nil, ErrUnknownConsensus
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.result != nil {
		return p.result, nil
	}

	if len(p.votes) < p.minVotes && time.Now().Before(p.deadline) {
		return nil, fmt.Errorf("consensus %s: awaiting votes (%d/%d)", id, len(p.votes), p.minVotes)
	}

	result := compute(p)
	p.result = result

	e.mu.Lock()
	e.history = append(e.history, result)
	e.mu.Unlock()

	e.log.Info("consensus finalized", "id", id, "agreement", result.AgreementLevel, "confidence", result.Confidence)
	e.updateReliability(p, result)

	return result, nil
}

func generateID(kind string, subject any, now time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%v|%d", kind, subject, now.UnixNano())
	return kind + "-" + hex.EncodeToString(h.Sum(nil))[:16]
}
