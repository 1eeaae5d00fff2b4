package consensus

import (
	"testing"
	"time"
)

func newTestEngine(strategy Strategy) *Engine {
	return New(Config{Strategy: strategy, MinimumVotes: 3, Timeout: time.Minute}, nil)
}

func registerVoters(e *Engine, ids ...string) {
	for _, id := range ids {
		e.RegisterVoter(id, 1.0, nil)
	}
}

func TestSimpleMajorityPicksMode(t *testing.T) {
	e := newTestEngine(SimpleMajority)
	registerVoters(e, "a", "b", "c")

	id := e.Start("quality_validation", "lesson-1", nil, StartOptions{})
	mustVote(t, e, id, "a", true, 0.9)
	mustVote(t, e, id, "b", true, 0.8)
	mustVote(t, e, id, "c", false, 0.7)

	res, err := e.Result(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalResult != true {
		t.Fatalf("expected majority true, got %v", res.FinalResult)
	}
}

func TestWeightedMajorityFavorsHigherWeight(t *testing.T) {
	e := newTestEngine(WeightedMajority)
	e.RegisterVoter("expert", 2.5, nil)
	e.RegisterVoter("a", 1.0, nil)
	e.RegisterVoter("b", 1.0, nil)

	id := e.Start("content_approval", "doc-9", nil, StartOptions{})
	mustVote(t, e, id, "a", "reject", 1.0)
	mustVote(t, e, id, "b", "reject", 1.0)
	mustVote(t, e, id, "expert", "approve", 1.0)

	res, err := e.Result(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalResult != "approve" {
		t.Fatalf("expected the heavily-weighted expert vote to win, got %v", res.FinalResult)
	}
}

func TestUnanimousRequiresFullAgreement(t *testing.T) {
	e := newTestEngine(Unanimous)
	registerVoters(e, "a", "b", "c")

	id := e.Start("technical_correctness", "pr-4", nil, StartOptions{})
	mustVote(t, e, id, "a", "ok", 1.0)
	mustVote(t, e, id, "b", "ok", 1.0)
	mustVote(t, e, id, "c", "not-ok", 1.0)

	res, err := e.Result(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalResult != nil {
		t.Fatalf("expected no consensus, got %v", res.FinalResult)
	}
	if res.Confidence != 0 {
		t.Fatalf("expected zero confidence on disagreement, got %v", res.Confidence)
	}
}

func TestThresholdBasedDiscardsLowConfidenceVotes(t *testing.T) {
	e := newTestEngine(ThresholdBased)
	registerVoters(e, "a", "b", "c")

	id := e.Start("quality_validation", "lesson-2", nil, StartOptions{})
	mustVote(t, e, id, "a", "pass", 0.9)
	mustVote(t, e, id, "b", "pass", 0.95)
	mustVote(t, e, id, "c", "fail", 0.1) // below the 0.7 confidence threshold

	res, err := e.Result(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalResult != "pass" {
		t.Fatalf("expected pass after discarding the low-confidence vote, got %v", res.FinalResult)
	}
}

func TestConfidenceWeightedSquaresConfidence(t *testing.T) {
	e := newTestEngine(ConfidenceWeighted)
	registerVoters(e, "a", "b", "c")

	id := e.Start("quality_validation", "lesson-3", nil, StartOptions{})
	mustVote(t, e, id, "a", "low", 0.2)
	mustVote(t, e, id, "b", "high", 0.95)
	mustVote(t, e, id, "c", "high", 0.9)

	res, err := e.Result(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalResult != "high" {
		t.Fatalf("expected the high-confidence value to dominate, got %v", res.FinalResult)
	}
}

func TestDomainWeightedBoostsMatchingExpertise(t *testing.T) {
	e := newTestEngine(DomainWeighted)
	e.RegisterVoter("generalist-1", 1.0, nil)
	e.RegisterVoter("generalist-2", 1.0, nil)
	e.RegisterVoter("specialist", 1.0, []string{"accessibility"})

	id := e.Start("accessibility_compliance", "page-7", map[string]string{"domain": "accessibility"}, StartOptions{})
	mustVote(t, e, id, "generalist-1", "fail", 1.0)
	mustVote(t, e, id, "generalist-2", "fail", 1.0)
	mustVote(t, e, id, "specialist", "pass", 1.0)

	res, err := e.Result(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalResult != "pass" {
		t.Fatalf("expected the domain-expert vote to carry more weight, got %v", res.FinalResult)
	}
}

func TestAgreementLevelNumericUsesCoefficientOfVariation(t *testing.T) {
	e := newTestEngine(WeightedMajority)
	registerVoters(e, "a", "b", "c")

	id := e.Start("quality_validation", "lesson-4", nil, StartOptions{})
	mustVote(t, e, id, "a", 0.9, 1.0)
	mustVote(t, e, id, "b", 0.91, 1.0)
	mustVote(t, e, id, "c", 0.89, 1.0)

	res, err := e.Result(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AgreementLevel < 0.9 {
		t.Fatalf("expected high agreement for near-identical numeric votes, got %v", res.AgreementLevel)
	}
}

func TestLowAgreementFlagsConflictAndMinorityOpinions(t *testing.T) {
	e := newTestEngine(SimpleMajority)
	registerVoters(e, "a", "b", "c", "d")

	id := e.Start("quality_validation", "lesson-5", nil, StartOptions{})
	mustVote(t, e, id, "a", "x", 1.0)
	mustVote(t, e, id, "b", "x", 1.0)
	mustVote(t, e, id, "c", "y", 1.0)
	mustVote(t, e, id, "d", "z", 1.0)

	res, err := e.Result(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Conflicts) == 0 {
		t.Fatal("expected a conflict to be flagged for low agreement")
	}
	if len(res.MinorityOpinions) == 0 {
		t.Fatal("expected minority opinions to be recorded")
	}
}

func TestResultBeforeMinimumVotesAndDeadlineErrors(t *testing.T) {
	e := newTestEngine(SimpleMajority)
	registerVoters(e, "a", "b")

	id := e.Start("quality_validation", "lesson-6", nil, StartOptions{})
	mustVote(t, e, id, "a", "ok", 1.0)

	if _, err := e.Result(id); err == nil {
		t.Fatal("expected an error before the minimum vote count has been reached")
	}
}

func TestResultAfterDeadlineComputesWithFewerThanMinimumVotes(t *testing.T) {
	e := New(Config{Strategy: SimpleMajority, MinimumVotes: 3, Timeout: time.Millisecond}, nil)
	registerVoters(e, "a", "b")

	id := e.Start("quality_validation", "lesson-7", nil, StartOptions{})
	mustVote(t, e, id, "a", "ok", 1.0)
	time.Sleep(5 * time.Millisecond)

	res, err := e.Result(id)
	if err != nil {
		t.Fatalf("expected the deadline to force a result, got error: %v", err)
	}
	if res.FinalResult != "ok" {
		t.Fatalf("expected ok, got %v", res.FinalResult)
	}
}

func TestDuplicateVoteRejected(t *testing.T) {
	e := newTestEngine(SimpleMajority)
	registerVoters(e, "a", "b", "c")
	id := e.Start("quality_validation", "lesson-8", nil, StartOptions{})
	mustVote(t, e, id, "a", "ok", 1.0)
	if err := e.Vote(id, "a", "ok", 1.0, ""); err != ErrDuplicateVote {
		t.Fatalf("expected ErrDuplicateVote, got %v", err)
	}
}

func TestVoteOnUnknownConsensusErrors(t *testing.T) {
	e := newTestEngine(SimpleMajority)
	e.RegisterVoter("a", 1.0, nil)
	if err := e.Vote("does-not-exist", "a", "ok", 1.0, ""); err != ErrUnknownConsensus {
		t.Fatalf("expected ErrUnknownConsensus, got %v", err)
	}
}

func TestVoteByUnregisteredVoterErrors(t *testing.T) {
	e := newTestEngine(SimpleMajority)
	registerVoters(e, "a", "b", "c")
	id := e.Start("quality_validation", "lesson-9", nil, StartOptions{})
	if err := e.Vote(id, "ghost", "ok", 1.0, ""); err != ErrIneligibleVoter {
		t.Fatalf("expected ErrIneligibleVoter, got %v", err)
	}
}

func TestReliabilityRisesForAgreeingVoterAndFallsForDisagreeing(t *testing.T) {
	e := newTestEngine(SimpleMajority)
	registerVoters(e, "a", "b", "c")

	id := e.Start("quality_validation", "lesson-10", nil, StartOptions{})
	mustVote(t, e, id, "a", "ok", 1.0)
	mustVote(t, e, id, "b", "ok", 1.0)
	mustVote(t, e, id, "c", "not-ok", 1.0)

	if _, err := e.Result(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.Reliability("a") <= 1.0 {
		t.Fatalf("expected agreeing voter's reliability to rise above 1.0, got %v", e.Reliability("a"))
	}
	if e.Reliability("c") >= 1.0 {
		t.Fatalf("expected disagreeing voter's reliability to fall below 1.0, got %v", e.Reliability("c"))
	}
}

func mustVote(t *testing.T, e *Engine, id, voter string, value any, confidence float64) {
	t.Helper()
	if err := e.Vote(id, voter, value, confidence, ""); err != nil {
		t.Fatalf("vote from %s failed: %v", voter, err)
	}
}
