package consensus

import (
	"fmt"
	"math"
	"sort"
)

// MinorityOpinion records a vote value held by a small fraction of voters
// once a conflict has been detected.
type MinorityOpinion struct {
	Value string
	Count int
}

// Result is the outcome of a finalized consensus round.
type Result struct {
	ID                  string
	Kind                string
	FinalResult         any
	Confidence          float64
	AgreementLevel      float64
	ParticipatingVoters int
	TotalVotes          int
	VoteDistribution    map[string]int
	WeightedScores      map[string]float64
	Conflicts           []string
	MinorityOpinions    []MinorityOpinion
}

func compute(p *process) *Result {
	result := &Result{
		ID:                  p.id,
		Kind:                p.kind,
		ParticipatingVoters: len(p.votes),
		TotalVotes:          len(p.votes),
	}

	switch p.strategy {
	case SimpleMajority:
		simpleMajority(p.votes, result)
	case WeightedMajority:
		weightedMajority(p.votes, result)
	case Unanimous:
		unanimous(p.votes, result)
	case ThresholdBased:
		thresholdBased(p.votes, result, 0.7, 0.6)
	case ConfidenceWeighted:
		confidenceWeighted(p.votes, result)
	case DomainWeighted:
		domainWeighted(p.votes, result, p.context)
	default:
		weightedMajority(p.votes, result)
	}

	analyzeAgreement(p.votes, result, 0.4)
	return result
}

func valueKey(v any) string { return fmt.Sprintf("%v", v) }

func simpleMajority(votes []Vote, result *Result) {
	counts := make(map[string]int)
	values := make(map[string]any)
	for _, v := range votes {
		k := valueKey(v.Value)
		counts[k]++
		values[k] = v.Value
	}
	key, count := mostCommon(counts)
	if key != "" {
		result.FinalResult = values[key]
		result.Confidence = float64(count) / float64(len(votes))
		result.VoteDistribution = counts
	}
}

func weightedMajority(votes []Vote, result *Result) {
	scores := make(map[string]float64)
	values := make(map[string]any)
	total := 0.0
	for _, v := range votes {
		k := valueKey(v.Value)
		w := v.Weight * v.Confidence
		scores[k] += w
		values[k] = v.Value
		total += w
	}
	if total <= 0 {
		return
	}
	key, max := argmax(scores)
	result.FinalResult = values[key]
	result.Confidence = max / total
	result.WeightedScores = scores
}

func unanimous(votes []Vote, result *Result) {
	if len(votes) == 0 {
		return
	}
	first := votes[0].Value
	agree := true
	for _, v := range votes[1:] {
		if valueKey(v.Value) != valueKey(first) {
			agree = false
			break
		}
	}
	if agree {
		result.FinalResult = first
		result.Confidence = 1.0
		result.AgreementLevel = 1.0
	} else {
		result.FinalResult = nil
		result.Confidence = 0.0
		result.AgreementLevel = 0.0
	}
}

func thresholdBased(votes []Vote, result *Result, confidenceThreshold, agreementThreshold float64) {
	counts := make(map[string]int)
	values := make(map[string]any)
	qualified := 0
	for _, v := range votes {
		if v.Confidence < confidenceThreshold {
			continue
		}
		k := valueKey(v.Value)
		counts[k]++
		values[k] = v.Value
		qualified++
	}
	key, count := mostCommon(counts)
	if key == "" {
		return
	}
	if float64(count)/float64(qualified) >= agreementThreshold {
		result.FinalResult = values[key]
		result.Confidence = float64(count) / float64(qualified)
		result.VoteDistribution = counts
	}
}

func confidenceWeighted(votes []Vote, result *Result) {
	scores := make(map[string]float64)
	values := make(map[string]any)
	total := 0.0
	for _, v := range votes {
		k := valueKey(v.Value)
		w := v.Weight * v.Confidence * v.Confidence
		scores[k] += w
		values[k] = v.Value
		total += w
	}
	if total <= 0 {
		return
	}
	key, max := argmax(scores)
	result.FinalResult = values[key]
	result.Confidence = max / total
	result.WeightedScores = scores
}

func domainWeighted(votes []Vote, result *Result, context map[string]string) {
	subjectTag := context["domain"]
	scores := make(map[string]float64)
	values := make(map[string]any)
	total := 0.0
	for _, v := range votes {
		w := v.Weight * v.Confidence
		if subjectTag != "" {
			for _, area := range v.ExpertiseAreas {
				if area == subjectTag {
					w *= 1.3
					break
				}
			}
		}
		k := valueKey(v.Value)
		scores[k] += w
		values[k] = v.Value
		total += w
	}
	if total <= 0 {
		return
	}
	key, max := argmax(scores)
	result.FinalResult = values[key]
	result.Confidence = max / total
	result.WeightedScores = scores
}

// analyzeAgreement computes the agreement level (modal-share for
// categorical votes, 1-CV clamped for numeric ones) and flags a conflict
// with minority opinions when it falls below threshold.
func analyzeAgreement(votes []Vote, result *Result, conflictThreshold float64) {
	if len(votes) < 2 {
		result.AgreementLevel = 1.0
		return
	}

	if nums, ok := allNumeric(votes); ok {
		mean, stdev := meanStdev(nums)
		if mean == 0 {
			if stdev == 0 {
				result.AgreementLevel = 1.0
			} else {
				result.AgreementLevel = 0.0
			}
		} else {
			cv := stdev / math.Abs(mean)
			result.AgreementLevel = math.Max(0.0, 1.0-cv)
		}
	} else {
		counts := make(map[string]int)
		for _, v := range votes {
			counts[valueKey(v.Value)]++
		}
		_, count := mostCommon(counts)
		result.AgreementLevel = float64(count) / float64(len(votes))
	}

	if result.AgreementLevel >= conflictThreshold {
		return
	}
	result.Conflicts = append(result.Conflicts, "agreement below conflict threshold")

	counts := make(map[string]int)
	for _, v := range votes {
		counts[valueKey(v.Value)]++
	}
	minorityCutoff := float64(len(votes)) * 0.3
	for val, count := range counts {
		if float64(count) <= minorityCutoff {
			result.MinorityOpinions = append(result.MinorityOpinions, MinorityOpinion{Value: val, Count: count})
		}
	}
	sort.Slice(result.MinorityOpinions, func(i, j int) bool {
		return result.MinorityOpinions[i].Value < result.MinorityOpinions[j].Value
	})
}

func allNumeric(votes []Vote) ([]float64, bool) {
	out := make([]float64, 0, len(votes))
	for _, v := range votes {
		switch n := v.Value.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		default:
			return nil, false
		}
	}
	return out, true
}

func meanStdev(nums []float64) (mean, stdev float64) {
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	mean = sum / float64(len(nums))

	if len(nums) < 2 {
		return mean, 0
	}
	var sq float64
	for _, n := range nums {
		sq += (n - mean) * (n - mean)
	}
	stdev = math.Sqrt(sq / float64(len(nums)-1))
	return mean, stdev
}

func mostCommon(counts map[string]int) (string, int) {
	var bestKey string
	bestCount := -1
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			bestKey, bestCount = k, counts[k]
		}
	}
	return bestKey, bestCount
}

func argmax(scores map[string]float64) (string, float64) {
	var bestKey string
	best := -1.0
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if scores[k] > best {
			bestKey, best = k, scores[k]
		}
	}
	return bestKey, best
}
