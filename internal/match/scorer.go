package match

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kolect-core/internal/debug"
	"github.com/kolect-core/internal/scan"
)

// Scorer combines name, initiative, signature count and recency into a 0..100 score
type Scorer struct {
	weights *Weights
	tiers   *Tiers
	now     func() time.Time
}

// NewScorer creates a new scorer with default weights and tiers
func NewScorer() *Scorer {
	return NewScorerWithConfig(DefaultWeights(), DefaultTiers())
}

// NewScorerWithConfig creates a scorer with custom weights and tiers
func NewScorerWithConfig(weights *Weights, tiers *Tiers) *Scorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Scorer{
		weights: weights,
		tiers:   tiers,
		now:     time.Now,
	}
}

// WithClock replaces the time source used for recency
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Tiers returns the decision thresholds in use
func (s *Scorer) Tiers() Tiers {
	return *s.tiers
}

// ScoreCandidates scores all candidates and sorts them best first
func (s *Scorer) ScoreCandidates(localDebug bool, candidates []Candidate, extracted scan.ExtractedData) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	for i := range candidates {
		candidates[i] = s.Score(localDebug, candidates[i], extracted)
		debug.DebugOutput(localDebug, "Candidate %s scored: %d", candidates[i].Scan.ID, candidates[i].Score)
	}

	// Ties keep retrieval order, which is newest first
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}

// Score computes the weighted score of one candidate. It never fails;
// missing data contributes zero.
func (s *Scorer) Score(localDebug bool, candidate Candidate, extracted scan.ExtractedData) Candidate {
	var b Breakdown

	// Name
	nameScore := candidate.NameScore
	if nameScore == nil && hasName(extracted.CollaboratorName) && hasName(candidate.Scan.CollaboratorName) {
		computed := NameSimilarity(extracted.CollaboratorName, candidate.Scan.CollaboratorName)
		nameScore = &computed
	}
	if nameScore != nil {
		clamped := clampScore(*nameScore)
		b.NameScore = &clamped
		b.Name = float64(clamped) * s.weights.Name / 100
	}

	// Initiative, case-sensitive
	if extracted.Initiative != "" && candidate.Scan.InitiativeName == extracted.Initiative {
		b.InitiativeMatch = true
		b.Initiative = s.weights.Initiative
	}

	// Signature count
	if candidate.Scan.TotalSignatures != nil {
		diff := *candidate.Scan.TotalSignatures - extracted.TotalSignatures
		if diff < 0 {
			diff = -diff
		}
		b.SignatureDiff = &diff
		if diff <= s.weights.SignatureTolerance {
			b.Signatures = math.Max(0, s.weights.Signatures-float64(diff)*s.weights.SignaturePenalty)
		}
	}

	// Recency
	b.AgeDays = ageInDays(s.now(), candidate.Scan.CreatedAt)
	switch {
	case b.AgeDays <= s.weights.RecencyFullDays:
		b.Recency = s.weights.Recency
	case b.AgeDays <= s.weights.RecencyDecayDays:
		b.Recency = s.weights.Recency * (1 - float64(b.AgeDays)/float64(s.weights.RecencyDecayDays))
	}

	total := b.Name + b.Initiative + b.Signatures + b.Recency

	debug.DebugOutput(localDebug, "Components: name=%.2f initiative=%.2f signatures=%.2f recency=%.2f",
		b.Name, b.Initiative, b.Signatures, b.Recency)

	candidate.NameScore = nameScore
	candidate.Breakdown = b
	candidate.Score = clampScore(int(math.Round(total)))
	return candidate
}

// MakeDecision applies the tiers to candidates already sorted best first
func (s *Scorer) MakeDecision(localDebug bool, candidates []Candidate) Result {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	result := Result{
		Candidates: []Candidate{},
		Thresholds: map[string]int{
			"auto_accept":   s.tiers.AutoAccept,
			"manual_review": s.tiers.ManualReview,
		},
	}

	if len(candidates) == 0 {
		debug.DebugOutput(localDebug, "No candidates - no reliable match")
		result.Decision = DecisionNoReliableMatch
		result.Reason = "no matching field scan"
		return result
	}

	top := candidates[0]
	result.Confidence = top.Score

	switch {
	case top.Score >= s.tiers.AutoAccept:
		debug.DebugOutput(localDebug, "Auto-accept: %d >= %d", top.Score, s.tiers.AutoAccept)
		result.Decision = DecisionAutoAccept
		result.Match = &top
		result.Reason = fmt.Sprintf("score %d meets auto-accept threshold %d", top.Score, s.tiers.AutoAccept)

	case top.Score >= s.tiers.ManualReview:
		debug.DebugOutput(localDebug, "Manual review: %d >= %d", top.Score, s.tiers.ManualReview)
		result.Decision = DecisionManualReview
		result.Suggestion = &top
		result.Candidates = shortlist(candidates, s.tiers.ReviewShortlist)
		result.Reason = fmt.Sprintf("score %d needs review", top.Score)

	default:
		debug.DebugOutput(localDebug, "No reliable match: %d < %d", top.Score, s.tiers.ManualReview)
		result.Decision = DecisionNoReliableMatch
		result.Candidates = shortlist(candidates, s.tiers.SearchShortlist)
		result.Reason = fmt.Sprintf("best score %d below review threshold %d", top.Score, s.tiers.ManualReview)
	}

	return result
}

func shortlist(candidates []Candidate, n int) []Candidate {
	if n > len(candidates) {
		n = len(candidates)
	}
	if n < 0 {
		n = 0
	}
	out := make([]Candidate, n)
	copy(out, candidates[:n])
	return out
}

// ageInDays rounds partial days up, so anything created since yesterday is one day old
func ageInDays(now, createdAt time.Time) int {
	age := now.Sub(createdAt)
	if age < 0 {
		age = -age
	}
	return int(math.Ceil(age.Hours() / 24))
}
