package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kolect-core/internal/debug"
	"github.com/kolect-core/internal/scan"
)

// Engine orchestrates validation → retrieval → scoring → decision
type Engine struct {
	finder      *CandidateFinder
	scorer      *Scorer
	concurrency int
}

// EngineConfig holds configuration for the matching engine
type EngineConfig struct {
	Store       CandidateStore
	Weights     *Weights
	Tiers       *Tiers
	Window      *Window
	Timeout     time.Duration // per storage call
	Concurrency int           // MatchBatch workers, defaults to 4
	Now         func() time.Time
}

// NewEngine creates a new scan matching engine
func NewEngine(config EngineConfig) *Engine {
	finder := NewCandidateFinder(config.Store, config.Window, config.Timeout)
	scorer := NewScorerWithConfig(config.Weights, config.Tiers)
	if config.Now != nil {
		finder.WithClock(config.Now)
		scorer.WithClock(config.Now)
	}

	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Engine{
		finder:      finder,
		scorer:      scorer,
		concurrency: concurrency,
	}
}

// Finder exposes candidate retrieval on its own
func (e *Engine) Finder() *CandidateFinder {
	return e.finder
}

// ValidateInput checks the extracted fields before a store round trip
func ValidateInput(extracted scan.ExtractedData) error {
	if strings.TrimSpace(extracted.Initiative) == "" {
		return &scan.ValidationError{Field: "initiative", Message: "is required"}
	}
	if extracted.TotalSignatures <= 0 {
		return &scan.ValidationError{Field: "total_signatures", Message: "must be greater than zero"}
	}
	return nil
}

// Match finds the best field scan for one validation scan
func (e *Engine) Match(ctx context.Context, localDebug bool, extracted scan.ExtractedData) (Result, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	startTime := time.Now()

	if err := ValidateInput(extracted); err != nil {
		return Result{}, err
	}

	debug.DebugOutput(localDebug, "=== Step 1: Candidate Retrieval ===")
	candidates, err := e.finder.FindCandidates(ctx, localDebug, extracted)
	if err != nil {
		return Result{}, err
	}

	debug.DebugOutput(localDebug, "=== Step 2: Scoring %d candidates ===", len(candidates))
	e.scorer.ScoreCandidates(localDebug, candidates, extracted)

	debug.DebugOutput(localDebug, "=== Step 3: Decision ===")
	result := e.scorer.MakeDecision(localDebug, candidates)
	result.Query = extracted
	result.ProcessingTime = time.Since(startTime)

	debug.DebugOutput(localDebug, "Decision: %s (confidence %d) in %v",
		result.Decision, result.Confidence, result.ProcessingTime)

	return result, nil
}

// BatchItem is the outcome of one entry of MatchBatch
type BatchItem struct {
	Index  int     `json:"index"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
	Error  string  `json:"error,omitempty"`
}

// MatchBatch matches many validation scans with bounded concurrency.
// A failing entry does not stop the others; items come back in input order.
func (e *Engine) MatchBatch(ctx context.Context, localDebug bool, inputs []scan.ExtractedData) []BatchItem {
	defer debug.DebugTiming(localDebug, fmt.Sprintf("match batch of %d", len(inputs)))()

	items := make([]BatchItem, len(inputs))

	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i, input := range inputs {
		i, input := i, input
		g.Go(func() error {
			item := BatchItem{Index: i}
			if err := ctx.Err(); err != nil {
				item.Err = err
			} else if result, err := e.Match(ctx, localDebug, input); err != nil {
				item.Err = err
			} else {
				item.Result = &result
			}
			if item.Err != nil {
				item.Error = item.Err.Error()
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	return items
}
