package config

import (
	"time"

	"github.com/kolect-core/internal/classify"
	"github.com/kolect-core/internal/match"
	"github.com/kolect-core/internal/validation"
)

// Policy gathers every operator-tunable threshold of the pipeline
type Policy struct {
	Classifier      classify.Thresholds
	Weights         match.Weights
	Tiers           match.Tiers
	Window          match.Window
	StorageTimeout  time.Duration
	BulkConcurrency int
}

// DefaultPolicy returns the values the backoffice runs with out of the box
func DefaultPolicy() Policy {
	return Policy{
		Classifier:      classify.DefaultThresholds(),
		Weights:         *match.DefaultWeights(),
		Tiers:           *match.DefaultTiers(),
		Window:          *match.DefaultWindow(),
		StorageTimeout:  5 * time.Second,
		BulkConcurrency: 4,
	}
}

// policyLimits is the flat view of Policy that gets validated
type policyLimits struct {
	MinConfidence   float64 `json:"CLASSIFY_MIN_CONFIDENCE" validate:"gte=0,lte=1"`
	MinSignatures   int     `json:"CLASSIFY_MIN_SIGNATURES" validate:"gte=0"`
	MaxSignatures   int     `json:"CLASSIFY_MAX_SIGNATURES" validate:"gtefield=MinSignatures"`
	MinQuality      float64 `json:"CLASSIFY_MIN_QUALITY" validate:"gte=0,lte=100"`
	ManualReview    int     `json:"MATCH_MANUAL_REVIEW" validate:"gte=0,lte=100"`
	AutoAccept      int     `json:"MATCH_AUTO_ACCEPT" validate:"gtfield=ManualReview,lte=100"`
	ReviewShortlist int     `json:"MATCH_REVIEW_SHORTLIST" validate:"gte=0"`
	SearchShortlist int     `json:"MATCH_SEARCH_SHORTLIST" validate:"gte=0"`
	Tolerance       int     `json:"MATCH_SIGNATURE_TOLERANCE" validate:"gte=0"`
	WindowDays      int     `json:"MATCH_WINDOW_DAYS" validate:"gt=0"`
	Limit           int     `json:"MATCH_CANDIDATE_LIMIT" validate:"gt=0"`
	MinNameScore    int     `json:"MATCH_MIN_NAME_SCORE" validate:"gte=0,lte=100"`
	StorageTimeout  int64   `json:"STORAGE_TIMEOUT" validate:"gt=0"`
	BulkConcurrency int     `json:"BULK_CONCURRENCY" validate:"gt=0"`
}

// LoadPolicy reads overrides from the environment on top of DefaultPolicy.
// Inconsistent values (auto-accept below review, confidence above 1) are rejected.
func LoadPolicy() (Policy, error) {
	p := DefaultPolicy()

	p.Classifier.MinConfidence = GetEnvFloat("CLASSIFY_MIN_CONFIDENCE", p.Classifier.MinConfidence)
	p.Classifier.MaxSignatures = GetEnvInt("CLASSIFY_MAX_SIGNATURES", p.Classifier.MaxSignatures)
	p.Classifier.MinQuality = GetEnvFloat("CLASSIFY_MIN_QUALITY", p.Classifier.MinQuality)
	p.Classifier.MinSignatures = GetEnvInt("CLASSIFY_MIN_SIGNATURES", p.Classifier.MinSignatures)

	p.Tiers.AutoAccept = GetEnvInt("MATCH_AUTO_ACCEPT", p.Tiers.AutoAccept)
	p.Tiers.ManualReview = GetEnvInt("MATCH_MANUAL_REVIEW", p.Tiers.ManualReview)
	p.Tiers.ReviewShortlist = GetEnvInt("MATCH_REVIEW_SHORTLIST", p.Tiers.ReviewShortlist)
	p.Tiers.SearchShortlist = GetEnvInt("MATCH_SEARCH_SHORTLIST", p.Tiers.SearchShortlist)

	windowDays := GetEnvInt("MATCH_WINDOW_DAYS", int(p.Window.MaxAge/(24*time.Hour)))
	p.Window.SignatureTolerance = GetEnvInt("MATCH_SIGNATURE_TOLERANCE", p.Window.SignatureTolerance)
	p.Window.MaxAge = time.Duration(windowDays) * 24 * time.Hour
	p.Window.Limit = GetEnvInt("MATCH_CANDIDATE_LIMIT", p.Window.Limit)
	p.Window.MinNameScore = GetEnvInt("MATCH_MIN_NAME_SCORE", p.Window.MinNameScore)

	p.StorageTimeout = GetEnvDuration("STORAGE_TIMEOUT", p.StorageTimeout)
	p.BulkConcurrency = GetEnvInt("BULK_CONCURRENCY", p.BulkConcurrency)

	limits := policyLimits{
		MinConfidence:   p.Classifier.MinConfidence,
		MinSignatures:   p.Classifier.MinSignatures,
		MaxSignatures:   p.Classifier.MaxSignatures,
		MinQuality:      p.Classifier.MinQuality,
		ManualReview:    p.Tiers.ManualReview,
		AutoAccept:      p.Tiers.AutoAccept,
		ReviewShortlist: p.Tiers.ReviewShortlist,
		SearchShortlist: p.Tiers.SearchShortlist,
		Tolerance:       p.Window.SignatureTolerance,
		WindowDays:      windowDays,
		Limit:           p.Window.Limit,
		MinNameScore:    p.Window.MinNameScore,
		StorageTimeout:  int64(p.StorageTimeout),
		BulkConcurrency: p.BulkConcurrency,
	}
	if err := validation.Struct(limits); err != nil {
		return Policy{}, err
	}

	return p, nil
}
