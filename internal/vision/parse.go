package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnreadable is returned when a response holds neither JSON nor recognisable fields
var ErrUnreadable = errors.New("vision response is unreadable")

var (
	validPattern      = regexp.MustCompile(`(?i)\bvalid_signatures["\s]*:\s*(\d+)`)
	invalidPattern    = regexp.MustCompile(`(?i)invalid_signatures["\s]*:\s*(\d+)`)
	confidencePattern = regexp.MustCompile(`(?i)confidence["\s]*:\s*([\d.]+)`)
	initiativePattern = regexp.MustCompile(`(?i)initiative["\s]*:\s*["']([^"']+)["']`)
)

type rawEstimate struct {
	ValidSignatures   *int     `json:"valid_signatures"`
	InvalidSignatures *int     `json:"invalid_signatures"`
	EmptyLines        *int     `json:"empty_lines"`
	Confidence        *float64 `json:"confidence"`
	Initiative        string   `json:"initiative"`
	Notes             string   `json:"notes"`
}

// ParseEstimate reads the service's text response. Markdown fences and prose
// around the JSON object are tolerated; when the object is malformed the known
// fields are scraped and the result is degraded. Confidence outside [0, 1] or
// missing also degrades the result. An initiative not in known (when known is
// non-empty) becomes Undetermined.
func ParseEstimate(raw string, known []string) (Result, error) {
	body := stripFences(raw)

	var degradedBy error
	var parsed rawEstimate

	object := extractObject(body)
	if object == "" || json.Unmarshal([]byte(object), &parsed) != nil {
		scraped, ok := scrape(body)
		if !ok {
			return Result{}, ErrUnreadable
		}
		parsed = scraped
		degradedBy = errors.New("response was not valid JSON, fields scraped")
	}

	if negative(parsed.ValidSignatures) || negative(parsed.InvalidSignatures) || negative(parsed.EmptyLines) {
		return Result{}, fmt.Errorf("vision response has negative counts: %w", ErrUnreadable)
	}

	estimate := Estimate{
		ValidSignatures:   parsed.ValidSignatures,
		InvalidSignatures: parsed.InvalidSignatures,
		EmptyLines:        parsed.EmptyLines,
		Initiative:        resolveInitiative(parsed.Initiative, known),
		Notes:             parsed.Notes,
		AnalysisMethod:    "vision",
	}

	switch {
	case parsed.Confidence == nil:
		estimate.Confidence = FallbackConfidence
		if degradedBy == nil {
			degradedBy = errors.New("confidence missing")
		}
	case math.IsNaN(*parsed.Confidence) || *parsed.Confidence < 0 || *parsed.Confidence > 1:
		estimate.Confidence = FallbackConfidence
		if degradedBy == nil {
			degradedBy = fmt.Errorf("confidence %v outside [0, 1]", *parsed.Confidence)
		}
	default:
		estimate.Confidence = *parsed.Confidence
	}

	if degradedBy != nil {
		return Degraded(estimate, degradedBy), nil
	}
	return OK(estimate), nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func extractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func scrape(s string) (rawEstimate, bool) {
	var out rawEstimate
	found := false

	if m := validPattern.FindStringSubmatch(s); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			out.ValidSignatures = &v
			found = true
		}
	}
	if m := invalidPattern.FindStringSubmatch(s); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			out.InvalidSignatures = &v
			found = true
		}
	}
	if m := confidencePattern.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out.Confidence = &v
		}
	}
	if m := initiativePattern.FindStringSubmatch(s); m != nil {
		out.Initiative = m[1]
	}

	return out, found
}

func resolveInitiative(name string, known []string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return Undetermined
	}
	if name == Undetermined || name == NoInitiative || len(known) == 0 {
		return name
	}
	for _, k := range known {
		if k == name {
			return name
		}
	}
	return Undetermined
}

func negative(p *int) bool {
	return p != nil && *p < 0
}
