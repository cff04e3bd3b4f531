package match

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/kolect-core/internal/normalize"
)

// NameSimilarity compares two person names and returns 0..100.
// Names are normalised first; identical results score 100, an empty side scores 0.
// Otherwise the better of the bigram and edit-distance similarities is used.
func NameSimilarity(a, b string) int {
	na := normalize.Name(a)
	nb := normalize.Name(b)

	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}

	best := math.Max(DiceCoefficient(na, nb), LevenshteinRatio(na, nb))
	return clampScore(int(math.Round(best * 100)))
}

// DiceCoefficient computes the Sørensen-Dice coefficient over character bigrams,
// ignoring whitespace. Word order only costs the bigrams at the word joins.
func DiceCoefficient(s1, s2 string) float64 {
	s1 = stripSpaces(s1)
	s2 = stripSpaces(s2)

	if s1 == s2 {
		return 1.0
	}

	r1 := []rune(s1)
	r2 := []rune(s2)
	if len(r1) < 2 || len(r2) < 2 {
		return 0.0
	}

	bigrams := make(map[string]int, len(r1)-1)
	for i := 0; i < len(r1)-1; i++ {
		bigrams[string(r1[i:i+2])]++
	}

	intersection := 0
	for i := 0; i < len(r2)-1; i++ {
		bg := string(r2[i : i+2])
		if bigrams[bg] > 0 {
			bigrams[bg]--
			intersection++
		}
	}

	return 2.0 * float64(intersection) / float64(len(r1)+len(r2)-2)
}

// LevenshteinRatio is 1 - distance/longest, so 1.0 means identical
func LevenshteinRatio(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	maxLen := utf8.RuneCountInString(s1)
	if l := utf8.RuneCountInString(s2); l > maxLen {
		maxLen = l
	}

	distance := levenshtein.ComputeDistance(s1, s2)
	return 1.0 - float64(distance)/float64(maxLen)
}

// hasName reports whether a name still has letters once normalised
func hasName(name string) bool {
	return normalize.Name(name) != ""
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
