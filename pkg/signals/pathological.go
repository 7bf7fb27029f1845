package signals

import "unicode/utf8"

// Pathological input bounds. Degenerate content (near-total character
// repetition, tiny alphabets stretched over long text) is a
// resource-exhaustion vector for every tier, so collaborators refuse
// it up front and fail closed.
const (
	// repetitionRatio: above this share of a single rune the text is
	// considered degenerate.
	repetitionRatio = 0.8
	// diversityWindow / minUniqueRunes: long text whose first window
	// contains fewer than minUniqueRunes distinct runes is degenerate.
	diversityWindow  = 1000
	minUniqueRunes   = 10
	diversityMinLen  = 2000
	repetitionMinLen = 20
)

// PathologicalReason describes why input was refused, empty when it
// was not.
type PathologicalReason string

const (
	ReasonCharRepetition PathologicalReason = "dominant character repetition"
	ReasonLowDiversity   PathologicalReason = "degenerate low-diversity content"
)

// DetectPathological checks text for degenerate shapes that are not
// worth full analysis. It is cheap: one pass over at most the first
// diversityWindow runes plus a rune count.
func DetectPathological(text string) (PathologicalReason, bool) {
	n := utf8.RuneCountInString(text)
	if n < repetitionMinLen {
		return "", false
	}

	counts := make(map[rune]int, 64)
	seen := 0
	max := 0
	for _, r := range text {
		seen++
		counts[r]++
		if counts[r] > max {
			max = counts[r]
		}
		if seen >= diversityWindow {
			break
		}
	}

	if float64(max) > repetitionRatio*float64(seen) {
		return ReasonCharRepetition, true
	}
	if n >= diversityMinLen && len(counts) < minUniqueRunes {
		return ReasonLowDiversity, true
	}
	return "", false
}
