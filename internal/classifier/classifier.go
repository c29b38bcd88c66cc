// Package classifier scores extracted provider records against a specialty's
// synonym terms.
package classifier

import (
	"math"
	"strings"

	"github.com/JakeFAU/findadoc-tester/internal/provider"
)

const (
	snippetLength = 150
	snippetSuffix = "..."
)

// Classify marks each record relevant when any term occurs in its full text
// or specialty label. Terms are tried in the given order and the first hit is
// reported as the matched term. Classify is pure; calling it twice with the
// same input yields the same Result.
func Classify(records []provider.Record, terms []string) provider.Result {
	lowered := make([]string, 0, len(terms))
	for _, term := range terms {
		lowered = append(lowered, strings.ToLower(term))
	}

	result := provider.Result{
		Providers: make([]provider.Classified, 0, len(records)),
	}
	for _, rec := range records {
		matched, ok := firstMatch(rec, lowered)
		if ok {
			result.Relevant++
		} else {
			result.Irrelevant++
		}
		result.Providers = append(result.Providers, provider.Classified{
			Name:        rec.Name,
			Specialty:   rec.Specialty,
			Relevant:    ok,
			MatchedTerm: matched,
			Snippet:     Snippet(rec.FullText),
		})
	}
	result.Total = len(records)
	result.Accuracy = Accuracy(result.Relevant, result.Total)
	return result
}

func firstMatch(rec provider.Record, terms []string) (string, bool) {
	text := strings.ToLower(rec.FullText)
	label := strings.ToLower(rec.Specialty)
	for _, term := range terms {
		if strings.Contains(text, term) || strings.Contains(label, term) {
			return term, true
		}
	}
	return "", false
}

// Accuracy returns relevant/total as a percentage rounded to one decimal, or
// zero for an empty set.
func Accuracy(relevant, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(relevant)/float64(total)*1000) / 10
}

// Snippet truncates text to the first 150 characters and appends an ellipsis.
func Snippet(text string) string {
	runes := []rune(text)
	if len(runes) > snippetLength {
		runes = runes[:snippetLength]
	}
	return string(runes) + snippetSuffix
}
