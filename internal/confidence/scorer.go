// Package confidence estimates how confidently draft fields were inferred
// from the requester's text. The clarifier oracle is authoritative; these
// scores drive trigger pre-fills and the local fallback used when the oracle
// is unreachable during analysis.
package confidence

import "strings"

// AskThreshold is the score below which a field earns a clarifying question.
const AskThreshold = 0.6

var priorityWords = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// Title scores a candidate title. Very short fragments carry little signal.
func Title(title string) float64 {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0
	}
	words := len(strings.Fields(title))
	switch {
	case words < 2:
		return 0.3
	case words < 4:
		return 0.6
	default:
		return 0.85
	}
}

// Assignee scores a candidate assignee name. A directory match is nearly
// certain; an unknown capitalized name is a guess.
func Assignee(name string, inDirectory bool) float64 {
	if strings.TrimSpace(name) == "" {
		return 0
	}
	if inDirectory {
		return 0.95
	}
	return 0.5
}

// Priority scores a priority value against the known levels.
func Priority(value string) float64 {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return 0
	}
	if priorityWords[value] {
		return 0.95
	}
	return 0.4
}

// Deadline scores a deadline string. Anything present beats nothing; real
// date validation belongs to the oracle.
func Deadline(value string) float64 {
	if strings.TrimSpace(value) == "" {
		return 0
	}
	return 0.7
}

// NeedsQuestion reports whether a score is too weak to proceed silently.
func NeedsQuestion(score float64) bool {
	return score < AskThreshold
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Combine averages non-zero scores into an overall draft confidence.
func Combine(scores ...float64) float64 {
	var sum float64
	var n int
	for _, s := range scores {
		if s > 0 {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return clamp(sum / float64(n))
}
