package batch

import (
	"regexp"
	"strings"
)

// minSegmentLen filters out noise fragments produced by splitting; a
// segment shorter than this cannot describe a task.
const minSegmentLen = 8

var (
	numberedMarker = regexp.MustCompile(`(?m)(?:^|\s)\d+[.)]\s+`)
	separatorWords = regexp.MustCompile(`(?i)[,.;]?\s+(?:and\s+)?(?:also|another|plus|then)[\s,]+`)
	nameClauseLead = regexp.MustCompile(`^[A-Z][a-z]+\s+(?:to\s+)?\p{L}+`)
	clauseSplit    = regexp.MustCompile(`,\s+|\s+and\s+`)
)

// Split detects multiple task requests in one message and returns the
// segments, one per candidate task. The rules are tried in fixed preference
// order; if none yields at least two valid segments the message is a single
// task and Split returns nil. The result is advisory; each segment still
// goes through the oracle's analysis on its own.
func Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// 1. Numbered list ("1. ... 2. ...").
	if segs := validSegments(numberedMarker.Split(text, -1)); len(segs) >= 2 {
		return segs
	}

	// 2. Explicit separators ("also", "another", "plus", "then"), handling
	// compound "and another" chains in one pass.
	if separatorWords.MatchString(text) {
		if segs := validSegments(separatorWords.Split(text, -1)); len(segs) >= 2 {
			return segs
		}
	}

	// 3. Repeated "Name + action" clauses joined by commas or "and".
	if segs := nameClauses(text); len(segs) >= 2 {
		return segs
	}

	// 4. Semicolon-delimited segments.
	if strings.Contains(text, ";") {
		if segs := validSegments(strings.Split(text, ";")); len(segs) >= 2 {
			return segs
		}
	}

	return nil
}

// nameClauses splits on commas/"and" only when at least two clauses lead
// with a capitalized name, e.g. "John to fix login, Sarah to update docs".
func nameClauses(text string) []string {
	parts := clauseSplit.Split(text, -1)
	if len(parts) < 2 {
		return nil
	}
	led := 0
	for _, p := range parts {
		if nameClauseLead.MatchString(strings.TrimSpace(p)) {
			led++
		}
	}
	if led < 2 {
		return nil
	}
	return validSegments(parts)
}

func validSegments(parts []string) []string {
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), ",.;"))
		if len(p) >= minSegmentLen {
			out = append(out, p)
		}
	}
	return out
}
