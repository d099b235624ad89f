package batch

import (
	"regexp"
	"strconv"
	"strings"
)

// Directive is a per-item confirmation instruction.
type Directive string

const (
	DirectiveYes  Directive = "yes"
	DirectiveNo   Directive = "no"
	DirectiveEdit Directive = "edit"
)

var (
	indexedToken  = regexp.MustCompile(`(?:^|\s)(\d+)[).:\-]?\s*`)
	directiveWord = regexp.MustCompile(`(?i)^(yes|y|ok|no|n|edit|change)\b`)
)

// ParseAnswers maps answer text onto consolidated question numbers. Two
// shapes are accepted without the caller choosing a mode:
//
//	"1 John 2 high"        compact indexed tokens on one line
//	"John\nhigh"           one answer per line, mapped positionally
//
// Indexed parsing applies only when the reply leads with an index token;
// an answer that merely mentions a number ("ship by 3") stays a whole
// positional answer. Numbers beyond total are ignored.
func ParseAnswers(text string, total int) map[int]string {
	out := make(map[int]string)
	if total <= 0 {
		return out
	}
	trimmed := strings.TrimSpace(text)

	matches := indexedToken.FindAllStringSubmatchIndex(trimmed, -1)
	if len(matches) > 0 && matches[0][0] == 0 {
		for i, m := range matches {
			n, err := strconv.Atoi(trimmed[m[2]:m[3]])
			if err != nil || n < 1 || n > total {
				continue
			}
			end := len(trimmed)
			if i+1 < len(matches) {
				end = matches[i+1][0]
			}
			answer := strings.TrimSpace(trimmed[m[1]:end])
			if answer != "" {
				out[n] = answer
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	// Positional: one answer per line.
	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		if i >= total {
			break
		}
		line = strings.TrimSpace(line)
		if line != "" {
			out[i+1] = line
		}
	}
	return out
}

// Confirmations is the parsed result of a batch confirmation reply.
type Confirmations struct {
	All        *Directive        // bare yes/no applied to every item
	PerItem    map[int]Directive // numbered directives
	EditText   map[int]string    // trailing correction text on edit directives
	Unmatched  []int             // numbers referenced with no recognisable directive
	Recognized bool              // false when nothing in the reply parsed
}

// ParseConfirmations interprets a reply to a combined preview: bare
// "yes"/"no" broadcast to every item, or per-item "<n> yes", "<n> no",
// "<n> edit" directives. Items the reply does not address stay pending.
func ParseConfirmations(text string, maxIndex int) Confirmations {
	c := Confirmations{PerItem: make(map[int]Directive), EditText: make(map[int]string)}
	trimmed := strings.TrimSpace(text)

	if d, ok := bareDirective(trimmed); ok {
		c.All = &d
		c.Recognized = true
		return c
	}

	matches := indexedToken.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || n < 1 || n > maxIndex {
			continue
		}
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		word := strings.TrimSpace(text[m[1]:end])
		d, rest, ok := directiveFor(word)
		if !ok {
			c.Unmatched = append(c.Unmatched, n)
			continue
		}
		c.PerItem[n] = d
		if d == DirectiveEdit && rest != "" {
			c.EditText[n] = rest
		}
		c.Recognized = true
	}
	return c
}

func bareDirective(text string) (Directive, bool) {
	switch strings.ToLower(text) {
	case "yes", "y", "ok", "confirm", "confirmed":
		return DirectiveYes, true
	case "no", "n", "cancel":
		return DirectiveNo, true
	}
	return "", false
}

func directiveFor(word string) (Directive, string, bool) {
	m := directiveWord.FindString(word)
	if m == "" {
		return "", "", false
	}
	rest := strings.TrimSpace(word[len(m):])
	switch strings.ToLower(m) {
	case "yes", "y", "ok":
		return DirectiveYes, rest, true
	case "no", "n":
		return DirectiveNo, rest, true
	case "edit", "change":
		return DirectiveEdit, rest, true
	}
	return "", "", false
}
