package clarifier

import "errors"

// ErrMalformedResponse is returned when the model's reply cannot be parsed
// as the expected JSON structure. Callers degrade rather than abort: user
// intent is never discarded because the oracle produced garbage.
var ErrMalformedResponse = errors.New("clarifier: malformed oracle response")

// DraftContext is what the oracle sees when deciding whether to ask.
type DraftContext struct {
	Text       string
	Extracted  map[string]string
	KnownNames []string
}

// ProposedQuestion is one clarifying question suggested by the oracle.
type ProposedQuestion struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
	Field   string   `json:"field,omitempty"`
}

// Analysis is the oracle's verdict on a draft context.
type Analysis struct {
	ShouldAsk  bool               `json:"should_ask"`
	Questions  []ProposedQuestion `json:"questions,omitempty"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
}
