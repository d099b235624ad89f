package slack

import (
	"encoding/json"
	"fmt"
)

// ReactionEvent is the structure received from slack-forwarder via NATS.
type ReactionEvent struct {
	Reaction  string `json:"reaction"`
	UserID    string `json:"user_id"`
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
}

// Verdict maps a Slack reaction on a draft preview to an outcome.
type Verdict string

const (
	VerdictConfirm Verdict = "confirm"
	VerdictCancel  Verdict = "cancel"
	VerdictUnknown Verdict = "unknown"
)

// ParseReaction converts a Slack reaction emoji name to a preview verdict.
func ParseReaction(reaction string) Verdict {
	switch reaction {
	case "+1", "thumbsup", "white_check_mark", "heavy_check_mark":
		return VerdictConfirm
	case "-1", "thumbsdown", "x":
		return VerdictCancel
	default:
		return VerdictUnknown
	}
}

// ParseReactionEvent parses a NATS message payload from slack-forwarder into
// a ReactionEvent.
func ParseReactionEvent(data []byte) (*ReactionEvent, error) {
	// The slack-forwarder publishes events with metadata in a wrapper.
	var wrapper struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse reaction wrapper: %w", err)
	}

	evt := &ReactionEvent{
		Reaction:  wrapper.Metadata["text"],
		UserID:    wrapper.Metadata["user_id"],
		Channel:   wrapper.Metadata["channel_id"],
		MessageTS: wrapper.Metadata["message_ts"],
	}

	// Strip surrounding colons.
	if len(evt.Reaction) > 2 && evt.Reaction[0] == ':' && evt.Reaction[len(evt.Reaction)-1] == ':' {
		evt.Reaction = evt.Reaction[1 : len(evt.Reaction)-1]
	}

	return evt, nil
}
