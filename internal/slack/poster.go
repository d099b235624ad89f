package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/envoy/internal/conversation"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// SetTestTransport points the poster at a test server.
func (p *Poster) SetTestTransport(url string) {
	p.apiURL = url
}

// AnnounceTask posts a created task to the tasks channel. Returns the
// message timestamp (ts), used for tracking reactions on the announcement.
func (p *Poster) AnnounceTask(ctx context.Context, spec *conversation.TaskSpec, requester string) (string, error) {
	text := formatTaskMessage(spec, requester)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	ts, err := p.post(ctx, body)
	if err != nil {
		return "", err
	}
	p.logger.Info("announced task to slack", "ts", ts, "title", spec.Title)
	return ts, nil
}

// PostPreview posts a draft preview to a channel with reaction instructions.
// Reacting :+1: confirms the draft, :-1: cancels it.
func (p *Poster) PostPreview(ctx context.Context, channel, preview string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"channel": channel,
		"text":    preview,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": preview,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "React: :+1: create | :-1: cancel",
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}
	return p.post(ctx, body)
}

// PostDM sends a direct message, used for assignee notifications. Slack
// opens the DM conversation implicitly when channel is a user id.
func (p *Poster) PostDM(ctx context.Context, userID, text string) error {
	body, err := json.Marshal(map[string]any{
		"channel": userID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = p.post(ctx, body)
	return err
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	body, err := json.Marshal(map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = p.post(ctx, body)
	return err
}

func (p *Poster) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatTaskMessage(spec *conversation.TaskSpec, requester string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*New task:* %s\n", spec.Title)
	if spec.Assignee != "" {
		fmt.Fprintf(&sb, "*Assignee:* %s\n", spec.Assignee)
	}
	fmt.Fprintf(&sb, "*Priority:* %s", spec.Priority)
	if spec.Deadline != "" {
		fmt.Fprintf(&sb, " | *Due:* %s", spec.Deadline)
	}
	sb.WriteString("\n")
	if requester != "" {
		fmt.Fprintf(&sb, "*Requested by:* <@%s>\n", requester)
	}

	if spec.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", spec.Description)
	}
	if len(spec.AcceptanceCriteria) > 0 {
		sb.WriteString("\n*Acceptance criteria:*\n")
		for _, c := range spec.AcceptanceCriteria {
			fmt.Fprintf(&sb, "• %s\n", c)
		}
	}
	return sb.String()
}
