package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects envoy consumes and produces on the swarm bus.
const (
	SubjectInboundMessage = "swarm.gateway.message"
	SubjectSlackReaction  = "swarm.slack.reaction"
	SubjectReply          = "swarm.envoy.reply"
	SubjectNotify         = "swarm.envoy.notify"
	SubjectTaskCreated    = "swarm.envoy.task.created"
	SubjectRegistered     = "swarm.agent.envoy.registered"
)

// InboundMessage is a chat message forwarded by the gateway.
type InboundMessage struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name,omitempty"`
	ChannelID  string `json:"channel_id"`
	Text       string `json:"text"`
	Privileged bool   `json:"privileged,omitempty"`
}

// Reply is envoy's answer back to the requester's channel.
type Reply struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

// Notification asks the gateway to deliver text to a different user,
// typically the assignee of a freshly created task.
type Notification struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// TaskCreated is emitted after a task materializes, for downstream
// consumers (boards, digests, analytics).
type TaskCreated struct {
	TaskID         string `json:"task_id"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Assignee       string `json:"assignee,omitempty"`
	Priority       string `json:"priority"`
	Deadline       string `json:"deadline,omitempty"`
	CreatedBy      string `json:"created_by"`
	ChannelID      string `json:"channel_id"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
