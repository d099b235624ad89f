// Package processor wires the swarm bus to the conversation engine: inbound
// gateway messages become engine turns, engine output becomes replies and
// notifications, and Slack reactions on posted previews become confirmations.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/envoy/internal/conversation"
	"github.com/MikeSquared-Agency/envoy/internal/engine"
	"github.com/MikeSquared-Agency/envoy/internal/hermes"
	"github.com/MikeSquared-Agency/envoy/internal/session"
	"github.com/MikeSquared-Agency/envoy/internal/slack"
)

// Publisher is the outbound half of the bus client.
type Publisher interface {
	Publish(subject string, data any) error
}

type Processor struct {
	engine *engine.Engine
	store  session.Store
	bus    Publisher
	poster *slack.Poster // nil when Slack posting is not configured
	logger *slog.Logger

	mu              sync.Mutex
	pendingPreviews map[string]string // slack message TS -> user id
}

func New(eng *engine.Engine, store session.Store, bus Publisher, poster *slack.Poster, logger *slog.Logger) *Processor {
	return &Processor{
		engine:          eng,
		store:           store,
		bus:             bus,
		poster:          poster,
		logger:          logger,
		pendingPreviews: make(map[string]string),
	}
}

// HandleInboundMessage is the NATS handler for swarm.gateway.message.
func (p *Processor) HandleInboundMessage(subject string, data []byte) {
	ctx := context.Background()

	var msg hermes.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Error("failed to parse inbound message", "error", err)
		return
	}
	if msg.UserID == "" || msg.Text == "" {
		return
	}

	reply, err := p.engine.HandleMessage(ctx, msg.UserID, msg.ChannelID, msg.Text)
	if err != nil {
		p.logger.Error("turn failed", "user", msg.UserID, "error", err)
	}
	p.sendReply(ctx, msg.UserID, msg.ChannelID, reply)
	p.maybePostPreview(ctx, msg.UserID)
}

// HandleReaction is the NATS handler for swarm.slack.reaction. A reaction on
// a tracked preview message stands in for a typed yes or no.
func (p *Processor) HandleReaction(subject string, data []byte) {
	ctx := context.Background()

	evt, err := slack.ParseReactionEvent(data)
	if err != nil {
		p.logger.Error("failed to parse reaction", "error", err)
		return
	}

	verdict := slack.ParseReaction(evt.Reaction)
	if verdict == slack.VerdictUnknown {
		return
	}

	p.mu.Lock()
	userID, ok := p.pendingPreviews[evt.MessageTS]
	if ok {
		delete(p.pendingPreviews, evt.MessageTS)
	}
	p.mu.Unlock()
	if !ok {
		return // not a message we are tracking
	}

	text := "yes"
	if verdict == slack.VerdictCancel {
		text = "no"
	}
	p.logger.Info("preview reaction",
		"user", userID,
		"reaction", evt.Reaction,
		"verdict", string(verdict))

	reply, err := p.engine.HandleMessage(ctx, userID, evt.Channel, text)
	if err != nil {
		p.logger.Error("reaction turn failed", "user", userID, "error", err)
	}
	p.sendReply(ctx, userID, evt.Channel, reply)
}

// Register announces envoy's presence and capabilities on the swarm bus.
func (p *Processor) Register() {
	if err := p.bus.Publish(hermes.SubjectRegistered, map[string]any{
		"agent":        "envoy",
		"capabilities": []string{"task.delegate", "task.clarify", "task.batch"},
	}); err != nil {
		p.logger.Warn("failed to publish registration", "error", err)
	}
}

// Notify implements the watchdog's notifier: sweep-produced notifications
// are delivered the same way as turn notifications.
func (p *Processor) Notify(ctx context.Context, n engine.Notification) error {
	return p.deliverNotification(ctx, n)
}

func (p *Processor) sendReply(ctx context.Context, userID, channelID string, reply engine.Reply) {
	if reply.Text != "" {
		if err := p.bus.Publish(hermes.SubjectReply, hermes.Reply{
			UserID:    userID,
			ChannelID: channelID,
			Text:      reply.Text,
		}); err != nil {
			p.logger.Error("failed to publish reply", "user", userID, "error", err)
		}
	}
	for _, n := range reply.Notify {
		if err := p.deliverNotification(ctx, n); err != nil {
			p.logger.Error("failed to deliver notification", "user", n.UserID, "error", err)
		}
	}
	p.announceCreated(ctx, reply.Created)
}

// deliverNotification prefers a Slack DM when a poster is configured and
// falls back to the gateway's notify subject.
func (p *Processor) deliverNotification(ctx context.Context, n engine.Notification) error {
	if p.poster != nil {
		if err := p.poster.PostDM(ctx, n.UserID, n.Text); err == nil {
			return nil
		} else {
			p.logger.Warn("slack dm failed, falling back to gateway", "user", n.UserID, "error", err)
		}
	}
	return p.bus.Publish(hermes.SubjectNotify, hermes.Notification{
		UserID: n.UserID,
		Text:   n.Text,
	})
}

// announceCreated mirrors freshly created tasks into the tasks channel when
// a poster is configured. The threaded reply carries the original request
// for context.
func (p *Processor) announceCreated(ctx context.Context, created []engine.CreatedTask) {
	if p.poster == nil {
		return
	}
	for _, c := range created {
		ts, err := p.poster.AnnounceTask(ctx, c.Spec, c.Requester)
		if err != nil {
			p.logger.Warn("failed to announce task", "title", c.Spec.Title, "error", err)
			continue
		}
		if c.Origin != "" {
			if err := p.poster.PostThread(ctx, ts, "> "+c.Origin); err != nil {
				p.logger.Warn("failed to post announcement thread", "ts", ts, "error", err)
			}
		}
	}
}

// maybePostPreview mirrors a drafted preview into Slack with reaction
// shortcuts when a poster is configured. The typed yes/no path keeps
// working regardless; the reaction is a convenience on top.
func (p *Processor) maybePostPreview(ctx context.Context, userID string) {
	if p.poster == nil {
		return
	}
	conv, err := p.store.GetActive(ctx, userID)
	if err != nil || conv.Stage != conversation.StagePreview || conv.Spec == nil {
		return
	}

	ts, err := p.poster.PostPreview(ctx, conv.ChannelID, previewText(conv))
	if err != nil {
		p.logger.Warn("failed to post preview to slack", "user", userID, "error", err)
		return
	}
	p.mu.Lock()
	p.pendingPreviews[ts] = userID
	p.mu.Unlock()
}

func previewText(conv *conversation.Conversation) string {
	spec := conv.Spec
	text := "*Draft task:* " + spec.Title
	if spec.Assignee != "" {
		text += "\n*Assignee:* " + spec.Assignee
	}
	text += "\n*Priority:* " + spec.Priority
	if spec.Deadline != "" {
		text += "\n*Due:* " + spec.Deadline
	}
	return text
}
