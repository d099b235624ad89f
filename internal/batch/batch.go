// Package batch handles multi-task messages: detecting that one message
// encodes several task requests, tracking the resulting sub-conversations
// under stable indices, and parsing numbered answers and confirmations.
package batch

import (
	"time"

	"github.com/MikeSquared-Agency/envoy/internal/conversation"
)

// Item is one sub-conversation within a batch, addressed by its index as
// presented to the requester (1-based).
type Item struct {
	Index int                        `json:"index"`
	Conv  *conversation.Conversation `json:"conv"`
}

// Session groups the sub-conversations split from one multi-task message.
// Exactly one of AwaitingAnswers / AwaitingConfirm is set while the batch is
// alive; destroyed when every item reaches a terminal outcome.
type Session struct {
	UserID          string    `json:"user_id"`
	ChannelID       string    `json:"channel_id"`
	Items           []Item    `json:"items"`
	AwaitingAnswers bool      `json:"awaiting_answers"`
	AwaitingConfirm bool      `json:"awaiting_confirm"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
}

// NewSession builds a batch session over already-created sub-conversations.
func NewSession(userID, channelID string, convs []*conversation.Conversation) *Session {
	now := time.Now().UTC()
	s := &Session{
		UserID:       userID,
		ChannelID:    channelID,
		CreatedAt:    now,
		LastActivity: now,
	}
	for i, c := range convs {
		s.Items = append(s.Items, Item{Index: i + 1, Conv: c})
	}
	return s
}

// Item returns the item with the given presented index.
func (s *Session) Item(index int) (*Item, bool) {
	for i := range s.Items {
		if s.Items[i].Index == index {
			return &s.Items[i], true
		}
	}
	return nil, false
}

// Remove drops the item with the given index. Callers renumber afterwards
// when re-presenting the batch.
func (s *Session) Remove(index int) {
	for i := range s.Items {
		if s.Items[i].Index == index {
			s.Items = append(s.Items[:i], s.Items[i+1:]...)
			return
		}
	}
}

// Renumber reassigns presented indices 1..n after a shrink.
func (s *Session) Renumber() {
	for i := range s.Items {
		s.Items[i].Index = i + 1
	}
}

// Empty reports whether every item has reached a terminal outcome.
func (s *Session) Empty() bool {
	return len(s.Items) == 0
}

// GlobalQuestion addresses one question in the consolidated numbered list:
// the item it belongs to and the question's position within that item.
type GlobalQuestion struct {
	Number    int // position in the consolidated list, 1-based
	ItemIndex int // Item.Index owning the question
	QPos      int // position within the item's question slice
	Text      string
	Options   []string
}

// GlobalQuestions flattens per-item unresolved questions into the single
// consolidated list shown to the requester, in item order.
func (s *Session) GlobalQuestions() []GlobalQuestion {
	var out []GlobalQuestion
	n := 0
	for i := range s.Items {
		item := &s.Items[i]
		for qi := range item.Conv.Questions {
			q := &item.Conv.Questions[qi]
			if q.Resolved() {
				continue
			}
			n++
			out = append(out, GlobalQuestion{
				Number:    n,
				ItemIndex: item.Index,
				QPos:      qi,
				Text:      q.Text,
				Options:   q.Options,
			})
		}
	}
	return out
}
