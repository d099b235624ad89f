package hermes

import (
	"encoding/json"
	"testing"
)

func TestInboundMessageParsing(t *testing.T) {
	raw := `{
		"user_id": "U123",
		"user_name": "mike",
		"channel_id": "C456",
		"text": "Create task for John: Fix login bug",
		"privileged": true
	}`

	var msg InboundMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("failed to parse InboundMessage: %v", err)
	}

	if msg.UserID != "U123" {
		t.Errorf("expected user_id 'U123', got '%s'", msg.UserID)
	}
	if msg.ChannelID != "C456" {
		t.Errorf("expected channel_id 'C456', got '%s'", msg.ChannelID)
	}
	if msg.Text != "Create task for John: Fix login bug" {
		t.Errorf("unexpected text: %s", msg.Text)
	}
	if !msg.Privileged {
		t.Error("expected privileged true")
	}
}

func TestTaskCreatedRoundTrip(t *testing.T) {
	evt := TaskCreated{
		TaskID:         "t-1",
		ConversationID: "c-1",
		Title:          "Fix login bug",
		Assignee:       "John",
		Priority:       "high",
		CreatedBy:      "U123",
		ChannelID:      "C456",
	}

	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatal(err)
	}
	var back TaskCreated
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != evt {
		t.Errorf("round trip mismatch: %+v != %+v", back, evt)
	}
}
