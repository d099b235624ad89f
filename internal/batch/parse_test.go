package batch

import "testing"

func TestParseAnswersCompact(t *testing.T) {
	got := ParseAnswers("1 John 2 high priority", 2)
	if got[1] != "John" {
		t.Errorf("expected answer 1 John, got %q", got[1])
	}
	if got[2] != "high priority" {
		t.Errorf("expected answer 2 'high priority', got %q", got[2])
	}
}

func TestParseAnswersPackedTokens(t *testing.T) {
	got := ParseAnswers("1) John 2) tomorrow", 2)
	if got[1] != "John" || got[2] != "tomorrow" {
		t.Errorf("unexpected answers: %v", got)
	}
}

func TestParseAnswersEmbeddedNumberStaysWhole(t *testing.T) {
	// A number inside an answer is content, not an index.
	got := ParseAnswers("ship by 3", 3)
	if len(got) != 1 || got[1] != "ship by 3" {
		t.Errorf("expected one positional answer, got %v", got)
	}
}

func TestParseAnswersPositionalLineWithNumber(t *testing.T) {
	got := ParseAnswers("John\nship by 3", 3)
	if got[1] != "John" || got[2] != "ship by 3" {
		t.Errorf("unexpected answers: %v", got)
	}
	if _, ok := got[3]; ok {
		t.Errorf("embedded number captured as index: %v", got)
	}
}

func TestParseAnswersPositionalLines(t *testing.T) {
	got := ParseAnswers("John\nhigh\n", 3)
	if len(got) != 2 {
		t.Fatalf("expected 2 answers, got %v", got)
	}
	if got[1] != "John" || got[2] != "high" {
		t.Errorf("unexpected answers: %v", got)
	}
}

func TestParseAnswersIgnoresOutOfRange(t *testing.T) {
	got := ParseAnswers("1 John 9 nobody", 2)
	if got[1] != "John" {
		t.Errorf("expected answer 1 John, got %q", got[1])
	}
	if _, ok := got[9]; ok {
		t.Error("out-of-range index must be ignored")
	}
}

func TestParseConfirmationsBroadcast(t *testing.T) {
	c := ParseConfirmations("yes", 3)
	if c.All == nil || *c.All != DirectiveYes {
		t.Fatalf("expected broadcast yes, got %+v", c)
	}
	c = ParseConfirmations("No", 3)
	if c.All == nil || *c.All != DirectiveNo {
		t.Fatalf("expected broadcast no, got %+v", c)
	}
}

func TestParseConfirmationsPerItem(t *testing.T) {
	c := ParseConfirmations("1 yes 2 no 3 edit", 3)
	if c.All != nil {
		t.Fatal("expected per-item directives, got broadcast")
	}
	if c.PerItem[1] != DirectiveYes || c.PerItem[2] != DirectiveNo || c.PerItem[3] != DirectiveEdit {
		t.Errorf("unexpected directives: %v", c.PerItem)
	}
	if !c.Recognized {
		t.Error("expected Recognized")
	}
}

func TestParseConfirmationsUnmatched(t *testing.T) {
	c := ParseConfirmations("1 yes 2 whatever", 2)
	if c.PerItem[1] != DirectiveYes {
		t.Errorf("expected item 1 yes, got %v", c.PerItem)
	}
	if _, ok := c.PerItem[2]; ok {
		t.Error("unparseable directive must not map to an action")
	}
	if len(c.Unmatched) != 1 || c.Unmatched[0] != 2 {
		t.Errorf("expected item 2 reported unmatched, got %v", c.Unmatched)
	}
}

func TestParseConfirmationsEditText(t *testing.T) {
	c := ParseConfirmations("1 yes 2 change the priority to high", 2)
	if c.PerItem[2] != DirectiveEdit {
		t.Fatalf("expected item 2 edit, got %v", c.PerItem)
	}
	if c.EditText[2] != "the priority to high" {
		t.Errorf("expected inline edit text preserved, got %q", c.EditText[2])
	}
}

func TestParseConfirmationsNothing(t *testing.T) {
	c := ParseConfirmations("tell me more", 2)
	if c.Recognized {
		t.Errorf("expected nothing recognized, got %+v", c)
	}
}

func TestGlobalQuestions(t *testing.T) {
	s := sessionWithQuestions(t)
	qs := s.GlobalQuestions()
	if len(qs) != 3 {
		t.Fatalf("expected 3 consolidated questions, got %d", len(qs))
	}
	if qs[0].Number != 1 || qs[0].ItemIndex != 1 {
		t.Errorf("unexpected first question: %+v", qs[0])
	}
	if qs[1].Number != 2 || qs[1].ItemIndex != 2 || qs[1].QPos != 1 {
		t.Errorf("unexpected second question: %+v", qs[1])
	}
	if qs[2].Number != 3 || qs[2].ItemIndex != 2 || qs[2].QPos != 2 {
		t.Errorf("unexpected last question: %+v", qs[2])
	}
}

func TestRenumberAfterShrink(t *testing.T) {
	s := sessionWithQuestions(t)
	s.Remove(1)
	s.Renumber()
	if len(s.Items) != 1 || s.Items[0].Index != 1 {
		t.Fatalf("expected single renumbered item, got %+v", s.Items)
	}
	if !s.Empty() {
		s.Remove(1)
	}
	if !s.Empty() {
		t.Error("expected empty session after removing all items")
	}
}
