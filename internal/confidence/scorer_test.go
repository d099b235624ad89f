package confidence

import "testing"

func TestTitle(t *testing.T) {
	cases := []struct {
		title string
		min   float64
		max   float64
	}{
		{"", 0, 0},
		{"thing", 0.3, 0.3},
		{"fix login", 0.6, 0.6},
		{"fix the login redirect bug", 0.85, 0.85},
	}
	for _, c := range cases {
		got := Title(c.title)
		if got < c.min || got > c.max {
			t.Errorf("Title(%q) = %f, want [%f,%f]", c.title, got, c.min, c.max)
		}
	}
}

func TestAssignee(t *testing.T) {
	if Assignee("", false) != 0 {
		t.Error("empty assignee must score 0")
	}
	if Assignee("John", true) <= Assignee("John", false) {
		t.Error("directory match must outscore unknown name")
	}
	if NeedsQuestion(Assignee("John", true)) {
		t.Error("directory match must not need a question")
	}
	if !NeedsQuestion(Assignee("John", false)) {
		t.Error("unknown name must need a question")
	}
}

func TestPriority(t *testing.T) {
	if Priority("HIGH") != 0.95 {
		t.Errorf("known level must score 0.95, got %f", Priority("HIGH"))
	}
	if Priority("whenever") != 0.4 {
		t.Errorf("unknown level must score 0.4, got %f", Priority("whenever"))
	}
	if Priority(" ") != 0 {
		t.Error("blank priority must score 0")
	}
}

func TestCombine(t *testing.T) {
	if Combine() != 0 {
		t.Error("no scores must combine to 0")
	}
	if Combine(0, 0) != 0 {
		t.Error("all-zero scores must combine to 0")
	}
	got := Combine(0.8, 0, 0.6)
	if got < 0.69 || got > 0.71 {
		t.Errorf("expected mean of non-zero scores, got %f", got)
	}
}
