package engine

import (
	"strings"

	"github.com/MikeSquared-Agency/envoy/internal/batch"
)

var startCommands = []string{"create task", "new task", "task:"}

func isYes(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "yep", "yeah", "ok", "confirm", "confirmed", "create it", "do it":
		return true
	}
	return false
}

func isNo(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "no", "n", "nope":
		return true
	}
	return false
}

func isCancel(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "cancel", "stop", "abort", "nevermind", "never mind", "forget it":
		return true
	}
	return false
}

func isSkip(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "skip", "skip all", "done", "just do it", "use defaults", "defaults":
		return true
	}
	return false
}

// isStartCommand reports whether the message explicitly starts a new task,
// superseding whatever conversation is in flight.
func isStartCommand(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, c := range startCommands {
		if strings.HasPrefix(lower, c) {
			return true
		}
	}
	return false
}

// splitSegments is the advisory multi-task detector.
func splitSegments(text string) []string {
	return batch.Split(text)
}
