package chat

import (
	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/utils/text"
)

// DefaultHistoryBudget is the approximate token count of prior
// conversation given to the agent
const DefaultHistoryBudget = 6000

// recentHistory keeps the newest messages whose cumulative size fits in
// budget. The stored history is left untouched.
func recentHistory(history []model.ChatMessage, budget int) []model.ChatMessage {
	if budget <= 0 || len(history) == 0 {
		return history
	}

	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += text.ApproxTokens(history[i].Content)
		if total > budget {
			break
		}
		start = i
	}

	// never open the window on an assistant reply
	for start < len(history) && history[start].Role == model.RoleAssistant {
		start++
	}
	return history[start:]
}
