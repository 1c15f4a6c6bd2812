package models

import "strings"

// Roles in a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ArtifactPlaceholder replaces verbatim artifact bodies when history is
// rebuilt, keeping multi-turn context within budget.
const ArtifactPlaceholder = "Generated report with requested features."

// ConversationTurn is one message in a job's conversation history.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationHistory is the ordered user/assistant exchange for a
// conversation, owned by the pipeline executor for the job's lifetime.
type ConversationHistory []ConversationTurn

// UserQueries returns the content of every user turn, in order.
func (h ConversationHistory) UserQueries() []string {
	var queries []string
	for _, t := range h {
		if t.Role == RoleUser {
			queries = append(queries, t.Content)
		}
	}
	return queries
}

// Compact returns a copy of the history with verbatim artifact bodies in
// assistant turns replaced by a short placeholder. Assistant turns written
// by this system are already summaries; this guards histories rebuilt from
// persisted turns that captured a full artifact.
func (h ConversationHistory) Compact() ConversationHistory {
	out := make(ConversationHistory, 0, len(h))
	for _, t := range h {
		if t.Role == RoleAssistant && looksLikeArtifact(t.Content) {
			out = append(out, ConversationTurn{Role: RoleAssistant, Content: ArtifactPlaceholder})
			continue
		}
		out = append(out, t)
	}
	return out
}

func looksLikeArtifact(content string) bool {
	lower := strings.ToLower(strings.TrimSpace(content))
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		return true
	}
	// A markdown report: starts with a top-level heading and is far longer
	// than any summary turn this system writes back.
	return strings.HasPrefix(lower, "# ") && len(content) > 1000
}
