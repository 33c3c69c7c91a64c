package model

// Role identifies who produced an event in a conversation's log.
// The values are stored verbatim by every repository backend.
type Role string

const (
	// RoleUser marks the caller's prompt for a turn.
	RoleUser Role = "USER"

	// RoleAssistant marks the agent's response for a turn.
	RoleAssistant Role = "ASSISTANT"

	// RoleOther marks bookkeeping events, such as session markers,
	// that are not part of the visible conversation.
	RoleOther Role = "OTHER"
)

// Event is a single entry in a conversation's append-only log.
type Event struct {
	Text string `json:"text" bson:"text"`
	Role Role   `json:"role" bson:"role"`
}
