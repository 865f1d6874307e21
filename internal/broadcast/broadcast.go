// internal/broadcast/broadcast.go
package broadcast

import (
	"time"

	"github.com/google/uuid"
)

// Emitter sends events scoped to one room.
type Emitter interface {
	Emit(event string, payload interface{})
}

// Broadcaster is the engine-facing contract: events go to a room's
// subscribers, and selected events are mirrored to the cluster pub/sub
// channels so other replicas can relay them to their own sockets.
type Broadcaster interface {
	To(roomID string) Emitter
}

// ChatMessage is the payload for user-visible chat:message events. Type
// "private" messages are delivered only to the target user's sockets and
// published on the private channel.
type ChatMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// NewChatMessage builds a public bot chat line.
func NewChatMessage(username, message string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Type:      "text",
		Username:  username,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewPrivateMessage builds a chat line visible only to userID.
func NewPrivateMessage(userID, username, message string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Type:      "private",
		UserID:    userID,
		Username:  username,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// CreditsUpdate is the payload for credits:updated events.
type CreditsUpdate struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}
