// internal/router/command.go
package router

// Command is one chat command as delivered on the game:command channel.
type Command struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Message  string `json:"message"`
	SocketID string `json:"socketId,omitempty"`
}

// ChannelCommand is the cluster pub/sub channel commands arrive on.
const ChannelCommand = "game:command"
