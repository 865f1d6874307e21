// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chatwave/games/internal/auth"
	"github.com/chatwave/games/internal/broadcast"
	"github.com/chatwave/games/internal/router"
)

// Gateway upgrades sockets, authenticates them, registers them with the
// broadcast hub, and forwards their chat lines onto the command channel. The
// gateway never touches the engines directly: a command from a local socket
// takes the same pub/sub path as one from another replica, so per-room
// ordering holds no matter where the player is connected.
type Gateway struct {
	auth *auth.Auth
	hub  *broadcast.Hub
	rdb  *redis.Client
	log  *logrus.Logger
}

// NewGateway builds a websocket gateway.
func NewGateway(a *auth.Auth, hub *broadcast.Hub, rdb *redis.Client, log *logrus.Logger) *Gateway {
	return &Gateway{auth: a, hub: hub, rdb: rdb, log: log}
}

// inbound is what clients send: one chat line at a time.
type inbound struct {
	Message string `json:"message"`
}

// Handler serves /ws/{roomID}. Clients authenticate with ?token= and present
// their display name with ?username=.
func (g *Gateway) Handler(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if roomID == "" || strings.Contains(roomID, "/") {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	userID, err := g.auth.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	username := r.URL.Query().Get("username")
	if username == "" {
		username = userID
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"game"},
	})
	if err != nil {
		g.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("websocket accept failed")
		return
	}
	if c.Subprotocol() != "game" {
		c.Close(websocket.StatusPolicyViolation, "client must speak the game subprotocol")
		return
	}

	client := g.hub.Register(roomID, userID, c)
	g.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "remote": r.RemoteAddr}).Info("websocket connected")

	err = g.readLoop(r.Context(), c, roomID, userID, username)
	g.hub.Unregister(client)
	c.Close(websocket.StatusNormalClosure, "")

	fields := logrus.Fields{"room": roomID, "user": userID}
	if err != nil && !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		fields["error"] = err
	}
	g.log.WithFields(fields).Info("websocket disconnected")
}

// readLoop pumps client messages onto the command channel until the socket
// closes.
func (g *Gateway) readLoop(ctx context.Context, c *websocket.Conn, roomID, userID, username string) error {
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return err
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			g.log.WithFields(logrus.Fields{"room": roomID, "user": userID}).Debug("dropping malformed client frame")
			continue
		}
		if strings.TrimSpace(in.Message) == "" {
			continue
		}

		cmd := router.Command{
			RoomID:   roomID,
			UserID:   userID,
			Username: username,
			Message:  in.Message,
		}
		payload, err := json.Marshal(cmd)
		if err != nil {
			continue
		}

		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := g.rdb.Publish(pubCtx, router.ChannelCommand, payload).Err(); err != nil {
			g.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "error": err}).Warn("command publish failed")
		}
		cancel()
	}
}
