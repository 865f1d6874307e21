// internal/broadcast/hub.go
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Pub/sub channels shared with sibling services and other replicas.
const (
	ChannelChatMessage    = "game:chat:message"
	ChannelCreditsUpdate  = "game:credits:update"
	ChannelPrivateMessage = "game:private:message"
)

// Hub fans room events out to the room's websocket subscribers and mirrors
// chat/credits events onto the cluster pub/sub channels. Delivery is
// at-least-once; clients are assumed idempotent.
type Hub struct {
	rdb *redis.Client
	log *logrus.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// Client is one registered socket subscription.
type Client struct {
	RoomID string
	UserID string
	conn   *websocket.Conn
}

// NewHub builds a broadcast hub over the shared Redis client.
func NewHub(rdb *redis.Client, log *logrus.Logger) *Hub {
	return &Hub{
		rdb:   rdb,
		log:   log,
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// Register adds a socket to a room's subscriber set.
func (h *Hub) Register(roomID, userID string, conn *websocket.Conn) *Client {
	c := &Client{RoomID: roomID, UserID: userID, conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	return c
}

// Unregister removes a socket from its room's subscriber set.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.rooms[c.RoomID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, c.RoomID)
		}
	}
}

// To returns an emitter scoped to one room.
func (h *Hub) To(roomID string) Emitter {
	return roomEmitter{hub: h, roomID: roomID}
}

type roomEmitter struct {
	hub    *Hub
	roomID string
}

type envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Emit delivers the event to the room's sockets and mirrors it to the
// cluster channels where the contract requires it.
func (e roomEmitter) Emit(event string, payload interface{}) {
	h := e.hub

	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		h.log.WithFields(logrus.Fields{"room": e.roomID, "event": event, "error": err}).Error("failed to encode broadcast event")
		return
	}

	// A chat message typed private only reaches the target user's sockets.
	privateTo := ""
	if msg, ok := payload.(ChatMessage); ok && msg.Type == "private" {
		privateTo = msg.UserID
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[e.roomID]))
	for c := range h.rooms[e.roomID] {
		if privateTo != "" && c.UserID != privateTo {
			continue
		}
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			h.log.WithFields(logrus.Fields{"room": e.roomID, "user": c.UserID, "error": err}).Warn("socket write failed, dropping subscriber")
			h.Unregister(c)
		}
		cancel()
	}

	e.publish(event, payload)
}

// publish mirrors the event to the cross-replica channels per the contract.
func (e roomEmitter) publish(event string, payload interface{}) {
	h := e.hub
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch event {
	case "chat:message":
		msg, ok := payload.(ChatMessage)
		if ok && msg.Type == "private" {
			h.publishJSON(ctx, ChannelPrivateMessage, map[string]interface{}{
				"roomId":      e.roomID,
				"userId":      msg.UserID,
				"messageData": msg,
			})
			return
		}
		h.publishJSON(ctx, ChannelChatMessage, map[string]interface{}{
			"roomId":      e.roomID,
			"messageData": payload,
		})
	case "credits:updated":
		upd, ok := payload.(CreditsUpdate)
		if !ok {
			return
		}
		h.publishJSON(ctx, ChannelCreditsUpdate, map[string]interface{}{
			"roomId":  e.roomID,
			"userId":  upd.UserID,
			"balance": upd.Balance,
		})
	}
}

func (h *Hub) publishJSON(ctx context.Context, channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.WithFields(logrus.Fields{"channel": channel, "error": err}).Error("failed to encode pub/sub payload")
		return
	}
	if err := h.rdb.Publish(ctx, channel, data).Err(); err != nil {
		h.log.WithFields(logrus.Fields{"channel": channel, "error": err}).Warn("pub/sub publish failed")
	}
}
