// internal/router/router.go
package router

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/chatwave/games/internal/broadcast"
	"github.com/chatwave/games/internal/gamestate"
	"github.com/chatwave/games/internal/lowcard"
	"github.com/chatwave/games/internal/metrics"
)

// Router maps chat strings onto engine entry points. Matching happens on the
// trimmed, lowercased message; the original text is preserved for echo.
// Commands fall into three buckets: admin bot commands, play commands scoped
// to the room's active game type, and lifecycle commands dispatched to
// whichever game's bot is installed.
type Router struct {
	lowcard *lowcard.Engine
	state   *gamestate.Directory
	bc      broadcast.Broadcaster
	metrics *metrics.Metrics
	log     *logrus.Logger
}

// New builds a router. DiceBot and FlagBot are not deployed in this service;
// their scoped commands are consumed silently so they never leak into chat.
func New(lc *lowcard.Engine, state *gamestate.Directory, bc broadcast.Broadcaster, m *metrics.Metrics, log *logrus.Logger) *Router {
	return &Router{lowcard: lc, state: state, bc: bc, metrics: m, log: log}
}

// Dispatch routes one command. It is only ever called from the per-room
// serializer, so commands for one room arrive here strictly in order.
func (r *Router) Dispatch(ctx context.Context, cmd Command) {
	raw := strings.TrimSpace(cmd.Message)
	normalized := strings.ToLower(raw)
	if normalized == "" {
		return
	}

	switch {
	case strings.HasPrefix(normalized, "/bot ") || strings.HasPrefix(normalized, "/add bot "):
		r.count("admin")
		r.deliver(cmd, r.dispatchAdmin(ctx, cmd, normalized))
	case strings.HasPrefix(normalized, "!"):
		r.dispatchPlay(ctx, cmd, normalized)
	}
}

// dispatchAdmin handles /bot <game> <add|remove> and the /add bot alias.
func (r *Router) dispatchAdmin(ctx context.Context, cmd Command, normalized string) lowcard.Result {
	fields := strings.Fields(normalized)
	// "/add bot lowcard" => "/bot lowcard add"
	if fields[0] == "/add" && len(fields) >= 3 {
		fields = []string{"/bot", fields[2], "add"}
	}
	if len(fields) < 3 {
		return lowcard.Silent()
	}
	game, action := fields[1], fields[2]

	switch game {
	case "lowcard":
		switch action {
		case "add":
			defaultAmount := int64(0)
			if len(fields) > 3 {
				if v, err := strconv.ParseInt(fields[3], 10, 64); err == nil {
					defaultAmount = v
				}
			}
			return r.lowcard.AddBot(ctx, cmd.RoomID, cmd.UserID, defaultAmount)
		case "remove":
			return r.lowcard.RemoveBot(ctx, cmd.RoomID, cmd.UserID)
		case "stop":
			return r.lowcard.StopGame(ctx, cmd.RoomID)
		}
	case "dice", "flagh":
		// Siblings of this service; their bot managers are not deployed here.
		r.log.WithFields(logrus.Fields{"room": cmd.RoomID, "game": game}).Debug("ignoring admin command for undeployed game")
		return lowcard.Silent()
	}
	return lowcard.Silent()
}

// dispatchPlay handles the ! commands.
func (r *Router) dispatchPlay(ctx context.Context, cmd Command, normalized string) {
	fields := strings.Fields(normalized)
	verb := fields[0]

	active, err := r.state.Active(ctx, cmd.RoomID)
	if err != nil {
		r.log.WithFields(logrus.Fields{"room": cmd.RoomID, "error": err}).Warn("active game lookup failed")
	}

	switch verb {
	case "!d":
		// Scoped: only honored when LowCard owns the room.
		r.count("scoped")
		if active != lowcard.GameType {
			return
		}
		r.deliver(cmd, r.lowcard.DrawCard(ctx, cmd.RoomID, cmd.UserID, cmd.Username))
	case "!r", "!roll", "!fg", "!b", "!lock":
		// DiceBot / FlagBot scoped commands; consumed silently here.
		r.count("scoped")
	case "!start":
		r.count("lifecycle")
		amount, hasAmount := int64(0), false
		if len(fields) > 1 {
			v, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				r.deliver(cmd, lowcard.Pvt("Usage: !start <amount>"))
				return
			}
			amount, hasAmount = v, true
		}
		r.deliver(cmd, r.lowcard.StartGame(ctx, cmd.RoomID, cmd.UserID, cmd.Username, amount, hasAmount))
	case "!j", "!join":
		r.count("lifecycle")
		if !r.lowcard.IsBotActive(ctx, cmd.RoomID) {
			return
		}
		r.deliver(cmd, r.lowcard.JoinGame(ctx, cmd.RoomID, cmd.UserID, cmd.Username))
	case "!cancel":
		r.count("lifecycle")
		if !r.lowcard.IsBotActive(ctx, cmd.RoomID) {
			return
		}
		r.deliver(cmd, r.lowcard.CancelByStarter(ctx, cmd.RoomID, cmd.UserID))
	case "!stop":
		r.count("lifecycle")
		if !r.lowcard.IsBotActive(ctx, cmd.RoomID) {
			return
		}
		r.deliver(cmd, r.lowcard.StopGame(ctx, cmd.RoomID))
	case "!reset", "!rezet":
		r.count("lifecycle")
		if !r.lowcard.IsBotActive(ctx, cmd.RoomID) {
			return
		}
		r.deliver(cmd, r.lowcard.ResetGame(ctx, cmd.RoomID, cmd.Username))
	case "!n":
		// Consumed by the engines without output.
		r.count("lifecycle")
	}
}

// deliver surfaces a Result to chat. Successful operations broadcast their
// own room messages from inside the engine, so only failures speak here.
func (r *Router) deliver(cmd Command, res lowcard.Result) {
	if res.Silent || res.Message == "" {
		return
	}
	if res.IsPvt {
		r.bc.To(cmd.RoomID).Emit("chat:message", broadcast.NewPrivateMessage(cmd.UserID, "LowCard", res.Message))
		return
	}
	if !res.Success {
		r.bc.To(cmd.RoomID).Emit("chat:message", broadcast.NewChatMessage("LowCard", res.Message))
	}
}

func (r *Router) count(bucket string) {
	if r.metrics != nil {
		r.metrics.Commands.WithLabelValues(bucket).Inc()
	}
}
