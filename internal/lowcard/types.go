// internal/lowcard/types.go
package lowcard

import (
	"time"

	"github.com/chatwave/games/internal/deck"
)

// GameType identifies LowCard in the active-game directory and key patterns.
const GameType = "lowcard"

// GameStatus is the lifecycle status of a game snapshot. Transitions run
// waiting -> playing -> finished only; cancel, reset, and stale cleanup
// delete the snapshot instead of rewinding it.
type GameStatus string

const (
	StatusWaiting  GameStatus = "waiting"
	StatusPlaying  GameStatus = "playing"
	StatusFinished GameStatus = "finished"
)

// Player is one participant of a game snapshot. CurrentCard and HasDrawn
// reset at the start of every round the player is in scope for.
type Player struct {
	UserID       string     `json:"userId"`
	Username     string     `json:"username"`
	IsEliminated bool       `json:"isEliminated"`
	HasDrawn     bool       `json:"hasDrawn"`
	CurrentCard  *deck.Card `json:"currentCard"`
	InTieBreaker bool       `json:"inTieBreaker"`
}

// Game is the full per-room snapshot persisted in the keyed store under
// lowcard:game:{roomID}. Deadlines are epoch milliseconds so they survive
// process restarts; the timer poller, not a suspended computation, advances
// the state machine when they pass.
type Game struct {
	ID                string     `json:"id"`
	DBID              int64      `json:"dbId"`
	RoomID            string     `json:"roomId"`
	Status            GameStatus `json:"status"`
	EntryAmount       int64      `json:"entryAmount"`
	Pot               int64      `json:"pot"`
	CurrentRound      int        `json:"currentRound"`
	Players           []*Player  `json:"players"`
	StartedBy         string     `json:"startedBy"`
	StartedByUsername string     `json:"startedByUsername"`
	CreatedAt         time.Time  `json:"createdAt"`
	JoinDeadline      int64      `json:"joinDeadline"`
	CountdownEndsAt   int64      `json:"countdownEndsAt"`
	RoundDeadline     int64      `json:"roundDeadline"`
	IsTieBreaker      bool       `json:"isTieBreaker"`
	WasTieBreaker     bool       `json:"wasTieBreaker"`
	IsRoundStarted    bool       `json:"isRoundStarted"`
	WinnerID          string     `json:"winnerId,omitempty"`
	WinnerUsername    string     `json:"winnerUsername,omitempty"`
	Winnings          int64      `json:"winnings,omitempty"`
	HouseFee          int64      `json:"houseFee,omitempty"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
}

// FindPlayer returns the player with userID, or nil.
func (g *Game) FindPlayer(userID string) *Player {
	for _, p := range g.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// ActivePlayers returns the players still in the game.
func (g *Game) ActivePlayers() []*Player {
	var active []*Player
	for _, p := range g.Players {
		if !p.IsEliminated {
			active = append(active, p)
		}
	}
	return active
}

// InScopePlayers returns the players expected to draw this round: every
// active player in a normal round, exactly the tied players in a tie-breaker.
func (g *Game) InScopePlayers() []*Player {
	active := g.ActivePlayers()
	if !g.IsTieBreaker {
		return active
	}
	var tied []*Player
	for _, p := range active {
		if p.InTieBreaker {
			tied = append(tied, p)
		}
	}
	return tied
}

// AllInScopeDrawn reports whether every in-scope player has drawn.
func (g *Game) AllInScopeDrawn() bool {
	scope := g.InScopePlayers()
	if len(scope) == 0 {
		return false
	}
	for _, p := range scope {
		if !p.HasDrawn {
			return false
		}
	}
	return true
}

// Result is what every engine entry point returns. Validation failures carry
// a private message for the caller; silent rejects produce no chat output at
// all. Infrastructure faults never escape as errors: they are refunded,
// logged, and surfaced as a Result.
type Result struct {
	Success bool
	Message string
	IsPvt   bool
	Silent  bool
}

// Silent is a no-output reject, for callers outside the engine.
func Silent() Result { return silent() }

// Pvt is a private validation message, for callers outside the engine.
func Pvt(message string) Result { return pvt(message) }

func ok(message string) Result {
	return Result{Success: true, Message: message}
}

func pvt(message string) Result {
	return Result{Success: false, Message: message, IsPvt: true}
}

func silent() Result {
	return Result{Success: false, Silent: true}
}

func busy() Result {
	return pvt("Server busy, please try again.")
}
