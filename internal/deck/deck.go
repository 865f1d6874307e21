// internal/deck/deck.go
package deck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "lowcard:deck:"
	deckTTL   = time.Hour
)

// Card is one card of the per-room deck. Value runs 2..14 with Jack=11,
// Queen=12, King=13, Ace=14; suits are h, d, c, s. Code is the wire token
// rendered by the chat client inside [CARD:<code>].
type Card struct {
	Value int    `json:"value"`
	Suit  string `json:"suit"`
	Code  string `json:"code"`
	Image string `json:"image"`
}

// Service keeps one shuffled 52-card deck per room in the keyed store.
// Draw pops from the tail and rewrites the remainder; a missing or exhausted
// deck is regenerated, so arbitrarily long games keep drawing.
type Service struct {
	rdb *redis.Client

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a deck service. src seeds the shuffle order; tests inject a
// fixed source for deterministic decks.
func New(rdb *redis.Client, src rand.Source) *Service {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Service{rdb: rdb, rng: rand.New(src)}
}

// Key returns the keyed-store key holding a room's deck.
func Key(roomID string) string {
	return keyPrefix + roomID
}

// Reset writes a freshly shuffled deck for the room.
func (s *Service) Reset(ctx context.Context, roomID string) error {
	return s.write(ctx, roomID, s.newDeck())
}

// Draw pops the tail card of the room's deck, regenerating the deck first if
// the key is missing or empty.
func (s *Service) Draw(ctx context.Context, roomID string) (Card, error) {
	cards, err := s.load(ctx, roomID)
	if err != nil {
		return Card{}, err
	}
	if len(cards) == 0 {
		cards = s.newDeck()
	}

	card := cards[len(cards)-1]
	if err := s.write(ctx, roomID, cards[:len(cards)-1]); err != nil {
		return Card{}, err
	}
	return card, nil
}

// Delete removes the room's deck; called when a game finishes or is cleaned up.
func (s *Service) Delete(ctx context.Context, roomID string) error {
	if err := s.rdb.Del(ctx, Key(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to delete deck for room %s: %w", roomID, err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, roomID string) ([]Card, error) {
	raw, err := s.rdb.Get(ctx, Key(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deck for room %s: %w", roomID, err)
	}
	var cards []Card
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		return nil, fmt.Errorf("failed to decode deck for room %s: %w", roomID, err)
	}
	return cards, nil
}

func (s *Service) write(ctx context.Context, roomID string, cards []Card) error {
	data, err := json.Marshal(cards)
	if err != nil {
		return fmt.Errorf("failed to encode deck for room %s: %w", roomID, err)
	}
	if err := s.rdb.Set(ctx, Key(roomID), data, deckTTL).Err(); err != nil {
		return fmt.Errorf("failed to write deck for room %s: %w", roomID, err)
	}
	return nil
}

// newDeck builds the 4x13 deck and Fisher-Yates shuffles it.
func (s *Service) newDeck() []Card {
	suits := []string{"h", "d", "c", "s"}
	cards := make([]Card, 0, 52)
	for _, suit := range suits {
		for value := 2; value <= 14; value++ {
			code := fmt.Sprintf("%d%s", value, suit)
			cards = append(cards, Card{
				Value: value,
				Suit:  suit,
				Code:  code,
				Image: fmt.Sprintf("/cards/%s.png", code),
			})
		}
	}

	s.mu.Lock()
	s.rng.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
	s.mu.Unlock()
	return cards
}
