// internal/router/subscriber.go
package router

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Subscriber receives commands off the cluster channel and feeds the
// serializer. The chat service publishes every game-prefixed message it sees;
// anything the router doesn't recognize is simply dropped downstream.
type Subscriber struct {
	rdb        *redis.Client
	serializer *Serializer
	log        *logrus.Logger
}

// NewSubscriber builds a subscriber over the shared redis client.
func NewSubscriber(rdb *redis.Client, serializer *Serializer, log *logrus.Logger) *Subscriber {
	return &Subscriber{rdb: rdb, serializer: serializer, log: log}
}

// Run subscribes to the command channel and pumps messages until ctx is
// cancelled. go-redis reconnects the subscription internally, so a dropped
// connection does not end the loop.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, ChannelCommand)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	s.log.WithField("channel", ChannelCommand).Info("command subscriber running")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var cmd Command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				s.log.WithFields(logrus.Fields{"error": err}).Warn("dropping malformed command payload")
				continue
			}
			if cmd.RoomID == "" || cmd.UserID == "" {
				continue
			}
			s.serializer.Enqueue(ctx, cmd)
		}
	}
}
