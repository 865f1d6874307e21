// internal/router/serializer.go
package router

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chatwave/games/internal/metrics"
)

// Serializer guarantees in-order command handling per room while letting
// rooms progress in parallel. Commands append to an in-memory FIFO keyed by
// room; a single worker per room drains its queue and the queue is removed
// once empty.
type Serializer struct {
	handler func(ctx context.Context, cmd Command)
	log     *logrus.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	queues map[string][]Command
	wg     sync.WaitGroup
}

// NewSerializer builds a serializer that feeds handler.
func NewSerializer(handler func(ctx context.Context, cmd Command), m *metrics.Metrics, log *logrus.Logger) *Serializer {
	return &Serializer{
		handler: handler,
		log:     log,
		metrics: m,
		queues:  make(map[string][]Command),
	}
}

// Enqueue appends the command to its room's queue, spawning a worker if the
// room had none.
func (s *Serializer) Enqueue(ctx context.Context, cmd Command) {
	s.mu.Lock()
	_, running := s.queues[cmd.RoomID]
	s.queues[cmd.RoomID] = append(s.queues[cmd.RoomID], cmd)
	s.mu.Unlock()

	if !running {
		if s.metrics != nil {
			s.metrics.ActiveRooms.Inc()
		}
		s.wg.Add(1)
		go s.drain(ctx, cmd.RoomID)
	}
}

// drain processes the room's queue until it is empty, then removes it.
func (s *Serializer) drain(ctx context.Context, roomID string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.queues[roomID]
		if len(queue) == 0 {
			delete(s.queues, roomID)
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.ActiveRooms.Dec()
			}
			return
		}
		cmd := queue[0]
		s.queues[roomID] = queue[1:]
		s.mu.Unlock()

		s.handle(ctx, cmd)
	}
}

// handle runs one command with a panic fence, so a fault in one room's
// handler never takes down the other rooms or the subscriber.
func (s *Serializer) handle(ctx context.Context, cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{"room": cmd.RoomID, "user": cmd.UserID, "panic": r}).Error("command handler panicked")
		}
	}()
	s.handler(ctx, cmd)
}

// Wait blocks until every room queue has drained; used during shutdown.
func (s *Serializer) Wait() {
	s.wg.Wait()
}
