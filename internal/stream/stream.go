// Package stream fan-outs settled transfer events to SSE subscribers.
package stream

import (
	"context"
	"sync"
	"time"
)

// TransferEvent describes one settled ledger movement. Engine and Op name
// the component and operation that caused it; plain ledger transfers carry
// engine "ledger" and op "transfer".
type TransferEvent struct {
	Engine    string    `json:"engine"`
	Op        string    `json:"op"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs transfer events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan TransferEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan TransferEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan TransferEvent {
	ch := make(chan TransferEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt TransferEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
