package rpc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"deribit-feed/src/models"
)

// OverflowPolicy decides what a full notification stream does with a new item.
type OverflowPolicy int

const (
	OverflowBlock OverflowPolicy = iota
	OverflowDropOldest
	OverflowDropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowBlock:
		return "block"
	case OverflowDropOldest:
		return "drop_oldest"
	case OverflowDropNewest:
		return "drop_newest"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return OverflowBlock, nil
	case "drop_oldest":
		return OverflowDropOldest, nil
	case "drop_newest":
		return OverflowDropNewest, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", s)
}

type streamItem struct {
	notification models.Notification
	err          error
}

// Stream is the single-producer single-consumer queue of notifications. Capacity 0 means unbounded.
type Stream struct {
	capacity int
	policy   OverflowPolicy

	mu     sync.Mutex
	items  []streamItem
	closed bool
	err    error

	readable chan struct{}
	writable chan struct{}
	done     chan struct{}

	dropped atomic.Int64
}

func NewStream(capacity int, policy OverflowPolicy) *Stream {
	if capacity < 0 {
		capacity = 0
	}
	return &Stream{
		capacity: capacity,
		policy:   policy,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Stream) push(item streamItem) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}

		if s.capacity == 0 || len(s.items) < s.capacity {
			s.items = append(s.items, item)
			s.mu.Unlock()
			signal(s.readable)
			return
		}

		switch s.policy {
		case OverflowDropNewest:
			s.mu.Unlock()
			s.dropped.Add(1)
			return
		case OverflowDropOldest:
			s.items = append(s.items[1:], item)
			s.mu.Unlock()
			s.dropped.Add(1)
			signal(s.readable)
			return
		}
		s.mu.Unlock()

		select {
		case <-s.writable:
		case <-s.done:
		}
	}
}

// Next returns the next notification. A malformed frame yields a non-nil error for that
// item only; once the stream is closed and drained Next returns an error wrapping ErrClosed.
func (s *Stream) Next(ctx context.Context) (models.Notification, error) {
	for {
		s.mu.Lock()
		if len(s.items) > 0 {
			item := s.items[0]
			s.items[0] = streamItem{}
			s.items = s.items[1:]
			s.mu.Unlock()
			signal(s.writable)
			return item.notification, item.err
		}
		if s.closed {
			err := s.err
			s.mu.Unlock()
			return models.Notification{}, err
		}
		s.mu.Unlock()

		select {
		case <-s.readable:
		case <-s.done:
		case <-ctx.Done():
			return models.Notification{}, ctx.Err()
		}
	}
}

// close stops accepting items. Items already queued are still delivered.
func (s *Stream) close(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if cause != nil {
		s.err = fmt.Errorf("%w: %v", ErrClosed, cause)
	} else {
		s.err = ErrClosed
	}
	close(s.done)
}

func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Stream) Capacity() int {
	return s.capacity
}

func (s *Stream) Policy() OverflowPolicy {
	return s.policy
}
