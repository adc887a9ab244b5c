package gateway

import (
	"context"
	"sync"
)

// Stream is the consumer side of a subscription.
type Stream[M any] interface {
	// Next blocks until the next message arrives, ctx is done, or the
	// gateway closes the stream.
	Next(ctx context.Context) (M, error)

	// Cancel tells the gateway to stop pushing messages.
	Cancel()
}

// Subscription is a channel-backed Stream. The producer closes the channel
// when it stops; cancel must make the producer stop.
type Subscription[T any] struct {
	messages <-chan T
	cancel   func()
	once     sync.Once
}

// NewSubscription wraps a producer channel and its cancel function
func NewSubscription[T any](messages <-chan T, cancel func()) *Subscription[T] {
	return &Subscription[T]{messages: messages, cancel: cancel}
}

// Next returns messages in arrival order
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case msg, ok := <-s.messages:
		if !ok {
			return zero, ErrSubscriptionClosed
		}
		return msg, nil
	}
}

// Cancel is safe to call more than once; only the first call reaches the gateway.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
