package tws

import "sync"

// route buffers the callbacks of one request and hands them to the
// subscription in arrival order. push and end never block, so the
// client's decoder is never held up by a slow or departed consumer.
type route[T any] struct {
	mu     sync.Mutex
	queue  []T
	ended  bool
	wake   chan struct{}
	out    chan T
	quit   chan struct{}
	closed sync.Once
}

func newRoute[T any]() *route[T] {
	r := &route[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
		quit: make(chan struct{}),
	}
	go r.pump()
	return r
}

// push queues msg unless the route has ended
func (r *route[T]) push(msg T) {
	r.mu.Lock()
	if !r.ended {
		r.queue = append(r.queue, msg)
	}
	r.mu.Unlock()
	r.signal()
}

// end closes the subscription channel once the queue is delivered
func (r *route[T]) end() {
	r.mu.Lock()
	r.ended = true
	r.mu.Unlock()
	r.signal()
}

// stop abandons undelivered messages and closes the channel
func (r *route[T]) stop() {
	r.closed.Do(func() { close(r.quit) })
}

func (r *route[T]) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *route[T]) pump() {
	defer close(r.out)
	for {
		r.mu.Lock()
		batch, ended := r.queue, r.ended
		r.queue = nil
		r.mu.Unlock()

		for _, msg := range batch {
			select {
			case r.out <- msg:
			case <-r.quit:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if ended {
			return
		}

		select {
		case <-r.wake:
		case <-r.quit:
			return
		}
	}
}
