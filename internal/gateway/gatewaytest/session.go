// Package gatewaytest provides a scripted in-memory gateway session.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
)

// Subscription kinds used as keys for Opens and Cancels
const (
	KindAccountSummary = "account_summary"
	KindPositions      = "positions"
	KindMarketData     = "market_data"
)

// Session replays scripted messages. A nil error with no messages yields a
// subscription that closes immediately.
type Session struct {
	AccountSummaryMessages []gateway.AccountSummaryMessage
	AccountSummaryErr      error

	PositionMessages []gateway.PositionMessage
	PositionsErr     error

	TickMessages  []gateway.TickMessage
	MarketDataErr error

	// KeepOpen leaves subscription channels open after the scripted
	// messages, simulating a gateway that never sends its end marker.
	KeepOpen bool

	mu        sync.Mutex
	opens     map[string]int
	cancels   map[string]int
	contracts []gateway.Contract
	group     string
	tags      []string
	closed    bool
}

var _ gateway.Conn = (*Session)(nil)

// AccountSummary replays AccountSummaryMessages
func (s *Session) AccountSummary(ctx context.Context, group string, tags []string) (*gateway.Subscription[gateway.AccountSummaryMessage], error) {
	s.mu.Lock()
	s.group = group
	s.tags = append([]string(nil), tags...)
	s.mu.Unlock()

	if err := s.open(KindAccountSummary, s.AccountSummaryErr); err != nil {
		return nil, err
	}
	return replay(s, KindAccountSummary, s.AccountSummaryMessages), nil
}

// Positions replays PositionMessages
func (s *Session) Positions(ctx context.Context) (*gateway.Subscription[gateway.PositionMessage], error) {
	if err := s.open(KindPositions, s.PositionsErr); err != nil {
		return nil, err
	}
	return replay(s, KindPositions, s.PositionMessages), nil
}

// MarketDataSnapshot replays TickMessages
func (s *Session) MarketDataSnapshot(ctx context.Context, contract gateway.Contract) (*gateway.Subscription[gateway.TickMessage], error) {
	s.mu.Lock()
	s.contracts = append(s.contracts, contract)
	s.mu.Unlock()

	if err := s.open(KindMarketData, s.MarketDataErr); err != nil {
		return nil, err
	}
	return replay(s, KindMarketData, s.TickMessages), nil
}

// Close marks the session closed
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Opens returns how many times a subscription of kind was requested,
// including failed requests.
func (s *Session) Opens(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[kind]
}

// Cancels returns how many times a subscription of kind was cancelled
func (s *Session) Cancels(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels[kind]
}

// Contracts returns the contracts market data was requested for
func (s *Session) Contracts() []gateway.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.Contract(nil), s.contracts...)
}

// SummaryRequest returns the group and tags of the last account summary request
func (s *Session) SummaryRequest() (string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group, append([]string(nil), s.tags...)
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) open(kind string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opens == nil {
		s.opens = make(map[string]int)
	}
	s.opens[kind]++
	return err
}

func (s *Session) cancelled(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancels == nil {
		s.cancels = make(map[string]int)
	}
	s.cancels[kind]++
}

func replay[T any](s *Session, kind string, msgs []T) *gateway.Subscription[T] {
	ch := make(chan T, len(msgs))
	for _, msg := range msgs {
		ch <- msg
	}
	if !s.KeepOpen {
		close(ch)
	}
	return gateway.NewSubscription[T](ch, func() { s.cancelled(kind) })
}
