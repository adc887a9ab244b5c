// Package gateway defines the contract with the brokerage trading gateway:
// an already-connected session that opens multi-message subscriptions, the
// message variants those subscriptions carry, and the error taxonomy.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Session opens subscriptions against a connected gateway.
type Session interface {
	// AccountSummary requests the given tags for every account in group.
	AccountSummary(ctx context.Context, group string, tags []string) (*Subscription[AccountSummaryMessage], error)

	// Positions requests all open positions.
	Positions(ctx context.Context) (*Subscription[PositionMessage], error)

	// MarketDataSnapshot requests a bounded tick snapshot for contract.
	MarketDataSnapshot(ctx context.Context, contract Contract) (*Subscription[TickMessage], error)
}

// Conn is a Session whose lifecycle belongs to the caller.
type Conn interface {
	Session
	Close() error
}

// Contract identifies an instrument on the gateway.
type Contract struct {
	ConID    int64
	Symbol   string
	SecType  string
	Exchange string
	Currency string
}

// Stock returns a SMART-routed USD stock contract for symbol.
func Stock(symbol string) Contract {
	return Contract{
		Symbol:   symbol,
		SecType:  "STK",
		Exchange: "SMART",
		Currency: "USD",
	}
}

// ErrSubscriptionClosed is returned by Next when the gateway stops sending
// before the subscription's terminal message.
var ErrSubscriptionClosed = errors.New("subscription closed before end marker")

// ConnectionError means no session could be established.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RequestError means the gateway refused or failed to open one subscription.
type RequestError struct {
	Request string
	Err     error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s request: %v", e.Request, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
