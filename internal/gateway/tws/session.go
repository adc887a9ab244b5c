// Package tws is a gateway.Conn for the TWS / IB Gateway socket API.
//
// Callbacks from the API client arrive on its decoder goroutine and are
// routed to the open subscriptions by request id.
package tws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/scmhub/ibapi"
	"go.uber.org/zap"

	"github.com/TruWeaveTrader/plat-ibkr/internal/config"
	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
)

// marketDataLive is the gateway's default market data type
const marketDataLive = 1

var (
	errNotConnected  = errors.New("not connected to gateway")
	errPositionsOpen = errors.New("a positions request is already open")
)

// client is the part of *ibapi.EClient a session uses
type client interface {
	IsConnected() bool
	Disconnect() error
	ReqMarketDataType(marketDataType int64)
	ReqAccountSummary(reqID int64, groupName string, tags string)
	CancelAccountSummary(reqID int64)
	ReqPositions()
	CancelPositions()
	ReqMktData(reqID ibapi.TickerID, contract *ibapi.Contract, genericTickList string, snapshot bool, regulatorySnapshot bool, mktDataOptions []ibapi.TagValue)
	CancelMktData(reqID ibapi.TickerID)
}

var _ client = (*ibapi.EClient)(nil)

// Session is a gateway.Conn backed by a TWS or IB Gateway socket
type Session struct {
	client  client
	address string
	logger  *zap.Logger

	reqIDs atomic.Int64

	mu        sync.Mutex
	summaries map[int64]*route[gateway.AccountSummaryMessage]
	ticks     map[int64]*route[gateway.TickMessage]
	positions *route[gateway.PositionMessage]
	accounts  []string

	ready     chan struct{}
	readyOnce sync.Once
	failed    chan error
}

var _ gateway.Conn = (*Session)(nil)

func newSession(address string, logger *zap.Logger) *Session {
	return &Session{
		address:   address,
		logger:    logger,
		summaries: make(map[int64]*route[gateway.AccountSummaryMessage]),
		ticks:     make(map[int64]*route[gateway.TickMessage]),
		ready:     make(chan struct{}),
		failed:    make(chan error, 1),
	}
}

// Connect opens the socket with cfg.ClientID and waits until the gateway
// accepts the client. Any failure is reported as a *gateway.ConnectionError.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	logger = logger.With(zap.String("component", "tws"))
	s := newSession(cfg.Address(), logger)
	ib := ibapi.NewEClient(&wrapper{session: s})
	s.client = ib

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	dialed := make(chan error, 1)
	go func() {
		dialed <- ib.Connect(cfg.Host, cfg.Port, int64(cfg.ClientID))
	}()

	select {
	case err := <-dialed:
		if err != nil {
			return nil, &gateway.ConnectionError{Address: s.address, Err: err}
		}
	case <-ctx.Done():
		go func() {
			if err := <-dialed; err == nil {
				_ = ib.Disconnect()
			}
		}()
		return nil, &gateway.ConnectionError{Address: s.address, Err: ctx.Err()}
	}

	if err := s.awaitReady(ctx, cfg.ClientID); err != nil {
		_ = ib.Disconnect()
		return nil, &gateway.ConnectionError{Address: s.address, Err: err}
	}

	s.useMarketDataType(cfg.MarketDataType)

	logger.Info("connected to gateway",
		zap.String("address", s.address),
		zap.Int("client_id", cfg.ClientID),
		zap.Strings("accounts", s.managedAccounts()),
		zap.Int("market_data_type", cfg.MarketDataType))
	return s, nil
}

// awaitReady waits for the first valid order id, which the gateway sends
// once it has accepted the client id
func (s *Session) awaitReady(ctx context.Context, clientID int) error {
	select {
	case <-s.ready:
		return nil
	case err := <-s.failed:
		return err
	case <-ctx.Done():
		return fmt.Errorf("no answer for client id %d: %w", clientID, ctx.Err())
	}
}

// useMarketDataType switches snapshots to frozen or delayed data. Delayed
// snapshots report the gateway.TickDelayed* tick types.
func (s *Session) useMarketDataType(marketDataType int) {
	if marketDataType != marketDataLive {
		s.client.ReqMarketDataType(int64(marketDataType))
	}
}

// Close disconnects; open subscriptions end with gateway.ErrSubscriptionClosed
func (s *Session) Close() error {
	err := s.client.Disconnect()
	s.connectionClosed()
	return err
}

// AccountSummary implements gateway.Session
func (s *Session) AccountSummary(ctx context.Context, group string, tags []string) (*gateway.Subscription[gateway.AccountSummaryMessage], error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, &gateway.RequestError{Request: "account summary", Err: err}
	}

	id := s.reqIDs.Add(1)
	r := newRoute[gateway.AccountSummaryMessage]()
	s.mu.Lock()
	s.summaries[id] = r
	s.mu.Unlock()

	s.client.ReqAccountSummary(id, group, strings.Join(tags, ","))
	s.logger.Debug("account summary requested", zap.Int64("req_id", id), zap.String("group", group))

	return gateway.NewSubscription[gateway.AccountSummaryMessage](r.out, func() {
		s.mu.Lock()
		delete(s.summaries, id)
		s.mu.Unlock()
		r.stop()
		s.client.CancelAccountSummary(id)
	}), nil
}

// Positions implements gateway.Session. The socket API has a single
// positions stream per client, so only one request may be open at a time.
func (s *Session) Positions(ctx context.Context) (*gateway.Subscription[gateway.PositionMessage], error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, &gateway.RequestError{Request: "positions", Err: err}
	}

	r := newRoute[gateway.PositionMessage]()
	s.mu.Lock()
	if s.positions != nil {
		s.mu.Unlock()
		r.stop()
		return nil, &gateway.RequestError{Request: "positions", Err: errPositionsOpen}
	}
	s.positions = r
	s.mu.Unlock()

	s.client.ReqPositions()

	return gateway.NewSubscription[gateway.PositionMessage](r.out, func() {
		s.mu.Lock()
		if s.positions == r {
			s.positions = nil
		}
		s.mu.Unlock()
		r.stop()
		s.client.CancelPositions()
	}), nil
}

// MarketDataSnapshot implements gateway.Session
func (s *Session) MarketDataSnapshot(ctx context.Context, contract gateway.Contract) (*gateway.Subscription[gateway.TickMessage], error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, &gateway.RequestError{Request: "market data", Err: err}
	}

	id := s.reqIDs.Add(1)
	r := newRoute[gateway.TickMessage]()
	s.mu.Lock()
	s.ticks[id] = r
	s.mu.Unlock()

	s.client.ReqMktData(ibapi.TickerID(id), toContract(contract), "", true, false, nil)
	s.logger.Debug("market data snapshot requested", zap.Int64("req_id", id), zap.String("symbol", contract.Symbol))

	return gateway.NewSubscription[gateway.TickMessage](r.out, func() {
		s.mu.Lock()
		delete(s.ticks, id)
		s.mu.Unlock()
		r.stop()
		s.client.CancelMktData(ibapi.TickerID(id))
	}), nil
}

func (s *Session) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.client.IsConnected() {
		return errNotConnected
	}
	return nil
}

func (s *Session) summaryRoute(reqID int64) *route[gateway.AccountSummaryMessage] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries[reqID]
}

func (s *Session) tickRoute(reqID int64) *route[gateway.TickMessage] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks[reqID]
}

func (s *Session) positionRoute() *route[gateway.PositionMessage] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// fail reports a connection level error to a pending Connect
func (s *Session) fail(err error) {
	select {
	case s.failed <- err:
	default:
	}
}

func (s *Session) setAccounts(accounts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = accounts
}

func (s *Session) managedAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts
}

// connectionClosed ends every open subscription
func (s *Session) connectionClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.summaries {
		r.end()
		delete(s.summaries, id)
	}
	for id, r := range s.ticks {
		r.end()
		delete(s.ticks, id)
	}
	if s.positions != nil {
		s.positions.end()
		s.positions = nil
	}
}

func toContract(c gateway.Contract) *ibapi.Contract {
	contract := ibapi.NewContract()
	contract.ConID = c.ConID
	contract.Symbol = c.Symbol
	contract.SecType = c.SecType
	contract.Exchange = c.Exchange
	contract.Currency = c.Currency
	return contract
}

func fromContract(c *ibapi.Contract) gateway.Contract {
	if c == nil {
		return gateway.Contract{}
	}
	return gateway.Contract{
		ConID:    c.ConID,
		Symbol:   c.Symbol,
		SecType:  c.SecType,
		Exchange: c.Exchange,
		Currency: c.Currency,
	}
}
