package clientportal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TruWeaveTrader/plat-ibkr/internal/cache"
	"github.com/TruWeaveTrader/plat-ibkr/internal/config"
	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
)

// Session is a gateway.Conn backed by the Client Portal gateway
type Session struct {
	cfg       *config.Config
	client    *Client
	contracts *cache.Cache
	dialer    *websocket.Dialer
	logger    *zap.Logger
	token     string

	mu       sync.Mutex
	accounts []string
}

var _ gateway.Conn = (*Session)(nil)

// Connect checks that the gateway is reachable and logged in to the
// brokerage. Any failure is reported as a *gateway.ConnectionError.
func Connect(ctx context.Context, cfg *config.Config, contracts *cache.Cache, logger *zap.Logger) (*Session, error) {
	logger = logger.With(zap.String("component", "clientportal"))
	client := NewClient(cfg, logger)

	tickle, err := client.Tickle(ctx)
	if err != nil {
		return nil, &gateway.ConnectionError{Address: cfg.Address(), Err: err}
	}
	if !tickle.Ready() {
		reason := "brokerage session is not authenticated"
		if msg := tickle.IServer.AuthStatus.Message; msg != "" {
			reason += ": " + msg
		}
		return nil, &gateway.ConnectionError{Address: cfg.Address(), Err: errors.New(reason)}
	}

	// the Client Portal session is shared, so the client id only tags logs
	logger.Info("connected to gateway",
		zap.String("address", cfg.Address()),
		zap.Int("client_id", cfg.ClientID),
		zap.Bool("competing", tickle.IServer.AuthStatus.Competing))

	s := &Session{
		cfg:       cfg,
		client:    client,
		contracts: contracts,
		dialer:    newDialer(cfg.InsecureTLS, cfg.HTTPTimeout),
		logger:    logger,
		token:     tickle.Session,
	}

	// portfolio endpoints answer only after the account list was requested;
	// a failure here is retried when a subscription opens
	if _, err := s.accountIDs(ctx); err != nil {
		logger.Warn("listing accounts failed", zap.Error(err))
	}
	return s, nil
}

// Close releases pooled connections. The gateway login is left alone so
// other tools sharing it keep working.
func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// accountIDs lists and remembers the managed accounts
func (s *Session) accountIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accounts != nil {
		return s.accounts, nil
	}

	accounts, err := s.client.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if key := a.Key(); key != "" {
			ids = append(ids, key)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("gateway reports no accounts")
	}
	s.accounts = ids
	return ids, nil
}

// AccountSummary implements gateway.Session. The first account is fetched
// before returning so a rejected request fails the open; the remaining
// accounts stream from a background producer.
func (s *Session) AccountSummary(ctx context.Context, group string, tags []string) (*gateway.Subscription[gateway.AccountSummaryMessage], error) {
	const request = "account summary"

	ids, err := s.accountIDs(ctx)
	if err != nil {
		return nil, &gateway.RequestError{Request: request, Err: err}
	}
	ids = selectAccounts(ids, group)
	if len(ids) == 0 {
		return nil, &gateway.RequestError{Request: request, Err: fmt.Errorf("no accounts in group %q", group)}
	}

	first, err := s.client.Summary(ctx, ids[0])
	if err != nil {
		return nil, &gateway.RequestError{Request: request, Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan gateway.AccountSummaryMessage, len(tags)+1)

	go func() {
		defer close(ch)
		for i, id := range ids {
			summary := first
			if i > 0 {
				var err error
				if summary, err = s.client.Summary(subCtx, id); err != nil {
					s.logger.Warn("account summary failed", zap.String("account", id), zap.Error(err))
					return
				}
			}
			for _, msg := range summaryMessages(id, tags, summary) {
				if !emit[gateway.AccountSummaryMessage](subCtx, ch, msg) {
					return
				}
			}
		}
		emit[gateway.AccountSummaryMessage](subCtx, ch, gateway.AccountSummaryEnd{})
	}()

	return gateway.NewSubscription[gateway.AccountSummaryMessage](ch, cancel), nil
}

// Positions implements gateway.Session. Positions are paged per account;
// the first page is fetched before returning.
func (s *Session) Positions(ctx context.Context) (*gateway.Subscription[gateway.PositionMessage], error) {
	const request = "positions"

	ids, err := s.accountIDs(ctx)
	if err != nil {
		return nil, &gateway.RequestError{Request: request, Err: err}
	}

	first, err := s.client.Positions(ctx, ids[0], 0)
	if err != nil {
		return nil, &gateway.RequestError{Request: request, Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan gateway.PositionMessage, positionsPageSize)

	go func() {
		defer close(ch)
		for i, id := range ids {
			for page := 0; ; page++ {
				positions := first
				if i > 0 || page > 0 {
					var err error
					positions, err = s.client.Positions(subCtx, id, page)
					if err != nil {
						s.logger.Warn("positions page failed",
							zap.String("account", id), zap.Int("page", page), zap.Error(err))
						return
					}
				}

				for _, p := range positions {
					if !emit[gateway.PositionMessage](subCtx, ch, positionMessage(id, p)) {
						return
					}
				}
				if len(positions) < positionsPageSize {
					break
				}
			}
		}
		emit[gateway.PositionMessage](subCtx, ch, gateway.PositionEnd{})
	}()

	return gateway.NewSubscription[gateway.PositionMessage](ch, cancel), nil
}

// MarketDataSnapshot implements gateway.Session
func (s *Session) MarketDataSnapshot(ctx context.Context, contract gateway.Contract) (*gateway.Subscription[gateway.TickMessage], error) {
	const request = "market data"

	resolved, err := s.resolveContract(ctx, contract)
	if err != nil {
		return nil, &gateway.RequestError{Request: request, Err: err}
	}

	stream, err := openSnapshot(ctx, s.dialer, s.cfg.WebsocketURL(), s.token, resolved.ConID, s.cfg.SnapshotWait, s.logger)
	if err != nil {
		return nil, &gateway.RequestError{Request: request, Err: err}
	}
	return stream.subscription(), nil
}

// resolveContract fills in the contract id, consulting the cache first
func (s *Session) resolveContract(ctx context.Context, contract gateway.Contract) (gateway.Contract, error) {
	if contract.ConID != 0 {
		return contract, nil
	}
	if cached, ok := s.contracts.GetContract(contract.Symbol, contract.SecType); ok {
		return cached, nil
	}

	results, err := s.client.SearchContract(ctx, contract.Symbol, contract.SecType)
	if err != nil {
		return contract, fmt.Errorf("search %s: %w", contract.Symbol, err)
	}

	conid := pickContract(results, contract.Symbol, contract.SecType)
	if conid == 0 {
		return contract, fmt.Errorf("no %s contract found for %s", contract.SecType, contract.Symbol)
	}

	contract.ConID = conid
	s.contracts.SetContract(contract)
	s.logger.Debug("resolved contract", zap.String("symbol", contract.Symbol), zap.Int64("conid", conid))
	return contract, nil
}

// pickContract prefers an exact symbol match offering secType
func pickContract(results []SecdefResult, symbol, secType string) int64 {
	for _, r := range results {
		if r.ConID != 0 && strings.EqualFold(r.Symbol, symbol) && (secType == "" || r.Offers(secType)) {
			return int64(r.ConID)
		}
	}
	for _, r := range results {
		if r.ConID != 0 {
			return int64(r.ConID)
		}
	}
	return 0
}

// selectAccounts narrows ids to group. "All" selects every account;
// anything else is read as a comma separated list of account ids.
func selectAccounts(ids []string, group string) []string {
	if group == "" || strings.EqualFold(group, gateway.AllAccounts) {
		return ids
	}

	wanted := make(map[string]bool)
	for _, id := range strings.Split(group, ",") {
		wanted[strings.TrimSpace(id)] = true
	}

	var selected []string
	for _, id := range ids {
		if wanted[id] {
			selected = append(selected, id)
		}
	}
	return selected
}

// summaryMessages emits the requested tags in request order. Tags the
// gateway does not report, or reports as null, are left out.
func summaryMessages(account string, tags []string, summary map[string]SummaryValue) []gateway.AccountSummaryMessage {
	msgs := make([]gateway.AccountSummaryMessage, 0, len(tags))
	for _, tag := range tags {
		v, ok := summary[strings.ToLower(tag)]
		if !ok || v.IsNull {
			continue
		}
		msgs = append(msgs, gateway.AccountSummary{
			Account:  account,
			Tag:      tag,
			Value:    v.Text(),
			Currency: v.CurrencyCode(),
		})
	}
	return msgs
}

func positionMessage(account string, p Position) gateway.PositionMessage {
	if p.AcctID != "" {
		account = p.AcctID
	}
	return gateway.Position{
		Account: account,
		Contract: gateway.Contract{
			ConID:    int64(p.ConID),
			Symbol:   p.Symbol(),
			SecType:  p.AssetClass,
			Exchange: p.ListingExchange,
			Currency: p.Currency,
		},
		Position:    p.Position,
		AverageCost: p.AvgCost,
	}
}

func emit[T any](ctx context.Context, ch chan<- T, msg T) bool {
	select {
	case ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
