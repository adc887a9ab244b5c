package clientportal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TruWeaveTrader/plat-ibkr/internal/cache"
	"github.com/TruWeaveTrader/plat-ibkr/internal/config"
	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
)

const testConID = 265598

// fakeGateway serves the subset of Client Portal endpoints the session uses
type fakeGateway struct {
	t *testing.T

	authenticated bool
	summaryStatus int
	positions     [][]Position
	// frames are written to the websocket after the subscription arrives
	frames []string

	searches atomic.Int32

	mu         sync.Mutex
	wsMessages []string
	wsCookie   string
	unsubbed   chan string
}

func newFakeGateway(t *testing.T) *fakeGateway {
	return &fakeGateway{
		t:             t,
		authenticated: true,
		summaryStatus: http.StatusOK,
		unsubbed:      make(chan string, 1),
	}
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/api/tickle", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]interface{}{
			"session": "token-1",
			"iserver": map[string]interface{}{
				"authStatus": map[string]interface{}{
					"authenticated": g.authenticated,
					"connected":     g.authenticated,
					"competing":     false,
				},
			},
		})
	})

	mux.HandleFunc("/v1/api/portfolio/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]string{{"id": "DU123"}})
	})

	mux.HandleFunc("/v1/api/portfolio/DU123/summary", func(w http.ResponseWriter, r *http.Request) {
		if g.summaryStatus != http.StatusOK {
			http.Error(w, "summary unavailable", g.summaryStatus)
			return
		}
		_, _ = w.Write([]byte(`{
			"accounttype": {"amount": 0, "currency": null, "isNull": false, "value": "INDIVIDUAL"},
			"netliquidation": {"amount": 100000.25, "currency": "USD", "isNull": false, "value": null},
			"totalcashvalue": {"amount": 0.1, "currency": "USD", "isNull": true, "value": null},
			"buyingpower": {"amount": 400001, "currency": "USD", "isNull": false, "value": null}
		}`))
	})

	mux.HandleFunc("/v1/api/portfolio/DU123/positions/", func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/v1/api/portfolio/DU123/positions/"))
		if err != nil || page >= len(g.positions) {
			writeJSON(w, []Position{})
			return
		}
		writeJSON(w, g.positions[page])
	})

	mux.HandleFunc("/v1/api/iserver/secdef/search", func(w http.ResponseWriter, r *http.Request) {
		g.searches.Add(1)
		assert.Equal(g.t, "AAPL", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`[
			{"conid": "8314", "symbol": "AAPL", "sections": [{"secType": "OPT"}]},
			{"conid": "` + strconv.Itoa(testConID) + `", "symbol": "AAPL", "sections": [{"secType": "STK"}, {"secType": "OPT"}]}
		]`))
	})

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/v1/api/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		g.mu.Lock()
		if c, err := r.Cookie("api"); err == nil {
			g.wsCookie = c.Value
		}
		g.mu.Unlock()

		// session auth, then the subscription
		for i := 0; i < 2; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			g.record(string(data))
		}

		for _, frame := range g.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			g.record(string(data))
			if strings.HasPrefix(string(data), "umd+") {
				select {
				case g.unsubbed <- string(data):
				default:
				}
			}
		}
	})

	return mux
}

func (g *fakeGateway) record(msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.wsMessages = append(g.wsMessages, msg)
}

func (g *fakeGateway) messages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.wsMessages...)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(t *testing.T, serverURL string) *config.Config {
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return &config.Config{
		Host:              host,
		Port:              port,
		ClientID:          100,
		Scheme:            "http",
		AccountGroup:      gateway.AllAccounts,
		SummaryTags:       gateway.DefaultSummaryTags,
		HTTPTimeout:       2 * time.Second,
		SnapshotWait:      200 * time.Millisecond,
		DrainTimeout:      5 * time.Second,
		ContractCacheTTL:  time.Minute,
		RequestsPerSecond: 100,
		Symbol:            "AAPL",
		Format:            "text",
	}
}

func connectFake(t *testing.T, g *fakeGateway) *Session {
	srv := httptest.NewServer(g.handler())
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	session, err := Connect(context.Background(), cfg, cache.NewCache(cfg.ContractCacheTTL), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func drain[T any](t *testing.T, sub *gateway.Subscription[T]) ([]T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var msgs []T
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
}

func TestConnectNotAuthenticated(t *testing.T) {
	g := newFakeGateway(t)
	g.authenticated = false
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	_, err := Connect(context.Background(), cfg, cache.NewCache(time.Minute), zaptest.NewLogger(t))

	var connErr *gateway.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, cfg.Address(), connErr.Address)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := testConfig(t, srv.URL)
	srv.Close()

	_, err := Connect(context.Background(), cfg, cache.NewCache(time.Minute), zaptest.NewLogger(t))
	var connErr *gateway.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestAccountSummary(t *testing.T) {
	session := connectFake(t, newFakeGateway(t))

	sub, err := session.AccountSummary(context.Background(), gateway.AllAccounts,
		[]string{gateway.TagAccountType, gateway.TagNetLiquidation, gateway.TagTotalCashValue, gateway.TagBuyingPower, "Cushion"})
	require.NoError(t, err)
	defer sub.Cancel()

	msgs, err := drain(t, sub)
	assert.ErrorIs(t, err, gateway.ErrSubscriptionClosed)
	require.Len(t, msgs, 4)

	assert.Equal(t, gateway.AccountSummary{Account: "DU123", Tag: "AccountType", Value: "INDIVIDUAL"}, msgs[0])
	assert.Equal(t, gateway.AccountSummary{Account: "DU123", Tag: "NetLiquidation", Value: "100000.25", Currency: "USD"}, msgs[1])
	assert.Equal(t, gateway.AccountSummary{Account: "DU123", Tag: "BuyingPower", Value: "400001", Currency: "USD"}, msgs[2])
	assert.Equal(t, gateway.AccountSummaryEnd{}, msgs[3])
}

func TestAccountSummaryRejected(t *testing.T) {
	g := newFakeGateway(t)
	g.summaryStatus = http.StatusServiceUnavailable
	session := connectFake(t, g)

	_, err := session.AccountSummary(context.Background(), gateway.AllAccounts, gateway.DefaultSummaryTags)

	var reqErr *gateway.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "account summary", reqErr.Request)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestAccountSummaryUnknownGroup(t *testing.T) {
	session := connectFake(t, newFakeGateway(t))

	_, err := session.AccountSummary(context.Background(), "U999", gateway.DefaultSummaryTags)
	var reqErr *gateway.RequestError
	assert.ErrorAs(t, err, &reqErr)
}

func TestPositionsPaging(t *testing.T) {
	g := newFakeGateway(t)
	full := make([]Position, positionsPageSize)
	for i := range full {
		full[i] = Position{AcctID: "DU123", ConID: ConID(i + 1), Ticker: fmt.Sprintf("SYM%d", i), Position: 1, AvgCost: 10}
	}
	g.positions = [][]Position{
		full,
		{{AcctID: "DU123", ConID: testConID, ContractDesc: "AAPL", AssetClass: "STK", Currency: "USD", Position: 10, AvgCost: 150}},
	}
	session := connectFake(t, g)

	sub, err := session.Positions(context.Background())
	require.NoError(t, err)
	defer sub.Cancel()

	msgs, err := drain(t, sub)
	assert.ErrorIs(t, err, gateway.ErrSubscriptionClosed)
	require.Len(t, msgs, positionsPageSize+2)

	last, ok := msgs[positionsPageSize].(gateway.Position)
	require.True(t, ok)
	assert.Equal(t, "DU123", last.Account)
	assert.Equal(t, "AAPL", last.Contract.Symbol)
	assert.Equal(t, int64(testConID), last.Contract.ConID)
	assert.Equal(t, 10.0, last.Position)
	assert.Equal(t, 150.0, last.AverageCost)
	assert.Equal(t, gateway.PositionEnd{}, msgs[len(msgs)-1])
}

func TestPositionsEmpty(t *testing.T) {
	session := connectFake(t, newFakeGateway(t))

	sub, err := session.Positions(context.Background())
	require.NoError(t, err)
	defer sub.Cancel()

	msgs, _ := drain(t, sub)
	assert.Equal(t, []gateway.PositionMessage{gateway.PositionEnd{}}, msgs)
}

func TestMarketDataSnapshotComplete(t *testing.T) {
	g := newFakeGateway(t)
	g.frames = []string{
		`{"topic":"system","hb":1}`,
		fmt.Sprintf(`{"topic":"smd+%d","conid":%d,"84":"189.49","88":"300","86":"189.52","85":"200","6509":"RpB"}`, testConID, testConID),
		fmt.Sprintf(`{"topic":"smd+%d","31":"C189.50","7059":"100","70":"190.10","71":"187.20","7295":"188.00","7296":"1,188.75","7762":"52,100,300"}`, testConID),
	}
	session := connectFake(t, g)

	sub, err := session.MarketDataSnapshot(context.Background(), gateway.Stock("AAPL"))
	require.NoError(t, err)

	msgs, err := drain(t, sub)
	assert.ErrorIs(t, err, gateway.ErrSubscriptionClosed)
	require.NotEmpty(t, msgs)

	assert.Equal(t, gateway.TickSnapshotEnd{}, msgs[len(msgs)-1])
	assert.Contains(t, msgs, gateway.TickMessage(gateway.TickPriceSize{
		PriceTickType: gateway.TickBid, Price: 189.49, SizeTickType: gateway.TickBidSize, Size: 300,
	}))
	assert.Contains(t, msgs, gateway.TickMessage(gateway.TickSize{TickType: gateway.TickBidSize, Size: 300}))
	assert.Contains(t, msgs, gateway.TickMessage(gateway.TickPriceSize{
		PriceTickType: gateway.TickLast, Price: 189.50, SizeTickType: gateway.TickLastSize, Size: 100,
	}))
	assert.Contains(t, msgs, gateway.TickMessage(gateway.TickPrice{TickType: gateway.TickClose, Price: 1188.75}))
	assert.Contains(t, msgs, gateway.TickMessage(gateway.TickSize{TickType: gateway.TickVolume, Size: 52100300}))
	assert.Contains(t, msgs, gateway.TickMessage(gateway.TickNotice{Code: "6509", Message: "RpB"}))

	sub.Cancel()
	select {
	case msg := <-g.unsubbed:
		assert.Equal(t, fmt.Sprintf("umd+%d+{}", testConID), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe not received")
	}

	sent := g.messages()
	require.GreaterOrEqual(t, len(sent), 2)
	assert.JSONEq(t, `{"session":"token-1"}`, sent[0])
	assert.True(t, strings.HasPrefix(sent[1], fmt.Sprintf("smd+%d+", testConID)))
	assert.Contains(t, sent[1], `"84"`)

	g.mu.Lock()
	assert.Equal(t, "token-1", g.wsCookie)
	g.mu.Unlock()
}

func TestMarketDataSnapshotWaitElapses(t *testing.T) {
	g := newFakeGateway(t)
	g.frames = []string{
		fmt.Sprintf(`{"topic":"smd+%d","31":"189.50"}`, testConID),
	}
	session := connectFake(t, g)

	sub, err := session.MarketDataSnapshot(context.Background(), gateway.Stock("AAPL"))
	require.NoError(t, err)
	defer sub.Cancel()

	start := time.Now()
	msgs, err := drain(t, sub)
	assert.ErrorIs(t, err, gateway.ErrSubscriptionClosed)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []gateway.TickMessage{
		gateway.TickPrice{TickType: gateway.TickLast, Price: 189.50},
		gateway.TickSnapshotEnd{},
	}, msgs)
}

func TestMarketDataResolvesContractOnce(t *testing.T) {
	g := newFakeGateway(t)
	session := connectFake(t, g)

	for i := 0; i < 2; i++ {
		sub, err := session.MarketDataSnapshot(context.Background(), gateway.Stock("AAPL"))
		require.NoError(t, err)
		sub.Cancel()
	}
	assert.Equal(t, int32(1), g.searches.Load())

	cached, ok := session.contracts.GetContract("AAPL", "STK")
	require.True(t, ok)
	assert.Equal(t, int64(testConID), cached.ConID)
}

func TestMarketDataDialFailure(t *testing.T) {
	g := newFakeGateway(t)
	session := connectFake(t, g)
	session.cfg = &config.Config{Host: "127.0.0.1", Port: 1, Scheme: "http", SnapshotWait: time.Second}

	_, err := session.MarketDataSnapshot(context.Background(), gateway.Contract{ConID: testConID, Symbol: "AAPL", SecType: "STK"})
	var reqErr *gateway.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "market data", reqErr.Request)
}

func TestParseValue(t *testing.T) {
	for in, want := range map[string]float64{
		"189.49":     189.49,
		"C189.50":    189.50,
		"H12":        12,
		"1,234.5":    1234.5,
		" -0.25 ":    -0.25,
		"52,100,300": 52100300,
	} {
		got, err := parseValue(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseValue("")
	assert.True(t, errors.Is(err, errEmptyValue))
	_, err = parseValue("N/A")
	assert.Error(t, err)
}

func TestTickMessagesReportsFieldOnce(t *testing.T) {
	seen := make(map[string]bool)

	first := tickMessages(map[string]json.RawMessage{"84": json.RawMessage(`"10.5"`)}, seen)
	assert.Equal(t, []gateway.TickMessage{gateway.TickPrice{TickType: gateway.TickBid, Price: 10.5}}, first)

	// bid already reported, so only the size comes through
	second := tickMessages(map[string]json.RawMessage{
		"84": json.RawMessage(`"10.6"`),
		"88": json.RawMessage(`400`),
	}, seen)
	assert.Equal(t, []gateway.TickMessage{gateway.TickSize{TickType: gateway.TickBidSize, Size: 400}}, second)

	assert.False(t, snapshotComplete(seen))
}

func TestTickMessagesWaitsForNumericValue(t *testing.T) {
	seen := make(map[string]bool)

	assert.Empty(t, tickMessages(map[string]json.RawMessage{"84": json.RawMessage(`""`)}, seen))
	assert.False(t, seen["84"])

	halted := tickMessages(map[string]json.RawMessage{"86": json.RawMessage(`"N/A"`)}, seen)
	assert.Equal(t, []gateway.TickMessage{gateway.TickString{TickType: gateway.TickAsk, Value: "N/A"}}, halted)
	assert.False(t, seen["86"])

	bid := tickMessages(map[string]json.RawMessage{"84": json.RawMessage(`"189.5"`)}, seen)
	assert.Equal(t, []gateway.TickMessage{gateway.TickPrice{TickType: gateway.TickBid, Price: 189.5}}, bid)
	assert.True(t, seen["84"])

	ask := tickMessages(map[string]json.RawMessage{"86": json.RawMessage(`"189.52"`)}, seen)
	assert.Equal(t, []gateway.TickMessage{gateway.TickPrice{TickType: gateway.TickAsk, Price: 189.52}}, ask)
}

func TestSelectAccounts(t *testing.T) {
	ids := []string{"DU1", "DU2", "DU3"}
	assert.Equal(t, ids, selectAccounts(ids, "All"))
	assert.Equal(t, ids, selectAccounts(ids, ""))
	assert.Equal(t, []string{"DU1", "DU3"}, selectAccounts(ids, "DU3, DU1"))
	assert.Empty(t, selectAccounts(ids, "U9"))
}

func TestConIDUnmarshal(t *testing.T) {
	var r struct {
		A ConID `json:"a"`
		B ConID `json:"b"`
		C ConID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 265598, "b": "8314", "c": null}`), &r))
	assert.Equal(t, ConID(265598), r.A)
	assert.Equal(t, ConID(8314), r.B)
	assert.Equal(t, ConID(0), r.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a": "abc"}`), &r))
}
