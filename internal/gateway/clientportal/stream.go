package clientportal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
)

const writeWait = time.Second

// snapshotStream reads one market data snapshot off the gateway websocket
type snapshotStream struct {
	conn   *websocket.Conn
	conid  int64
	topic  string
	wait   time.Duration
	logger *zap.Logger

	writeMu  sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	messages chan gateway.TickMessage
}

type streamUpdate struct {
	Topic string `json:"topic"`
	Error string `json:"error"`
}

func newDialer(insecure bool, handshake time.Duration) *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: handshake,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: insecure}, //nolint:gosec
		Proxy:            http.ProxyFromEnvironment,
	}
}

// openSnapshot dials the streaming endpoint, authenticates with the session
// token and subscribes to the snapshot fields for conid. The snapshot ends
// once every field has been reported or wait elapses.
func openSnapshot(ctx context.Context, dialer *websocket.Dialer, wsURL, session string, conid int64, wait time.Duration, logger *zap.Logger) (*snapshotStream, error) {
	header := http.Header{}
	header.Set("User-Agent", userAgent)
	if session != "" {
		header.Set("Cookie", "api="+session)
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &snapshotStream{
		conn:     conn,
		conid:    conid,
		topic:    fmt.Sprintf("smd+%d", conid),
		wait:     wait,
		logger:   logger,
		ctx:      streamCtx,
		cancel:   cancel,
		messages: make(chan gateway.TickMessage, len(snapshotFields)+2),
	}

	if err := s.subscribe(session); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	go s.readLoop()

	logger.Debug("market data subscribed", zap.Int64("conid", conid))
	return s, nil
}

func (s *snapshotStream) subscribe(session string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if session != "" {
		auth := struct {
			Session string `json:"session"`
		}{Session: session}
		if err := s.conn.WriteJSON(auth); err != nil {
			return fmt.Errorf("auth write: %w", err)
		}
	}

	fields, err := json.Marshal(struct {
		Fields []string `json:"fields"`
	}{Fields: fieldIDs()})
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	msg := fmt.Sprintf("%s+%s", s.topic, fields)
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return fmt.Errorf("subscribe write: %w", err)
	}
	return nil
}

// readLoop forwards ticks until the snapshot is complete, the wait elapses
// or the stream is cancelled. The channel is closed on exit.
func (s *snapshotStream) readLoop() {
	defer close(s.messages)

	seen := make(map[string]bool)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.wait))

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				s.logger.Debug("snapshot wait elapsed", zap.Int("fields", len(seen)))
				s.send(gateway.TickSnapshotEnd{})
				return
			}
			if s.ctx.Err() == nil {
				s.logger.Warn("market data read failed", zap.Error(err))
			}
			return
		}

		var update streamUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			s.logger.Debug("unparseable stream message", zap.ByteString("data", data))
			continue
		}
		if update.Error != "" {
			s.send(gateway.TickNotice{Code: "error", Message: update.Error})
			continue
		}
		// heartbeats and system messages carry other topics
		if !strings.EqualFold(update.Topic, s.topic) {
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			continue
		}
		for _, tick := range tickMessages(fields, seen) {
			if !s.send(tick) {
				return
			}
		}
		if snapshotComplete(seen) {
			s.send(gateway.TickSnapshotEnd{})
			return
		}
	}
}

func (s *snapshotStream) send(msg gateway.TickMessage) bool {
	select {
	case s.messages <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Cancel unsubscribes and closes the connection
func (s *snapshotStream) Cancel() {
	s.cancel()

	s.writeMu.Lock()
	deadline := time.Now().Add(writeWait)
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("umd+%d+{}", s.conid))); err != nil {
		s.logger.Debug("unsubscribe write failed", zap.Error(err))
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.writeMu.Unlock()

	s.conn.Close()
}

func (s *snapshotStream) subscription() *gateway.Subscription[gateway.TickMessage] {
	return gateway.NewSubscription[gateway.TickMessage](s.messages, s.Cancel)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
