package tws

import (
	"fmt"
	"math"
	"strconv"

	"github.com/scmhub/ibapi"
	"go.uber.org/zap"

	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
)

// gateway message codes
const (
	codeClientIDInUse    = 326
	codeCannotConnect    = 502
	codeNotConnected     = 504
	codeConnectivityLost = 1100
	codeDelayedData      = 10167
	codePartialData      = 10090
)

// noRequest is the request id of messages about the connection itself
const noRequest = -1

// wrapper receives the API callbacks. Callbacks it does not override fall
// through to the library's logging defaults.
type wrapper struct {
	ibapi.Wrapper
	session *Session
}

var _ ibapi.EWrapper = (*wrapper)(nil)

func (w *wrapper) NextValidID(reqID int64) {
	w.session.markReady()
}

func (w *wrapper) ManagedAccounts(accountsList []string) {
	w.session.setAccounts(accountsList)
}

func (w *wrapper) ConnectionClosed() {
	w.session.logger.Debug("gateway closed the connection")
	w.session.connectionClosed()
}

func (w *wrapper) AccountSummary(reqID int64, account string, tag string, value string, currency string) {
	if r := w.session.summaryRoute(reqID); r != nil {
		r.push(gateway.AccountSummary{Account: account, Tag: tag, Value: value, Currency: currency})
	}
}

func (w *wrapper) AccountSummaryEnd(reqID int64) {
	if r := w.session.summaryRoute(reqID); r != nil {
		r.push(gateway.AccountSummaryEnd{})
		r.end()
	}
}

func (w *wrapper) Position(account string, contract *ibapi.Contract, position ibapi.Decimal, avgCost float64) {
	if r := w.session.positionRoute(); r != nil {
		r.push(gateway.Position{
			Account:     account,
			Contract:    fromContract(contract),
			Position:    decimalFloat(position),
			AverageCost: avgCost,
		})
	}
}

func (w *wrapper) PositionEnd() {
	if r := w.session.positionRoute(); r != nil {
		r.push(gateway.PositionEnd{})
		r.end()
	}
}

func (w *wrapper) TickPrice(reqID ibapi.TickerID, tickType ibapi.TickType, price float64, attrib ibapi.TickAttrib) {
	w.tick(int64(reqID), gateway.TickPrice{TickType: gateway.TickType(tickType), Price: price})
}

func (w *wrapper) TickSize(reqID ibapi.TickerID, tickType ibapi.TickType, size ibapi.Decimal) {
	value := decimalFloat(size)
	if math.IsNaN(value) {
		return
	}
	w.tick(int64(reqID), gateway.TickSize{TickType: gateway.TickType(tickType), Size: value})
}

func (w *wrapper) TickGeneric(reqID ibapi.TickerID, tickType ibapi.TickType, value float64) {
	w.tick(int64(reqID), gateway.TickGeneric{TickType: gateway.TickType(tickType), Value: value})
}

func (w *wrapper) TickString(reqID ibapi.TickerID, tickType ibapi.TickType, value string) {
	w.tick(int64(reqID), gateway.TickString{TickType: gateway.TickType(tickType), Value: value})
}

func (w *wrapper) TickSnapshotEnd(reqID int64) {
	if r := w.session.tickRoute(reqID); r != nil {
		r.push(gateway.TickSnapshotEnd{})
		r.end()
	}
}

func (w *wrapper) tick(reqID int64, msg gateway.TickMessage) {
	if r := w.session.tickRoute(reqID); r != nil {
		r.push(msg)
	}
}

// Error handles both request errors, keyed by request id, and connection
// notices, which carry no request id.
func (w *wrapper) Error(reqID ibapi.TickerID, errorTime int64, errCode int64, errString string, advancedOrderRejectJson string) {
	s := w.session
	id := int64(reqID)
	fields := []zap.Field{zap.Int64("req_id", id), zap.Int64("code", errCode), zap.String("message", errString)}

	if r := s.tickRoute(id); r != nil {
		r.push(gateway.TickNotice{Code: strconv.FormatInt(errCode, 10), Message: errString})
		if !isWarning(errCode) {
			r.end()
		}
		s.logger.Debug("market data notice", fields...)
		return
	}

	if r := s.summaryRoute(id); r != nil {
		if isWarning(errCode) {
			s.logger.Debug("account summary notice", fields...)
			return
		}
		s.logger.Warn("account summary failed", fields...)
		r.end()
		return
	}

	switch {
	case errCode == codeClientIDInUse, errCode == codeCannotConnect:
		s.fail(fmt.Errorf("%s (code %d)", errString, errCode))
		s.logger.Warn("gateway refused the connection", fields...)
	case errCode == codeNotConnected, errCode == codeConnectivityLost:
		s.logger.Warn("gateway connectivity", fields...)
	case isWarning(errCode):
		s.logger.Debug("gateway notice", fields...)
	case id == noRequest:
		s.logger.Info("gateway message", fields...)
	default:
		// late answers for cancelled requests
		s.logger.Debug("message for closed request", fields...)
	}
}

// isWarning reports whether code annotates a request without failing it:
// the 2100 range of farm status notices and partial or delayed data.
func isWarning(code int64) bool {
	if code >= 2100 && code < 2200 {
		return true
	}
	return code == codeDelayedData || code == codePartialData
}

// decimalFloat converts an API decimal. Unset values read as NaN.
func decimalFloat(d ibapi.Decimal) float64 {
	f, err := strconv.ParseFloat(fmt.Sprint(d), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
