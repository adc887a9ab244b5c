package clientportal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// TickleResponse is the session heartbeat reply
type TickleResponse struct {
	Session string `json:"session"`
	IServer struct {
		AuthStatus struct {
			Authenticated bool   `json:"authenticated"`
			Competing     bool   `json:"competing"`
			Connected     bool   `json:"connected"`
			Message       string `json:"message"`
		} `json:"authStatus"`
	} `json:"iserver"`
}

// Ready reports whether the brokerage session can serve requests
func (t *TickleResponse) Ready() bool {
	return t.IServer.AuthStatus.Authenticated && t.IServer.AuthStatus.Connected
}

// Account is a managed account
type Account struct {
	ID          string `json:"id"`
	AccountID   string `json:"accountId"`
	Currency    string `json:"currency"`
	Type        string `json:"type"`
	DisplayName string `json:"displayName"`
}

// Key returns the identifier portfolio endpoints expect
func (a Account) Key() string {
	if a.ID != "" {
		return a.ID
	}
	return a.AccountID
}

// SummaryValue is one entry of /portfolio/{id}/summary
type SummaryValue struct {
	Amount   float64 `json:"amount"`
	Currency *string `json:"currency"`
	IsNull   bool    `json:"isNull"`
	Value    *string `json:"value"`
}

// Text renders the entry as the gateway would report it: the string value
// for enumerated tags, otherwise the amount without float noise.
func (v SummaryValue) Text() string {
	if v.Value != nil && *v.Value != "" {
		return *v.Value
	}
	return decimal.NewFromFloat(v.Amount).String()
}

// CurrencyCode returns the currency or "" for non-monetary tags
func (v SummaryValue) CurrencyCode() string {
	if v.Currency == nil {
		return ""
	}
	return *v.Currency
}

// Position is one entry of /portfolio/{id}/positions/{page}
type Position struct {
	AcctID          string  `json:"acctId"`
	ConID           ConID   `json:"conid"`
	ContractDesc    string  `json:"contractDesc"`
	Ticker          string  `json:"ticker"`
	Position        float64 `json:"position"`
	AvgCost         float64 `json:"avgCost"`
	Currency        string  `json:"currency"`
	AssetClass      string  `json:"assetClass"`
	ListingExchange string  `json:"listingExchange"`
}

// Symbol prefers the ticker and falls back to the contract description
func (p Position) Symbol() string {
	if p.Ticker != "" {
		return p.Ticker
	}
	return p.ContractDesc
}

// SecdefResult is one match of /iserver/secdef/search
type SecdefResult struct {
	ConID       ConID  `json:"conid"`
	Symbol      string `json:"symbol"`
	CompanyName string `json:"companyName"`
	Description string `json:"description"`
	Sections    []struct {
		SecType  string `json:"secType"`
		Exchange string `json:"exchange"`
	} `json:"sections"`
}

// Offers reports whether the match lists secType
func (r SecdefResult) Offers(secType string) bool {
	for _, section := range r.Sections {
		if strings.EqualFold(section.SecType, secType) {
			return true
		}
	}
	return false
}

// ConID accepts contract ids encoded either as numbers or strings
type ConID int64

// UnmarshalJSON implements json.Unmarshaler
func (c *ConID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid conid %s: %w", b, err)
	}
	*c = ConID(n)
	return nil
}
