package gateway

import "fmt"

// TickType is the gateway's tick id
type TickType int

const (
	TickBidSize      TickType = 0
	TickBid          TickType = 1
	TickAsk          TickType = 2
	TickAskSize      TickType = 3
	TickLast         TickType = 4
	TickLastSize     TickType = 5
	TickHigh         TickType = 6
	TickLow          TickType = 7
	TickVolume       TickType = 8
	TickClose        TickType = 9
	TickOpen         TickType = 14
	TickDelayedBid   TickType = 66
	TickDelayedAsk   TickType = 67
	TickDelayedLast  TickType = 68
	TickDelayedHigh  TickType = 72
	TickDelayedLow   TickType = 73
	TickDelayedClose TickType = 75
	TickDelayedOpen  TickType = 76
)

var tickTypeNames = map[TickType]string{
	TickBidSize:      "BidSize",
	TickBid:          "Bid",
	TickAsk:          "Ask",
	TickAskSize:      "AskSize",
	TickLast:         "Last",
	TickLastSize:     "LastSize",
	TickHigh:         "High",
	TickLow:          "Low",
	TickVolume:       "Volume",
	TickClose:        "Close",
	TickOpen:         "Open",
	TickDelayedBid:   "DelayedBid",
	TickDelayedAsk:   "DelayedAsk",
	TickDelayedLast:  "DelayedLast",
	TickDelayedHigh:  "DelayedHigh",
	TickDelayedLow:   "DelayedLow",
	TickDelayedClose: "DelayedClose",
	TickDelayedOpen:  "DelayedOpen",
}

// String returns the human-readable label, e.g. "Bid" or "AskSize".
func (t TickType) String() string {
	if name, ok := tickTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tick(%d)", int(t))
}
