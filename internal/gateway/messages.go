package gateway

// AccountSummaryMessage is one of AccountSummary or AccountSummaryEnd.
type AccountSummaryMessage interface {
	accountSummaryMessage()
}

// AccountSummary carries one tag value for one account
type AccountSummary struct {
	Account  string
	Tag      string
	Value    string
	Currency string
}

// AccountSummaryEnd marks the end of an account summary subscription
type AccountSummaryEnd struct{}

func (AccountSummary) accountSummaryMessage()    {}
func (AccountSummaryEnd) accountSummaryMessage() {}

// PositionMessage is one of Position or PositionEnd.
type PositionMessage interface {
	positionMessage()
}

// Position is a held position as reported by the gateway
type Position struct {
	Account     string
	Contract    Contract
	Position    float64
	AverageCost float64
}

// PositionEnd marks the end of the position list
type PositionEnd struct{}

func (Position) positionMessage()    {}
func (PositionEnd) positionMessage() {}

// TickMessage is one market data tick. Consumers must ignore variants they
// do not know about.
type TickMessage interface {
	tickMessage()
}

// TickPrice is a price update
type TickPrice struct {
	TickType TickType
	Price    float64
}

// TickSize is a size update
type TickSize struct {
	TickType TickType
	Size     float64
}

// TickPriceSize is a price that arrived together with its size
type TickPriceSize struct {
	PriceTickType TickType
	Price         float64
	SizeTickType  TickType
	Size          float64
}

// TickString is a textual tick value
type TickString struct {
	TickType TickType
	Value    string
}

// TickGeneric is a numeric tick that is neither a price nor a size
type TickGeneric struct {
	TickType TickType
	Value    float64
}

// TickNotice is an informational message from the gateway about the
// subscription (data availability, delayed data, ...)
type TickNotice struct {
	Code    string
	Message string
}

// TickSnapshotEnd marks the end of a snapshot
type TickSnapshotEnd struct{}

func (TickPrice) tickMessage()       {}
func (TickSize) tickMessage()        {}
func (TickPriceSize) tickMessage()   {}
func (TickString) tickMessage()      {}
func (TickGeneric) tickMessage()     {}
func (TickNotice) tickMessage()      {}
func (TickSnapshotEnd) tickMessage() {}
