package gateway

// Account summary tags
const (
	TagAccountType        = "AccountType"
	TagNetLiquidation     = "NetLiquidation"
	TagTotalCashValue     = "TotalCashValue"
	TagBuyingPower        = "BuyingPower"
	TagGrossPositionValue = "GrossPositionValue"
	TagAvailableFunds     = "AvailableFunds"
)

// AllAccounts is the account group covering every managed account
const AllAccounts = "All"

// DefaultSummaryTags are requested when the caller does not pick tags
var DefaultSummaryTags = []string{
	TagAccountType,
	TagNetLiquidation,
	TagTotalCashValue,
	TagBuyingPower,
	TagGrossPositionValue,
	TagAvailableFunds,
}
