package api

// API response types for REST endpoints. Amounts are decimal strings
// (unsigned 256-bit values), prices and strikes are decimal strings of
// their 64.64 value.

// VaultInfo is the vault's top-level state.
type VaultInfo struct {
	Epoch                  uint64 `json:"epoch"`
	IsCall                 bool   `json:"isCall"`
	TotalAssets            string `json:"totalAssets"`
	TotalCollateral        string `json:"totalCollateral"`
	TotalReserves          string `json:"totalReserves"`
	TotalShortAsContracts  string `json:"totalShortAsContracts"`
	TotalShortAsCollateral string `json:"totalShortAsCollateral"`
	ShareSupply            string `json:"shareSupply"`
	WithdrawalsLocked      bool   `json:"withdrawalsLocked"`
}

// OptionInfo is one epoch's option parameters.
type OptionInfo struct {
	Epoch        uint64 `json:"epoch"`
	Expiry       int64  `json:"expiry"`
	Strike       string `json:"strike"`
	LongTokenID  string `json:"longTokenId"`
	ShortTokenID string `json:"shortTokenId"`
}

// AuctionInfo is one epoch's auction snapshot.
type AuctionInfo struct {
	Epoch              uint64 `json:"epoch"`
	Status             string `json:"status"`
	Expiry             int64  `json:"expiry"`
	Strike             string `json:"strike"`
	MaxPrice           string `json:"maxPrice"`
	MinPrice           string `json:"minPrice"`
	LastPrice          string `json:"lastPrice"`
	ClearingPrice      string `json:"clearingPrice"`
	StartTime          int64  `json:"startTime"`
	EndTime            int64  `json:"endTime"`
	ProcessedTime      int64  `json:"processedTime"`
	TotalContracts     string `json:"totalContracts"`
	TotalContractsSold string `json:"totalContractsSold"`
	TotalPremiums      string `json:"totalPremiums"`
}

// OrderInfo is one resting order.
type OrderInfo struct {
	ID    uint64 `json:"id"`
	Price string `json:"price"`
	Size  string `json:"size"`
	Buyer string `json:"buyer"`
}

// QueueInfo is the deposit queue's state.
type QueueInfo struct {
	CurrentTokenID        string `json:"currentTokenId"`
	Epoch                 uint64 `json:"epoch"`
	TotalQueuedCollateral string `json:"totalQueuedCollateral"`
}

// PreviewWithdrawResult is the (refund, fill) pair an auction
// withdrawal would pay.
type PreviewWithdrawResult struct {
	Refund string `json:"refund"`
	Fill   string `json:"fill"`
}

// OrderRequest submits a limit or market order.
type OrderRequest struct {
	Epoch   uint64 `json:"epoch"`
	Type    string `json:"type"`              // "limit" or "market"
	Price   string `json:"price,omitempty"`   // 64.64 decimal, limit only
	Size    string `json:"size"`              // collateral-decimal units
	MaxCost string `json:"maxCost,omitempty"` // market only
}

// CancelOrderRequest cancels a resting limit order.
type CancelOrderRequest struct {
	Epoch   uint64 `json:"epoch"`
	OrderID uint64 `json:"orderId"`
}

// AmountRequest carries a single amount (deposit, cancel).
type AmountRequest struct {
	Amount string `json:"amount"`
}

// RedeemRequest redeems claim tokens into vault shares.
type RedeemRequest struct {
	TokenID  string `json:"tokenId,omitempty"` // hex id; empty for redeem-max
	Receiver string `json:"receiver,omitempty"`
}

// WithdrawRequest burns shares for assets.
type WithdrawRequest struct {
	Assets   string `json:"assets,omitempty"`
	Shares   string `json:"shares,omitempty"`
	Receiver string `json:"receiver,omitempty"`
	Owner    string `json:"owner,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
