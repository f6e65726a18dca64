package query

import (
	"CollateralLedger/internal/registry"
)

// BalanceResponse is one (account, asset) position.
type BalanceResponse struct {
	Account    string `json:"account"`
	Asset      string `json:"asset"`
	Collateral string `json:"collateral"` // raw units, base 10
	Borrow     string `json:"borrow"`
}

// AssetResponse wraps a registered asset definition.
type AssetResponse struct {
	Asset registry.Asset `json:"asset"`
}

// AssetListResponse lists every registered asset ordered by name.
type AssetListResponse struct {
	Assets []registry.Asset `json:"assets"`
}

// AccountHealth is the valuation of every position of an account at
// current prices.
type AccountHealth struct {
	Account string `json:"account"`

	// Discounted collateral value and full-price debt value, in the
	// stable asset.
	CollateralValue string `json:"collateral_value"`
	DebtValue       string `json:"debt_value"`
	Headroom        string `json:"headroom"`
	Solvent         bool   `json:"solvent"`

	Positions []PositionLine `json:"positions"`
}

// PositionLine is one valued row of AccountHealth.
type PositionLine struct {
	Asset  string `json:"asset"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
	Ratio  string `json:"ratio"`
	Value  string `json:"value"`
}
