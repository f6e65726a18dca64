package ledger

import (
	"fmt"

	"CollateralLedger/internal/store"

	"github.com/holiman/uint256"
)

// Side selects one of the two balance tables.
type Side uint8

const (
	SideCollateral Side = iota
	SideBorrow
)

func (s Side) String() string {
	switch s {
	case SideCollateral:
		return "collateral"
	case SideBorrow:
		return "borrow"
	default:
		return "unknown"
	}
}

// PositionKey identifies one row of a balance table.
type PositionKey struct {
	Account string
	Asset   string
}

// Path returns the string form used in logs and the journal table.
func (k PositionKey) Path(side Side) string {
	return fmt.Sprintf("%s:%s:%s", side, k.Account, k.Asset)
}

func (k PositionKey) storeKey(side Side) []byte {
	return store.Key(side.String(), k.Account, k.Asset)
}

func accountPrefix(side Side, account string) []byte {
	return store.Prefix(side.String(), account)
}

// Position is the pair of balances an account holds in one asset.
type Position struct {
	Account    string
	Asset      string
	Collateral *uint256.Int
	Borrow     *uint256.Int
}

// Entry is one non-zero row returned by an account scan.
type Entry struct {
	Asset  string
	Amount *uint256.Int
}
