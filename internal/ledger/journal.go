package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType records which table moved and in which direction.
type JournalType int32

const (
	JournalTypeCollateralCredit JournalType = iota
	JournalTypeCollateralDebit
	JournalTypeBorrowCredit
	JournalTypeBorrowDebit
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeCollateralCredit:
		return "collateral_credit"
	case JournalTypeCollateralDebit:
		return "collateral_debit"
	case JournalTypeBorrowCredit:
		return "borrow_credit"
	case JournalTypeBorrowDebit:
		return "borrow_debit"
	default:
		return "unknown"
	}
}

func journalTypeFor(side Side, credit bool) JournalType {
	switch {
	case side == SideCollateral && credit:
		return JournalTypeCollateralCredit
	case side == SideCollateral:
		return JournalTypeCollateralDebit
	case credit:
		return JournalTypeBorrowCredit
	default:
		return JournalTypeBorrowDebit
	}
}

// Journal is a single balance movement on one position.
type Journal struct {
	JournalID   uuid.UUID
	Key         PositionKey
	Side        Side
	JournalType JournalType
	Amount      *uint256.Int // always positive
	Before      *uint256.Int
	After       *uint256.Int
}

// Batch groups the journals produced by one call.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed and every journal's
// before/after pair agrees with its amount.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}

		var expected uint256.Int
		switch j.JournalType {
		case JournalTypeCollateralCredit, JournalTypeBorrowCredit:
			expected.Add(j.Before, j.Amount)
		default:
			if j.Before.Lt(j.Amount) {
				return fmt.Errorf("journal %s debits %s from %s", j.JournalID, j.Amount.Dec(), j.Before.Dec())
			}
			expected.Sub(j.Before, j.Amount)
		}
		if !expected.Eq(j.After) {
			return fmt.Errorf("journal %s after=%s, want %s", j.JournalID, j.After.Dec(), expected.Dec())
		}
	}
	return nil
}
