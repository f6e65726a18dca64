// Package transfer describes outgoing asset movements. The core only emits
// instructions; a Sender executes them after the call has committed.
package transfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Kind selects the mechanism that moves the asset.
type Kind string

const (
	// KindBankSend moves a native denom.
	KindBankSend Kind = "bank_send"
	// KindTokenTransfer calls transfer on a token contract.
	KindTokenTransfer Kind = "token_transfer"
	// KindMint asks the asset's mint authority to mint to the recipient.
	KindMint Kind = "mint"
)

// Instruction is one deferred transfer.
type Instruction struct {
	TransferID uuid.UUID `json:"transfer_id"`
	Kind       Kind      `json:"kind"`
	Recipient  string    `json:"recipient"`
	Asset      string    `json:"asset"`
	Denom      string    `json:"denom,omitempty"`
	Contract   string    `json:"contract,omitempty"`
	Amount     string    `json:"amount"` // raw units, base 10
}

// Subject returns the routing suffix for this instruction.
func (i Instruction) Subject() string {
	return string(i.Kind)
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s %s %s to %s", i.Kind, i.Amount, i.Asset, i.Recipient)
}

// Sender executes instructions once their call has committed.
type Sender interface {
	Send(ctx context.Context, ins Instruction) error
}
