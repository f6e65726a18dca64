package event

import (
	"time"

	"CollateralLedger/internal/ledger"
	"CollateralLedger/internal/transfer"

	"github.com/google/uuid"
)

// CommandType discriminator for caller commands
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeInstantiate
	CommandTypeNativeDeposit
	CommandTypeNativeWithdraw
	CommandTypeTokenDeposit
	CommandTypeTokenWithdraw
	CommandTypeFutureBorrow
	CommandTypeAddSupportedAsset
	CommandTypeRemoveSupportedAsset
	CommandTypeUpdateAdmin
	CommandTypeAddPriceSource
)

var commandTypeNames = map[CommandType]string{
	CommandTypeInstantiate:          "instantiate",
	CommandTypeNativeDeposit:        "native_deposit",
	CommandTypeNativeWithdraw:       "native_withdraw",
	CommandTypeTokenDeposit:         "token_deposit",
	CommandTypeTokenWithdraw:        "token_withdraw",
	CommandTypeFutureBorrow:         "future_borrow",
	CommandTypeAddSupportedAsset:    "add_supported_asset",
	CommandTypeRemoveSupportedAsset: "remove_supported_asset",
	CommandTypeUpdateAdmin:          "update_admin",
	CommandTypeAddPriceSource:       "add_price_source",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "unknown"
}

// ParseCommandType maps a wire name back to its type.
func ParseCommandType(name string) (CommandType, bool) {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct, true
		}
	}
	return CommandTypeUnknown, false
}

// Command is the interface all caller commands implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Caller returns the authenticated sender
	Caller() string

	// IssuedAt returns the caller-supplied timestamp
	IssuedAt() time.Time
}

// Header carries the fields shared by every command.
type Header struct {
	CommandID uuid.UUID `json:"command_id"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

func (h Header) IdempotencyKey() string { return h.CommandID.String() }
func (h Header) Caller() string         { return h.Sender }
func (h Header) IssuedAt() time.Time    { return h.Timestamp }

// Attribute is one key/value pair describing what a call did.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Envelope is the record of one applied call.
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	IdempotencyKey string
	CommandType    CommandType
	Sender         string
	Timestamp      time.Time

	// JSON-encoded command
	Payload []byte

	Attributes []Attribute
	Journals   []ledger.Journal
	Transfers  []transfer.Instruction

	// SHA-256 over the call's effects, chained to the previous envelope
	StateHash [32]byte
	PrevHash  [32]byte
}

// Attr returns the value of the first attribute named key.
func (e *Envelope) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
