package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"CollateralLedger/internal/event"
	"CollateralLedger/internal/oracle"
	"CollateralLedger/internal/registry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnknownCommand is returned for a call type with no parser.
var ErrUnknownCommand = errors.New("unknown command type")

// ErrMalformed wraps every decoding failure of an inbound payload.
var ErrMalformed = errors.New("malformed payload")

// ParseCommand converts a JSON payload into a typed event.Command.
// A payload without timestamp_us is stamped with receivedAt.
func ParseCommand(callType string, data []byte, receivedAt time.Time) (event.Command, error) {
	ct, ok := event.ParseCommandType(callType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, callType)
	}

	var h headerJSON
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, callType, err)
	}
	header, err := h.toHeader(receivedAt)
	if err != nil {
		return nil, err
	}

	switch ct {
	case event.CommandTypeInstantiate:
		return &event.Instantiate{Header: header}, nil
	case event.CommandTypeNativeDeposit:
		return parseNativeDeposit(header, data)
	case event.CommandTypeNativeWithdraw:
		return parseNativeWithdraw(header, data)
	case event.CommandTypeTokenDeposit:
		return parseTokenDeposit(header, data)
	case event.CommandTypeTokenWithdraw:
		return parseTokenWithdraw(header, data)
	case event.CommandTypeFutureBorrow:
		return parseFutureBorrow(header, data)
	case event.CommandTypeAddSupportedAsset:
		return parseAddSupportedAsset(header, data)
	case event.CommandTypeRemoveSupportedAsset:
		return parseRemoveSupportedAsset(header, data)
	case event.CommandTypeUpdateAdmin:
		return parseUpdateAdmin(header, data)
	case event.CommandTypeAddPriceSource:
		return parseAddPriceSource(header, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, callType)
	}
}

// CommandTypeFromSubject extracts the call type from collateral.cmd.<type>[.<anything>].
func CommandTypeFromSubject(subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok || rest == "" {
		return "", false
	}
	callType, _, _ := strings.Cut(rest, ".")
	return callType, true
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.
// Amounts are base-10 strings in raw asset units.

type headerJSON struct {
	CommandID   string `json:"command_id"`
	Sender      string `json:"sender"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (h headerJSON) toHeader(receivedAt time.Time) (event.Header, error) {
	id, err := uuid.Parse(h.CommandID)
	if err != nil {
		return event.Header{}, fmt.Errorf("%w: command_id: %v", ErrMalformed, err)
	}
	if id == uuid.Nil {
		return event.Header{}, fmt.Errorf("%w: nil command_id", ErrMalformed)
	}
	ts := receivedAt
	if h.TimestampUs != 0 {
		ts = time.UnixMicro(h.TimestampUs)
	}
	return event.Header{CommandID: id, Sender: h.Sender, Timestamp: ts.UTC()}, nil
}

type coinJSON struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type nativeDepositJSON struct {
	Funds []coinJSON `json:"funds"`
}

func parseNativeDeposit(h event.Header, data []byte) (*event.NativeDeposit, error) {
	var j nativeDepositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: native_deposit: %v", ErrMalformed, err)
	}
	funds := make([]event.Coin, 0, len(j.Funds))
	for _, c := range j.Funds {
		funds = append(funds, event.Coin{Denom: c.Denom, Amount: c.Amount})
	}
	return &event.NativeDeposit{Header: h, Funds: funds}, nil
}

type nativeWithdrawJSON struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

func parseNativeWithdraw(h event.Header, data []byte) (*event.NativeWithdraw, error) {
	var j nativeWithdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: native_withdraw: %v", ErrMalformed, err)
	}
	return &event.NativeWithdraw{Header: h, Denom: j.Denom, Amount: j.Amount}, nil
}

type tokenDepositJSON struct {
	TokenContract string `json:"token_contract"`
	AssetName     string `json:"asset_name"`
	Amount        string `json:"amount"`
}

func parseTokenDeposit(h event.Header, data []byte) (*event.TokenDeposit, error) {
	var j tokenDepositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: token_deposit: %v", ErrMalformed, err)
	}
	return &event.TokenDeposit{
		Header:        h,
		TokenContract: j.TokenContract,
		AssetName:     j.AssetName,
		Amount:        j.Amount,
	}, nil
}

type assetAmountJSON struct {
	AssetName string `json:"asset_name"`
	Amount    string `json:"amount"`
}

func parseTokenWithdraw(h event.Header, data []byte) (*event.TokenWithdraw, error) {
	var j assetAmountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: token_withdraw: %v", ErrMalformed, err)
	}
	return &event.TokenWithdraw{Header: h, AssetName: j.AssetName, Amount: j.Amount}, nil
}

func parseFutureBorrow(h event.Header, data []byte) (*event.FutureBorrow, error) {
	var j assetAmountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: future_borrow: %v", ErrMalformed, err)
	}
	return &event.FutureBorrow{Header: h, AssetName: j.AssetName, Amount: j.Amount}, nil
}

type assetJSON struct {
	Name              string `json:"name"`
	Kind              string `json:"kind"`
	Ratio             string `json:"ratio"`
	Decimals          uint8  `json:"decimals"`
	PriceKey          string `json:"price_key"`
	Denom             string `json:"denom"`
	ContractAddr      string `json:"contract_addr"`
	Collateralizeable bool   `json:"collateralizeable"`
	Underlying        string `json:"underlying"`
}

type addSupportedAssetJSON struct {
	Asset assetJSON `json:"asset"`
}

func parseAddSupportedAsset(h event.Header, data []byte) (*event.AddSupportedAsset, error) {
	var j addSupportedAssetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: add_supported_asset: %v", ErrMalformed, err)
	}
	ratio, err := decimal.NewFromString(j.Asset.Ratio)
	if err != nil {
		return nil, fmt.Errorf("%w: ratio %q: %v", ErrMalformed, j.Asset.Ratio, err)
	}
	return &event.AddSupportedAsset{
		Header: h,
		Asset: registry.Asset{
			Name:              j.Asset.Name,
			Kind:              registry.Kind(j.Asset.Kind),
			Ratio:             ratio,
			Decimals:          j.Asset.Decimals,
			PriceKey:          j.Asset.PriceKey,
			Denom:             j.Asset.Denom,
			ContractAddr:      j.Asset.ContractAddr,
			Collateralizeable: j.Asset.Collateralizeable,
			Underlying:        j.Asset.Underlying,
		},
	}, nil
}

type removeSupportedAssetJSON struct {
	AssetName string `json:"asset_name"`
}

func parseRemoveSupportedAsset(h event.Header, data []byte) (*event.RemoveSupportedAsset, error) {
	var j removeSupportedAssetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: remove_supported_asset: %v", ErrMalformed, err)
	}
	return &event.RemoveSupportedAsset{Header: h, AssetName: j.AssetName}, nil
}

type updateAdminJSON struct {
	NewAdmin string `json:"new_admin"`
}

func parseUpdateAdmin(h event.Header, data []byte) (*event.UpdateAdmin, error) {
	var j updateAdminJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: update_admin: %v", ErrMalformed, err)
	}
	return &event.UpdateAdmin{Header: h, NewAdmin: j.NewAdmin}, nil
}

type sourceJSON struct {
	Kind  string `json:"kind"`
	Price string `json:"price"`
	Denom string `json:"denom"`
	Pool  string `json:"pool"`
}

type addPriceSourceJSON struct {
	PriceKey string     `json:"price_key"`
	Source   sourceJSON `json:"source"`
}

func parseAddPriceSource(h event.Header, data []byte) (*event.AddPriceSource, error) {
	var j addPriceSourceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: add_price_source: %v", ErrMalformed, err)
	}
	src := oracle.Source{
		Kind:  oracle.SourceKind(j.Source.Kind),
		Denom: j.Source.Denom,
		Pool:  j.Source.Pool,
	}
	if j.Source.Price != "" {
		price, err := decimal.NewFromString(j.Source.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: price %q: %v", ErrMalformed, j.Source.Price, err)
		}
		src.Price = price
	}
	return &event.AddPriceSource{Header: h, PriceKey: j.PriceKey, Source: src}, nil
}

// --- Feed messages ---

// RateUpdate is one exchange-rate observation from collateral.rates.<base>.
type RateUpdate struct {
	Base  string
	Quote string
	Rate  decimal.Decimal
	At    time.Time
}

type rateUpdateJSON struct {
	Base        string `json:"base"`
	Quote       string `json:"quote"`
	Rate        string `json:"rate"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParseRateUpdate decodes a rate feed message. An empty base falls back
// to the subject suffix.
func ParseRateUpdate(subject string, data []byte, receivedAt time.Time) (RateUpdate, error) {
	var j rateUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return RateUpdate{}, fmt.Errorf("%w: rate update: %v", ErrMalformed, err)
	}
	if j.Base == "" {
		j.Base = strings.TrimPrefix(subject, RateSubjectPrefix)
	}
	if j.Base == "" || j.Quote == "" {
		return RateUpdate{}, fmt.Errorf("%w: rate update without base/quote", ErrMalformed)
	}
	rate, err := decimal.NewFromString(j.Rate)
	if err != nil {
		return RateUpdate{}, fmt.Errorf("%w: rate %q: %v", ErrMalformed, j.Rate, err)
	}
	at := receivedAt
	if j.TimestampUs != 0 {
		at = time.UnixMicro(j.TimestampUs)
	}
	return RateUpdate{Base: j.Base, Quote: j.Quote, Rate: rate, At: at}, nil
}

// PoolObservation is one pool spot price from collateral.pools.<pool>.
type PoolObservation struct {
	Pool  string
	Price decimal.Decimal
	At    time.Time
}

type poolObservationJSON struct {
	Pool        string `json:"pool"`
	Price       string `json:"price"`
	TimestampUs int64  `json:"timestamp_us"`
}

func ParsePoolObservation(subject string, data []byte, receivedAt time.Time) (PoolObservation, error) {
	var j poolObservationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return PoolObservation{}, fmt.Errorf("%w: pool observation: %v", ErrMalformed, err)
	}
	if j.Pool == "" {
		j.Pool = strings.TrimPrefix(subject, PoolSubjectPrefix)
	}
	if j.Pool == "" {
		return PoolObservation{}, fmt.Errorf("%w: pool observation without pool", ErrMalformed)
	}
	price, err := decimal.NewFromString(j.Price)
	if err != nil {
		return PoolObservation{}, fmt.Errorf("%w: price %q: %v", ErrMalformed, j.Price, err)
	}
	if price.IsNegative() {
		return PoolObservation{}, fmt.Errorf("%w: negative pool price %s", ErrMalformed, j.Price)
	}
	at := receivedAt
	if j.TimestampUs != 0 {
		at = time.UnixMicro(j.TimestampUs)
	}
	return PoolObservation{Pool: j.Pool, Price: price, At: at}, nil
}
