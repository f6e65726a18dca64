package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/event"
	"CollateralLedger/internal/ingestion"
	"CollateralLedger/internal/oracle"
	"CollateralLedger/internal/registry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commandID = "550e8400-e29b-41d4-a716-446655440000"

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// ============================================================================
// Test: Command parsing
// ============================================================================

func TestParseNativeDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   commandID,
		"sender":       "alice-addr",
		"timestamp_us": int64(1700000000000000),
		"funds": []map[string]string{
			{"denom": "uluna", "amount": "1000000"},
			{"denom": "uusd", "amount": "5"},
		},
	}

	cmd, err := ingestion.ParseCommand("native_deposit", mustJSON(t, payload), time.Now())
	require.NoError(t, err)

	d, ok := cmd.(*event.NativeDeposit)
	require.True(t, ok, "got %T", cmd)
	assert.Equal(t, "alice-addr", d.Caller())
	assert.Equal(t, commandID, d.IdempotencyKey())
	assert.True(t, d.IssuedAt().Equal(time.UnixMicro(1700000000000000)), "timestamp %v", d.IssuedAt())
	require.Len(t, d.Funds, 2)
	assert.Equal(t, event.Coin{Denom: "uluna", Amount: "1000000"}, d.Funds[0])
	assert.Equal(t, event.CommandTypeNativeDeposit, d.CommandType())
}

func TestParseMissingTimestamp_UsesReceivedAt(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": commandID,
		"sender":     "alice-addr",
		"denom":      "uluna",
		"amount":     "10",
	}
	received := time.UnixMicro(1234567890)

	cmd, err := ingestion.ParseCommand("native_withdraw", mustJSON(t, payload), received)
	require.NoError(t, err)
	assert.True(t, cmd.IssuedAt().Equal(received))

	w := cmd.(*event.NativeWithdraw)
	assert.Equal(t, "uluna", w.Denom)
	assert.Equal(t, "10", w.Amount)
}

func TestParseTokenDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":     commandID,
		"sender":         "alice-addr",
		"token_contract": "anc-token",
		"asset_name":     "anc",
		"amount":         "42",
	}

	cmd, err := ingestion.ParseCommand("token_deposit", mustJSON(t, payload), time.Now())
	require.NoError(t, err)

	d := cmd.(*event.TokenDeposit)
	assert.Equal(t, "anc-token", d.TokenContract)
	assert.Equal(t, "anc", d.AssetName)
	assert.Equal(t, "42", d.Amount)
}

func TestParseAddSupportedAsset(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": commandID,
		"sender":     "admin-addr",
		"asset": map[string]interface{}{
			"name":              "mfut",
			"kind":              "future_asset",
			"ratio":             "0.75",
			"decimals":          6,
			"contract_addr":     "mfut-contract",
			"collateralizeable": true,
			"underlying":        "uluna",
		},
	}

	cmd, err := ingestion.ParseCommand("add_supported_asset", mustJSON(t, payload), time.Now())
	require.NoError(t, err)

	a := cmd.(*event.AddSupportedAsset).Asset
	assert.Equal(t, registry.KindFutureAsset, a.Kind)
	assert.True(t, a.Ratio.Equal(decimal.RequireFromString("0.75")), "ratio %s", a.Ratio)
	assert.Equal(t, uint8(6), a.Decimals)
	assert.True(t, a.Collateralizeable)
	assert.Equal(t, "uluna", a.Underlying)
}

func TestParseAddPriceSource(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": commandID,
		"sender":     "admin-addr",
		"price_key":  "uluna",
		"source":     map[string]string{"kind": "fixed", "price": "12.5"},
	}

	cmd, err := ingestion.ParseCommand("add_price_source", mustJSON(t, payload), time.Now())
	require.NoError(t, err)

	s := cmd.(*event.AddPriceSource)
	assert.Equal(t, "uluna", s.PriceKey)
	assert.Equal(t, oracle.SourceFixed, s.Source.Kind)
	assert.True(t, s.Source.Price.Equal(decimal.RequireFromString("12.5")), "price %s", s.Source.Price)
}

func TestParseUnknownCommandType_Fails(t *testing.T) {
	_, err := ingestion.ParseCommand("trade_fill", []byte(`{}`), time.Now())
	require.ErrorIs(t, err, ingestion.ErrUnknownCommand)
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	_, err := ingestion.ParseCommand("native_deposit", []byte(`{invalid json`), time.Now())
	require.ErrorIs(t, err, ingestion.ErrMalformed)
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{"command_id": "not-a-uuid", "sender": "alice-addr"}
	_, err := ingestion.ParseCommand("instantiate", mustJSON(t, payload), time.Now())
	require.ErrorIs(t, err, ingestion.ErrMalformed)

	payload["command_id"] = "00000000-0000-0000-0000-000000000000"
	_, err = ingestion.ParseCommand("instantiate", mustJSON(t, payload), time.Now())
	require.Error(t, err, "nil command_id")
}

func TestCommandTypeFromSubject(t *testing.T) {
	cases := map[string]string{
		"collateral.cmd.native_deposit":       "native_deposit",
		"collateral.cmd.token_withdraw.shard": "token_withdraw",
	}
	for subject, want := range cases {
		got, ok := ingestion.CommandTypeFromSubject(subject)
		assert.True(t, ok, subject)
		assert.Equal(t, want, got, subject)
	}

	_, ok := ingestion.CommandTypeFromSubject("collateral.rates.uluna")
	assert.False(t, ok, "rate subject must not parse as a command")
}

// ============================================================================
// Test: Feed parsing
// ============================================================================

func TestParseRateUpdate_SubjectFallback(t *testing.T) {
	u, err := ingestion.ParseRateUpdate("collateral.rates.uluna", []byte(`{"quote":"uusd","rate":"81.2"}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "uluna", u.Base)
	assert.Equal(t, "uusd", u.Quote)
	assert.True(t, u.Rate.Equal(decimal.RequireFromString("81.2")), "rate %s", u.Rate)
}

func TestParsePoolObservation_NegativeRejected(t *testing.T) {
	_, err := ingestion.ParsePoolObservation("collateral.pools.pool-1", []byte(`{"price":"-1"}`), time.Now())
	require.ErrorIs(t, err, ingestion.ErrMalformed)
}

// ============================================================================
// Test: Router
// ============================================================================

type fakeSubmitter struct {
	err  error
	seen []event.Command
}

func (f *fakeSubmitter) Submit(ctx context.Context, cmd event.Command) (*event.Envelope, error) {
	f.seen = append(f.seen, cmd)
	if f.err != nil {
		return nil, f.err
	}
	return &event.Envelope{Sequence: int64(len(f.seen)), CommandType: cmd.CommandType()}, nil
}

type settled struct{ ack, nak, term int }

func (s *settled) msg(subject string, data []byte) ingestion.RawMessage {
	return ingestion.RawMessage{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() { s.ack++ },
		NakFunc:   func() { s.nak++ },
		TermFunc:  func() { s.term++ },
	}
}

func newRouter(t *testing.T, sub ingestion.Submitter) (*ingestion.Router, *oracle.RateBook, *oracle.TWAPBook) {
	t.Helper()
	rates := oracle.NewRateBook(0)
	pools, err := oracle.NewTWAPBook(oracle.DefaultTWAPWindow)
	require.NoError(t, err)
	return ingestion.NewRouter(nil, sub, rates, pools, nil), rates, pools
}

func TestRouter_CommandAppliedIsAcked(t *testing.T) {
	sub := &fakeSubmitter{}
	r, _, _ := newRouter(t, sub)
	var s settled

	data := []byte(`{"command_id":"` + commandID + `","sender":"admin-addr"}`)
	r.Handle(context.Background(), s.msg("collateral.cmd.instantiate", data))

	assert.Equal(t, settled{ack: 1}, s)
	require.Len(t, sub.seen, 1)
	assert.Equal(t, event.CommandTypeInstantiate, sub.seen[0].CommandType())
}

func TestRouter_RejectionIsAckedInternalIsNaked(t *testing.T) {
	data := []byte(`{"command_id":"` + commandID + `","sender":"alice-addr","denom":"uluna","amount":"1"}`)

	var s settled
	r, _, _ := newRouter(t, &fakeSubmitter{err: errs.ErrAssetIsZero})
	r.Handle(context.Background(), s.msg("collateral.cmd.native_withdraw", data))
	assert.Equal(t, 1, s.ack, "business rejection should be acked")

	s = settled{}
	r, _, _ = newRouter(t, &fakeSubmitter{err: errors.New("connection reset")})
	r.Handle(context.Background(), s.msg("collateral.cmd.native_withdraw", data))
	assert.Equal(t, 1, s.nak, "internal failure should be naked")
}

func TestRouter_DuplicateRedeliveryIsAcked(t *testing.T) {
	data := []byte(`{"command_id":"` + commandID + `","sender":"alice-addr","denom":"uluna","amount":"1"}`)

	var s settled
	r, _, _ := newRouter(t, &fakeSubmitter{err: errs.ErrDuplicateCall})
	r.Handle(context.Background(), s.msg("collateral.cmd.native_withdraw", data))
	assert.Equal(t, settled{ack: 1}, s)
}

func TestRouter_UndecodableIsTerminated(t *testing.T) {
	sub := &fakeSubmitter{}
	r, _, _ := newRouter(t, sub)
	var s settled

	r.Handle(context.Background(), s.msg("collateral.cmd.native_deposit", []byte(`{`)))
	assert.Equal(t, settled{term: 1}, s)
	assert.Empty(t, sub.seen)
}

func TestRouter_FeedsUpdateBooks(t *testing.T) {
	r, rates, pools := newRouter(t, &fakeSubmitter{})
	var s settled

	r.Handle(context.Background(), s.msg("collateral.rates.uluna", []byte(`{"quote":"uusd","rate":"80"}`)))
	rate, err := rates.GetExchangeRate(context.Background(), "uluna", "uusd")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(80)), "rate %s", rate)

	now := time.Now()
	r.Handle(context.Background(), s.msg("collateral.pools.pool-1", mustJSON(t, map[string]interface{}{
		"price": "2", "timestamp_us": now.Add(-time.Minute).UnixMicro(),
	})))
	_, err = pools.TWAPAt("pool-1", now)
	assert.NoError(t, err)
	assert.Equal(t, 2, s.ack)
}
