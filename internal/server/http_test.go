package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"CollateralLedger/internal/core"
	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/event"
	"CollateralLedger/internal/ingestion"
	"CollateralLedger/internal/ledger"
	fpmath "CollateralLedger/internal/math"
	"CollateralLedger/internal/oracle"
	"CollateralLedger/internal/query"
	"CollateralLedger/internal/registry"
	"CollateralLedger/internal/server"
	"CollateralLedger/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

type stubSubmitter struct {
	err  error
	seen []event.Command
}

func (s *stubSubmitter) Submit(_ context.Context, cmd event.Command) (*event.Envelope, error) {
	s.seen = append(s.seen, cmd)
	if s.err != nil {
		return nil, s.err
	}
	return &event.Envelope{
		Sequence:       int64(len(s.seen)),
		CommandType:    cmd.CommandType(),
		IdempotencyKey: cmd.IdempotencyKey(),
		Sender:         cmd.Caller(),
	}, nil
}

func newTestServer(t *testing.T, sub ingestion.Submitter) http.Handler {
	t.Helper()
	st := store.NewMemStore()
	reg := registry.New(st)
	require.NoError(t, reg.Instantiate("admin-addr"))
	require.NoError(t, reg.AddAsset("admin-addr", registry.Asset{
		Name: "uluna", Kind: registry.KindNative, Ratio: decimal.RequireFromString("0.8"), Decimals: 6,
	}))
	require.NoError(t, oracle.NewSourceTable(st, reg).Add("admin-addr", "uluna",
		oracle.Source{Kind: oracle.SourceFixed, Price: decimal.NewFromInt(5)}))
	require.NoError(t, ledger.NewPositionLedger(st).CreditCollateral("alice-addr", "uluna", fpmath.MustAmount("2500000")))

	qs := query.NewQueryService(st, oracle.NewManager(oracle.DefaultStableAsset, nil, nil, nil), nil, nil)
	srv, err := server.NewHTTPServer(":0", server.HTTPDeps{Query: qs, Submitter: sub})
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

// ============================================================================
// Test: Queries
// ============================================================================

func TestHTTP_Balance(t *testing.T) {
	h := newTestServer(t, &stubSubmitter{})

	rec, out := do(t, h, http.MethodGet, "/v1/balances/alice-addr/uluna", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2500000", out["collateral"])
	assert.Equal(t, "0", out["borrow"])

	rec, out = do(t, h, http.MethodGet, "/v1/balances/alice-addr/nope", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", out["collateral"])

	rec, out = do(t, h, http.MethodGet, "/v1/balances/A!/uluna", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_address", out["reason"])
}

func TestHTTP_AssetInfo(t *testing.T) {
	h := newTestServer(t, &stubSubmitter{})

	rec, out := do(t, h, http.MethodGet, "/v1/assets/uluna", "")
	require.Equal(t, http.StatusOK, rec.Code)
	asset := out["asset"].(map[string]interface{})
	assert.Equal(t, "native", asset["kind"])

	rec, out = do(t, h, http.MethodGet, "/v1/assets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["assets"], 1)
}

func TestHTTP_AccountHealth(t *testing.T) {
	h := newTestServer(t, &stubSubmitter{})

	rec, out := do(t, h, http.MethodGet, "/v1/accounts/alice-addr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	// 2.5 uluna at 5 with ratio 0.8
	assert.True(t, decimal.RequireFromString(out["collateral_value"].(string)).Equal(decimal.NewFromInt(10)))
	assert.Equal(t, true, out["solvent"])
}

func TestHTTP_HistoryWithoutEventLogIsInternal(t *testing.T) {
	h := newTestServer(t, &stubSubmitter{})
	rec, _ := do(t, h, http.MethodGet, "/v1/accounts/alice-addr/journal?limit=5", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/v1/accounts/alice-addr/journal?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Test: Commands
// ============================================================================

const commandBody = `{"command_id":"550e8400-e29b-41d4-a716-446655440000","sender":"alice-addr","denom":"uluna","amount":"10"}`

func TestHTTP_PostCommand(t *testing.T) {
	sub := &stubSubmitter{}
	h := newTestServer(t, sub)

	rec, out := do(t, h, http.MethodPost, "/v1/commands/native_withdraw", commandBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "native_withdraw", out["call_type"])
	require.Len(t, sub.seen, 1)
	assert.Equal(t, "alice-addr", sub.seen[0].Caller())
}

func TestHTTP_PostCommandErrors(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		body   string
		err    error
		status int
	}{
		{"unknown type", "/v1/commands/open_position", commandBody, nil, http.StatusNotFound},
		{"malformed body", "/v1/commands/native_withdraw", `{`, nil, http.StatusBadRequest},
		{"unauthorized", "/v1/commands/native_withdraw", commandBody, errs.ErrUnauthorized, http.StatusForbidden},
		{"solvency", "/v1/commands/native_withdraw", commandBody, errs.ErrInsufficientTotalCollateral, http.StatusBadRequest},
		{"duplicate", "/v1/commands/native_withdraw", commandBody, errs.ErrDuplicateCall, http.StatusConflict},
		{"internal", "/v1/commands/native_withdraw", commandBody, errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(t, &stubSubmitter{err: tc.err})
			rec, _ := do(t, h, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

// ============================================================================
// Test: Error mapping
// ============================================================================

func TestGRPCCode(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{errs.ErrUnauthorized, codes.PermissionDenied},
		{errs.Asset("get_asset", "x", errs.ErrNotSupported), codes.NotFound},
		{errs.ErrOracleNotFound, codes.NotFound},
		{&errs.InsufficientBalanceError{Asset: "uluna", Current: "1", Requested: "2"}, codes.FailedPrecondition},
		{errs.ErrOverflow, codes.OutOfRange},
		{errs.ErrInvalidAmount, codes.InvalidArgument},
		{errs.ErrPriceUnavailable, codes.Unavailable},
		{fmt.Errorf("wrapped: %w", core.ErrInvariantViolated), codes.Internal},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, server.GRPCCode(tc.err), "%v", tc.err)
	}
}
