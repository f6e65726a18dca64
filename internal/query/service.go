package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"CollateralLedger/internal/ledger"
	"CollateralLedger/internal/observability"
	"CollateralLedger/internal/oracle"
	"CollateralLedger/internal/registry"
	"CollateralLedger/internal/solvency"
	"CollateralLedger/internal/store"

	"github.com/rs/zerolog"
)

// ErrNoEventLog is returned by history queries when no database is wired.
var ErrNoEventLog = errors.New("event log not configured")

const maxHistoryLimit = 500

// QueryService serves read-only views. Positions and assets come from the
// committed KV state; history and integrity come from the event log.
type QueryService struct {
	state   store.KV
	prices  *oracle.Manager
	db      *sql.DB
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewQueryService builds the service. db may be nil, in which case the
// history endpoints return ErrNoEventLog.
func NewQueryService(state store.KV, prices *oracle.Manager, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{
		state:   state,
		prices:  prices,
		db:      db,
		metrics: metrics,
		logger:  observability.NewLogger("query"),
	}
}

func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// GetBalance returns the collateral and borrow amounts of one position.
// The asset need not be registered, so positions left behind by a removed
// asset stay visible; an untouched position reads as zero.
func (qs *QueryService) GetBalance(ctx context.Context, account, asset string) (resp *BalanceResponse, err error) {
	defer func(start time.Time) { qs.observe("balance", start, err) }(time.Now())

	if err := registry.ValidateAddress(account); err != nil {
		return nil, err
	}
	pos, err := ledger.NewPositionLedger(qs.state).Balance(account, asset)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		Account:    account,
		Asset:      asset,
		Collateral: pos.Collateral.Dec(),
		Borrow:     pos.Borrow.Dec(),
	}, nil
}

// GetAsset returns the definition of a registered asset.
func (qs *QueryService) GetAsset(ctx context.Context, name string) (resp *AssetResponse, err error) {
	defer func(start time.Time) { qs.observe("asset", start, err) }(time.Now())

	a, err := registry.New(qs.state).GetAsset(name)
	if err != nil {
		return nil, err
	}
	return &AssetResponse{Asset: *a}, nil
}

func (qs *QueryService) ListAssets(ctx context.Context) (resp *AssetListResponse, err error) {
	defer func(start time.Time) { qs.observe("assets", start, err) }(time.Now())

	assets, err := registry.New(qs.state).ListAssets()
	if err != nil {
		return nil, err
	}
	if assets == nil {
		assets = []registry.Asset{}
	}
	return &AssetListResponse{Assets: assets}, nil
}

// GetAccountHealth values every position of account with fresh prices.
func (qs *QueryService) GetAccountHealth(ctx context.Context, account string) (resp *AccountHealth, err error) {
	defer func(start time.Time) { qs.observe("account", start, err) }(time.Now())

	if err := registry.ValidateAddress(account); err != nil {
		return nil, err
	}
	reg := registry.New(qs.state)
	pl := ledger.NewPositionLedger(qs.state)
	report, err := solvency.NewEvaluator(reg, pl, qs.prices.Resolver(qs.state)).Evaluate(ctx, account)
	if err != nil {
		return nil, err
	}

	health := &AccountHealth{
		Account:         account,
		CollateralValue: report.CollateralValue.String(),
		DebtValue:       report.DebtValue.String(),
		Headroom:        report.Headroom().String(),
		Solvent:         report.Solvent(),
		Positions:       make([]PositionLine, 0, len(report.Lines)),
	}
	for _, l := range report.Lines {
		health.Positions = append(health.Positions, PositionLine{
			Asset:  l.Asset,
			Side:   l.Side.String(),
			Amount: l.Amount.Dec(),
			Price:  l.Price.String(),
			Ratio:  l.Ratio.String(),
			Value:  l.Value.String(),
		})
	}
	return health, nil
}

// GetJournalHistory returns the newest journal rows of account, optionally
// before a sequence, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account string,
	limit int,
	beforeSequence *int64,
) (entries []JournalHistoryEntry, err error) {
	defer func(start time.Time) { qs.observe("journal", start, err) }(time.Now())

	if qs.db == nil {
		return nil, ErrNoEventLog
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `
		SELECT journal_id, batch_id, sequence, asset, side, journal_type,
		       amount::TEXT, amount_before::TEXT, amount_after::TEXT
		FROM event_log.journal
		WHERE account = $1`
	args := []interface{}{account}
	if beforeSequence != nil {
		query += " AND sequence < $2"
		args = append(args, *beforeSequence)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC, journal_id LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.Sequence, &e.Asset, &e.Side,
			&e.JournalType, &e.Amount, &e.Before, &e.After,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetTransfers returns transfers addressed to recipient, newest first.
func (qs *QueryService) GetTransfers(ctx context.Context, recipient string, limit int) (entries []TransferEntry, err error) {
	defer func(start time.Time) { qs.observe("transfers", start, err) }(time.Now())

	if qs.db == nil {
		return nil, ErrNoEventLog
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT transfer_id, sequence, kind, recipient, asset, amount::TEXT, status, sent_at
		FROM event_log.transfers
		WHERE recipient = $1
		ORDER BY sequence DESC, transfer_id
		LIMIT $2`, recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e      TransferEntry
			sentAt sql.NullTime
		)
		if err := rows.Scan(&e.TransferID, &e.Sequence, &e.Kind, &e.Recipient, &e.Asset, &e.Amount, &e.Status, &sentAt); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			t := sentAt.Time
			e.SentAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks that sequences are contiguous and that every
// envelope's prev_hash equals its predecessor's state_hash.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer func(start time.Time) { qs.observe("integrity", start, err) }(time.Now())

	if qs.db == nil {
		return nil, ErrNoEventLog
	}
	report = &IntegrityReport{SequenceGaps: []int64{}, HashChainBreaks: []int64{}}

	if err := qs.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM event_log.events`,
	).Scan(&report.LastSequence); err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e2.sequence IS NULL
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 1
		  AND (e2.sequence IS NULL OR e1.prev_hash <> e2.state_hash)
		ORDER BY e1.sequence
		LIMIT 100
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int64
			missing bool
		)
		if err := rows.Scan(&seq, &missing); err != nil {
			return nil, err
		}
		if missing {
			report.SequenceGaps = append(report.SequenceGaps, seq)
		} else {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.SequenceGaps) == 0 && len(report.HashChainBreaks) == 0
	if !report.IsHealthy {
		qs.logger.Error().
			Int("gaps", len(report.SequenceGaps)).
			Int("breaks", len(report.HashChainBreaks)).
			Msg("event log integrity check failed")
	}
	return report, nil
}
