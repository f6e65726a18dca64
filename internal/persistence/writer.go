package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"CollateralLedger/internal/core"
	"CollateralLedger/internal/transfer"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Transfer row status values.
const (
	TransferPending = "pending"
	TransferSent    = "sent"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes envelopes, journals and transfers to Postgres
// using multi-row INSERT.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	CallType       string
	IdempotencyKey string
	Sender         string
	Payload        []byte // JSON-encoded command
	Attributes     []byte // JSON-encoded attribute list
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal. Amounts are base-10
// strings stored as NUMERIC(39,0).
type JournalRow struct {
	JournalID   string
	BatchID     string
	Sequence    int64
	Account     string
	Asset       string
	Side        string
	JournalType string
	Amount      string
	Before      string
	After       string
}

// TransferRow represents a row in event_log.transfers
type TransferRow struct {
	TransferID string
	Sequence   int64
	Kind       string
	Recipient  string
	Asset      string
	Denom      string
	Contract   string
	Amount     string
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// ToRows flattens one core output into its event, journal and transfer rows.
func ToRows(out core.CoreOutput) (EventRow, []JournalRow, []TransferRow, error) {
	env := out.Envelope
	attrs, err := json.Marshal(env.Attributes)
	if err != nil {
		return EventRow{}, nil, nil, fmt.Errorf("marshal attributes seq=%d: %w", env.Sequence, err)
	}

	ev := EventRow{
		Sequence:       env.Sequence,
		CallType:       env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Sender:         env.Sender,
		Payload:        env.Payload,
		Attributes:     attrs,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
	}

	batchID := ""
	if out.Batch != nil {
		batchID = out.Batch.BatchID.String()
	}
	journals := make([]JournalRow, 0, len(env.Journals))
	for _, j := range env.Journals {
		journals = append(journals, JournalRow{
			JournalID:   j.JournalID.String(),
			BatchID:     batchID,
			Sequence:    env.Sequence,
			Account:     j.Key.Account,
			Asset:       j.Key.Asset,
			Side:        j.Side.String(),
			JournalType: j.JournalType.String(),
			Amount:      j.Amount.Dec(),
			Before:      j.Before.Dec(),
			After:       j.After.Dec(),
		})
	}

	transfers := make([]TransferRow, 0, len(env.Transfers))
	for _, t := range env.Transfers {
		transfers = append(transfers, TransferRow{
			TransferID: t.TransferID.String(),
			Sequence:   env.Sequence,
			Kind:       string(t.Kind),
			Recipient:  t.Recipient,
			Asset:      t.Asset,
			Denom:      t.Denom,
			Contract:   t.Contract,
			Amount:     t.Amount,
		})
	}
	return ev, journals, transfers, nil
}

// placeholders renders "($1, $2, ...), (...)" for rows of width columns.
func placeholders(rows, width int) string {
	values := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		cols := make([]string, width)
		for c := 0; c < width; c++ {
			cols[c] = fmt.Sprintf("$%d", i*width+c+1)
		}
		values = append(values, "("+strings.Join(cols, ", ")+")")
	}
	return strings.Join(values, ", ")
}

// WriteEventBatch writes a batch of envelopes to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(events)*9)
	for _, e := range events {
		args = append(args,
			e.Sequence, e.CallType, e.IdempotencyKey, e.Sender,
			e.Payload, e.Attributes, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query := `INSERT INTO event_log.events
		(sequence, call_type, idempotency_key, sender, payload, attributes, state_hash, prev_hash, timestamp)
		VALUES ` + placeholders(len(events), 9) +
		" ON CONFLICT DO NOTHING" // sequence or (call_type, idempotency_key)

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(journals)*10)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.Sequence, j.Account, j.Asset,
			j.Side, j.JournalType, j.Amount, j.Before, j.After,
		)
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, sequence, account, asset, side, journal_type, amount, amount_before, amount_after)
		VALUES ` + placeholders(len(journals), 10) +
		" ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTransferBatch records transfer instructions as pending.
func (w *EventLogWriter) WriteTransferBatch(ctx context.Context, tx execer, transfers []TransferRow) error {
	if len(transfers) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(transfers)*9)
	for _, t := range transfers {
		args = append(args,
			t.TransferID, t.Sequence, t.Kind, t.Recipient, t.Asset,
			t.Denom, t.Contract, t.Amount, TransferPending,
		)
	}

	query := `INSERT INTO event_log.transfers
		(transfer_id, sequence, kind, recipient, asset, denom, contract, amount, status)
		VALUES ` + placeholders(len(transfers), 9) +
		" ON CONFLICT (transfer_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarkTransfersSent flips the given transfers to sent.
func (w *EventLogWriter) MarkTransfersSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := w.db.ExecContext(ctx,
		`UPDATE event_log.transfers SET status = $1, sent_at = NOW() WHERE transfer_id = ANY($2)`,
		TransferSent, pq.Array(ids),
	)
	return err
}

// PendingTransfers returns transfers not yet handed to the sender, oldest first.
func (w *EventLogWriter) PendingTransfers(ctx context.Context, limit int) ([]transfer.Instruction, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT transfer_id, kind, recipient, asset, denom, contract, amount
		FROM event_log.transfers
		WHERE status = $1
		ORDER BY sequence, transfer_id
		LIMIT $2`, TransferPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending transfers: %w", err)
	}
	defer rows.Close()

	var out []transfer.Instruction
	for rows.Next() {
		var (
			id   string
			kind string
			ins  transfer.Instruction
		)
		if err := rows.Scan(&id, &kind, &ins.Recipient, &ins.Asset, &ins.Denom, &ins.Contract, &ins.Amount); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("transfer id %q: %w", id, err)
		}
		ins.TransferID = parsed
		ins.Kind = transfer.Kind(kind)
		out = append(out, ins)
	}
	return out, rows.Err()
}

// Head returns the last persisted sequence and state hash. ok is false on
// an empty log.
func (w *EventLogWriter) Head(ctx context.Context) (sequence int64, stateHash [32]byte, ok bool, err error) {
	var hash []byte
	err = w.db.QueryRowContext(ctx,
		`SELECT sequence, state_hash FROM event_log.events ORDER BY sequence DESC LIMIT 1`,
	).Scan(&sequence, &hash)
	if err == sql.ErrNoRows {
		return 0, stateHash, false, nil
	}
	if err != nil {
		return 0, stateHash, false, fmt.Errorf("query head: %w", err)
	}
	if len(hash) != len(stateHash) {
		return 0, stateHash, false, fmt.Errorf("state hash at %d has %d bytes", sequence, len(hash))
	}
	copy(stateHash[:], hash)
	return sequence, stateHash, true, nil
}

// RecentKeys returns composite dedup keys (call_type:key) of the newest
// limit envelopes, for LRU warming.
func (w *EventLogWriter) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT call_type, idempotency_key
		FROM event_log.events
		ORDER BY sequence DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var callType, key string
		if err := rows.Scan(&callType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, callType+":"+key)
	}
	return keys, rows.Err()
}
