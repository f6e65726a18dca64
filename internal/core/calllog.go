package core

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"CollateralLedger/internal/store"
)

const (
	appliedNamespace   = "applied_calls"
	headNamespace      = "chain_head"
	unflushedNamespace = "unflushed"
)

// CallLog is the per-call record kept in the state store itself. Every
// applied call stages three entries in its own transaction: an applied
// marker, the new chain head and the full output awaiting the event log.
// A crash between the state commit and the event-log flush therefore
// leaves enough behind to reject a redelivery and replay the output.
type CallLog struct {
	st store.Store
}

func NewCallLog(st store.Store) *CallLog {
	return &CallLog{st: st}
}

func appliedKey(callType, idempotencyKey string) []byte {
	return store.Key(appliedNamespace, callType, idempotencyKey)
}

func headKey() []byte {
	return store.Key(headNamespace)
}

func unflushedKey(sequence int64) []byte {
	return store.Key(unflushedNamespace, fmt.Sprintf("%020d", sequence))
}

// stageCall writes the three entries for an applied call into txn.
func stageCall(txn store.Txn, callType string, out CoreOutput) error {
	env := out.Envelope

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(env.Sequence))
	if err := txn.Set(appliedKey(callType, env.IdempotencyKey), seq[:]); err != nil {
		return err
	}

	head := make([]byte, 0, 40)
	head = append(head, seq[:]...)
	head = append(head, env.StateHash[:]...)
	if err := txn.Set(headKey(), head); err != nil {
		return err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode output %d: %w", env.Sequence, err)
	}
	return txn.Set(unflushedKey(env.Sequence), data)
}

// IsDuplicate reports whether the call has been applied. It satisfies
// DBIdempotencyChecker.
func (l *CallLog) IsDuplicate(callType, idempotencyKey string) (bool, error) {
	_, ok, err := l.st.Get(appliedKey(callType, idempotencyKey))
	return ok, err
}

// Head returns the sequence and state hash of the last applied call. ok is
// false before the first call.
func (l *CallLog) Head() (sequence int64, stateHash [32]byte, ok bool, err error) {
	raw, ok, err := l.st.Get(headKey())
	if err != nil || !ok {
		return 0, stateHash, false, err
	}
	if len(raw) != 8+len(stateHash) {
		return 0, stateHash, false, fmt.Errorf("chain head has %d bytes", len(raw))
	}
	copy(stateHash[:], raw[8:])
	return int64(binary.BigEndian.Uint64(raw[:8])), stateHash, true, nil
}

// Unflushed returns outputs not yet acknowledged by the event log, in
// sequence order.
func (l *CallLog) Unflushed() ([]CoreOutput, error) {
	pairs, err := l.st.RangePrefix(store.Prefix(unflushedNamespace))
	if err != nil {
		return nil, err
	}
	outs := make([]CoreOutput, 0, len(pairs))
	for _, p := range pairs {
		var out CoreOutput
		if err := json.Unmarshal(p.Value, &out); err != nil {
			return nil, fmt.Errorf("decode unflushed output: %w", err)
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// Ack drops the unflushed records of sequences the event log now holds.
func (l *CallLog) Ack(ctx context.Context, sequences []int64) error {
	if len(sequences) == 0 {
		return nil
	}
	txn, err := l.st.Begin(ctx)
	if err != nil {
		return err
	}
	for _, seq := range sequences {
		if err := txn.Delete(unflushedKey(seq)); err != nil {
			txn.Discard()
			return err
		}
	}
	return txn.Commit(ctx)
}
