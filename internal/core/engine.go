package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/event"
	"CollateralLedger/internal/ledger"
	fpmath "CollateralLedger/internal/math"
	"CollateralLedger/internal/observability"
	"CollateralLedger/internal/oracle"
	"CollateralLedger/internal/registry"
	"CollateralLedger/internal/solvency"
	"CollateralLedger/internal/store"
	"CollateralLedger/internal/transfer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// transferNamespace derives transfer ids from the command id, so replaying
// a call yields the same instruction ids.
var transferNamespace = uuid.MustParse("6f1c2a52-4d8e-4b7a-9a0e-3c5d7e9f1b20")

// ErrInvariantViolated wraps a post-call invariant failure. The call is
// discarded; seeing this error means a handler has a bug.
var ErrInvariantViolated = errors.New("invariant violated")

// CollateralCore applies one command at a time against the store.
type CollateralCore struct {
	store       store.Store
	prices      *oracle.Manager
	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
}

// NewCollateralCore builds the core. persistChan blocks when full,
// publishChan drops; either may be nil.
func NewCollateralCore(
	startSequence int64,
	st store.Store,
	prices *oracle.Manager,
	persistChan, publishChan chan<- CoreOutput,
	idempotency *IdempotencyChecker,
	metrics *observability.Metrics,
) *CollateralCore {
	return &CollateralCore{
		store:       st,
		prices:      prices,
		sequence:    startSequence,
		hasher:      NewStateHasher(),
		idempotency: idempotency,
		metrics:     metrics,
		logger:      observability.NewLogger("core"),
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// call is the working set of one command, bound to its transaction.
type call struct {
	commandID string
	sender    string
	registry  *registry.Registry
	ledger    *ledger.PositionLedger
	sources   *oracle.SourceTable
	evaluator *solvency.Evaluator
	validator *ledger.InvariantValidator

	attrs     []event.Attribute
	transfers []transfer.Instruction
}

func (c *CollateralCore) newCall(txn store.Txn, cmd event.Command) *call {
	reg := registry.New(txn)
	pl := ledger.NewPositionLedger(txn)
	return &call{
		commandID: cmd.IdempotencyKey(),
		sender:    cmd.Caller(),
		registry:  reg,
		ledger:    pl,
		sources:   oracle.NewSourceTable(txn, reg),
		evaluator: solvency.NewEvaluator(reg, pl, c.prices.Resolver(txn)),
		validator: ledger.NewInvariantValidator(pl, reg),
	}
}

func (cl *call) attr(key, value string) {
	cl.attrs = append(cl.attrs, event.Attribute{Key: key, Value: value})
}

// ProcessCommand is the main processing pipeline. On error nothing is
// committed and no output is emitted.
func (c *CollateralCore) ProcessCommand(ctx context.Context, cmd event.Command) (*event.Envelope, error) {
	start := time.Now()
	callType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Sender must be a well-formed address
	if err := registry.ValidateAddress(cmd.Caller()); err != nil {
		return nil, c.reject(callType, cmd, err)
	}

	// Step 2: Idempotency check (two-tier)
	if c.idempotency != nil {
		dup, err := c.idempotency.IsDuplicate(callType, idempotencyKey)
		if err != nil {
			return nil, c.reject(callType, cmd, err)
		}
		if dup {
			return nil, c.reject(callType, cmd, fmt.Errorf("%w: %s", errs.ErrDuplicateCall, idempotencyKey))
		}
	}

	// Step 3: Open the call's transaction
	txn, err := c.store.Begin(ctx)
	if err != nil {
		return nil, c.reject(callType, cmd, fmt.Errorf("begin: %w", err))
	}
	// The applied marker commits with the state, so it catches a
	// redelivery the event log has not recorded yet
	if _, applied, err := txn.Get(appliedKey(callType, idempotencyKey)); err != nil || applied {
		txn.Discard()
		if err == nil {
			err = fmt.Errorf("%w: %s", errs.ErrDuplicateCall, idempotencyKey)
			if c.idempotency != nil {
				c.idempotency.MarkProcessed(callType, idempotencyKey)
			}
		}
		return nil, c.reject(callType, cmd, err)
	}
	cl := c.newCall(txn, cmd)

	// Step 4: Dispatch
	if err := c.dispatch(ctx, cl, cmd); err != nil {
		txn.Discard()
		return nil, c.reject(callType, cmd, err)
	}

	// Step 5: Validate journals and touched positions
	batchID := uuid.New()
	if err := cl.validator.ValidateBatch(batchID); err != nil {
		txn.Discard()
		return nil, c.violation(callType, cmd, err)
	}
	if err := cl.validator.ValidateTouched(); err != nil {
		txn.Discard()
		return nil, c.violation(callType, cmd, err)
	}

	// Step 6: Digest post-state before the txn closes
	digest, err := c.computeCallDigest(cmd, cl)
	if err != nil {
		txn.Discard()
		return nil, c.reject(callType, cmd, err)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		txn.Discard()
		return nil, c.reject(callType, cmd, fmt.Errorf("marshal payload: %w", err))
	}

	// Step 7: Sequence and hash chain. The tip only moves once the
	// commit below succeeds.
	sequence := c.sequence + 1
	hashStart := time.Now()
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.Next(sequence, digest)
	if c.metrics != nil {
		c.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	journals := cl.ledger.Journals()
	env := &event.Envelope{
		Sequence:       sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		Sender:         cmd.Caller(),
		Timestamp:      cmd.IssuedAt(),
		Payload:        payload,
		Attributes:     cl.attrs,
		Journals:       journals,
		Transfers:      cl.transfers,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	batch := &ledger.Batch{
		BatchID:   batchID,
		EventRef:  idempotencyKey,
		Sequence:  sequence,
		Timestamp: cmd.IssuedAt().UnixMicro(),
		Journals:  journals,
	}
	output := CoreOutput{Envelope: env, Batch: batch}

	// Step 8: Commit state, applied marker, chain head and the unflushed
	// output as one unit
	if err := stageCall(txn, callType, output); err != nil {
		txn.Discard()
		return nil, c.reject(callType, cmd, err)
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, c.reject(callType, cmd, fmt.Errorf("commit: %w", err))
	}
	c.sequence = sequence
	c.hasher.Restore(stateHash)

	// Step 9: Emit
	c.emit(output)

	// Step 10: Mark processed
	if c.idempotency != nil {
		c.idempotency.MarkProcessed(callType, idempotencyKey)
	}

	if c.metrics != nil {
		c.metrics.CallsApplied.WithLabelValues(callType).Inc()
		c.metrics.CallDuration.WithLabelValues(callType).Observe(time.Since(start).Seconds())
		c.metrics.Sequence.Set(float64(c.sequence))
		for _, j := range journals {
			c.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
		}
		for _, t := range cl.transfers {
			c.metrics.TransfersEmitted.WithLabelValues(string(t.Kind)).Inc()
		}
	}

	c.logger.Debug().
		Int64("sequence", c.sequence).
		Str("call_type", callType).
		Str("sender", cmd.Caller()).
		Int("journals", len(journals)).
		Int("transfers", len(cl.transfers)).
		Msg("call applied")

	return env, nil
}

// emit sends to persistence (blocking, backpressure) and publishing
// (non-blocking, drop on full).
func (c *CollateralCore) emit(output CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.publishChan != nil {
		select {
		case c.publishChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
			c.logger.Warn().Int64("sequence", output.Envelope.Sequence).Msg("publish channel full, envelope dropped")
		}
	}
}

func (c *CollateralCore) reject(callType string, cmd event.Command, err error) error {
	if c.metrics != nil {
		c.metrics.CallsRejected.WithLabelValues(callType, errs.Reason(err)).Inc()
	}
	c.logger.Warn().
		Str("call_type", callType).
		Str("sender", cmd.Caller()).
		Str("idempotency_key", cmd.IdempotencyKey()).
		Err(err).
		Msg("call rejected")
	return err
}

func (c *CollateralCore) violation(callType string, cmd event.Command, err error) error {
	if c.metrics != nil {
		c.metrics.CallsRejected.WithLabelValues(callType, "invariant").Inc()
	}
	c.logger.Error().
		Str("call_type", callType).
		Str("idempotency_key", cmd.IdempotencyKey()).
		Err(err).
		Msg("post-call invariant check failed, call discarded")
	return fmt.Errorf("%w: %v", ErrInvariantViolated, err)
}

// computeCallDigest produces a deterministic digest of the call's effects:
// call type, sender, attributes, the post-state of every touched position
// in path order, then the transfer instructions.
func (c *CollateralCore) computeCallDigest(cmd event.Command, cl *call) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = appendString(buf, cmd.CommandType().String())
	buf = appendString(buf, cmd.Caller())

	for _, a := range cl.attrs {
		buf = appendString(buf, a.Key)
		buf = appendString(buf, a.Value)
	}

	touched := append([]ledger.PositionKey(nil), cl.ledger.Touched()...)
	sort.Slice(touched, func(i, j int) bool {
		if touched[i].Account != touched[j].Account {
			return touched[i].Account < touched[j].Account
		}
		return touched[i].Asset < touched[j].Asset
	})
	for _, key := range touched {
		pos, err := cl.ledger.Balance(key.Account, key.Asset)
		if err != nil {
			return nil, fmt.Errorf("digest %s/%s: %w", key.Account, key.Asset, err)
		}
		buf = appendString(buf, key.Account)
		buf = appendString(buf, key.Asset)
		buf = append(buf, fpmath.EncodeAmount(pos.Collateral)...)
		buf = append(buf, fpmath.EncodeAmount(pos.Borrow)...)
	}

	for _, t := range cl.transfers {
		buf = appendString(buf, string(t.Kind))
		buf = appendString(buf, t.Recipient)
		buf = appendString(buf, t.Asset)
		buf = appendString(buf, t.Amount)
	}
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = appendInt64LE(buf, int64(len(s)))
	return append(buf, s...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	u := uint64(v)
	return append(buf,
		byte(u), byte(u>>8), byte(u>>16), byte(u>>24),
		byte(u>>32), byte(u>>40), byte(u>>48), byte(u>>56),
	)
}

// Restore positions the core after the last persisted envelope.
func (c *CollateralCore) Restore(sequence int64, stateHash [32]byte) {
	c.sequence = sequence
	c.hasher.Restore(stateHash)
	if c.metrics != nil {
		c.metrics.Sequence.Set(float64(sequence))
	}
}

// WarmLRU loads composite dedup keys of recent calls.
func (c *CollateralCore) WarmLRU(keys []string) {
	if c.idempotency != nil {
		c.idempotency.Warm(keys)
	}
}

func (c *CollateralCore) GetSequence() int64 {
	return c.sequence
}

func (c *CollateralCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
