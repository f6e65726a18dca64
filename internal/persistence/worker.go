package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"CollateralLedger/internal/core"
	"CollateralLedger/internal/observability"
	"CollateralLedger/internal/transfer"

	"github.com/rs/zerolog"
)

// pendingBatch accumulates rows between flushes.
type pendingBatch struct {
	events    []EventRow
	journals  []JournalRow
	transfers []TransferRow
	sends     []transfer.Instruction
}

func (b *pendingBatch) add(out core.CoreOutput) error {
	ev, journals, transfers, err := ToRows(out)
	if err != nil {
		return err
	}
	b.events = append(b.events, ev)
	b.journals = append(b.journals, journals...)
	b.transfers = append(b.transfers, transfers...)
	b.sends = append(b.sends, out.Envelope.Transfers...)
	return nil
}

func (b *pendingBatch) reset() {
	b.events = b.events[:0]
	b.journals = b.journals[:0]
	b.transfers = b.transfers[:0]
	b.sends = b.sends[:0]
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on that channel with a blocking send, so a slow worker
// stalls the core instead of losing an envelope. Transfers are handed to
// the sender only after the batch that records them has committed.
type PersistenceWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	sender       transfer.Sender
	calls        *core.CallLog
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewPersistenceWorker builds a worker. sender may be nil, in which case
// transfers stay pending in the log. calls, when set, has its unflushed
// records cleared once their batch commits.
func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	sender transfer.Sender,
	calls *core.CallLog,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		sender:       sender,
		calls:        calls,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pendingBatch{
		events:   make([]EventRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*2),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch.events) > 0 {
				if err := pw.commit(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch.events) > 0 {
					if err := pw.commit(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
					}
				}
				return nil
			}

			if err := batch.add(output); err != nil {
				if pw.metrics != nil {
					pw.metrics.PersistErrors.WithLabelValues("encode").Inc()
				}
				pw.logger.Error().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("envelope could not be encoded")
				continue
			}

			if len(batch.events) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.events) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. A batch is never dropped.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pendingBatch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch.events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.commit(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.commit(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

// commit writes the batch, clears its unflushed records and then
// dispatches its transfers.
func (pw *PersistenceWorker) commit(ctx context.Context, batch *pendingBatch) error {
	if err := pw.flush(ctx, batch); err != nil {
		return err
	}
	pw.ack(ctx, batch.events)
	pw.dispatch(ctx, batch.sends)
	return nil
}

// ack is best effort: a record left behind is replayed on the next start
// and the event-log inserts ignore rows already present.
func (pw *PersistenceWorker) ack(ctx context.Context, events []EventRow) {
	if pw.calls == nil || len(events) == 0 {
		return
	}
	seqs := make([]int64, len(events))
	for i, e := range events {
		seqs[i] = e.Sequence
	}
	if err := pw.calls.Ack(ctx, seqs); err != nil {
		pw.countError("ack_unflushed")
		pw.logger.Warn().Err(err).Int("events", len(seqs)).Msg("could not clear unflushed records")
	}
}

// Replay writes outputs the previous process committed to state but never
// flushed, then dispatches their transfers. Run it before the core starts.
func (pw *PersistenceWorker) Replay(ctx context.Context) (int, error) {
	if pw.calls == nil {
		return 0, nil
	}
	outs, err := pw.calls.Unflushed()
	if err != nil {
		return 0, fmt.Errorf("load unflushed outputs: %w", err)
	}
	if len(outs) == 0 {
		return 0, nil
	}

	batch := &pendingBatch{}
	for _, out := range outs {
		if err := batch.add(out); err != nil {
			return 0, fmt.Errorf("encode unflushed output %d: %w", out.Envelope.Sequence, err)
		}
	}
	if err := pw.flushWithRetry(ctx, batch); err != nil {
		return 0, err
	}
	pw.logger.Info().Int("events", len(outs)).Msg("replayed unflushed outputs")
	return len(outs), nil
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pendingBatch) error {
	start := time.Now()

	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, batch.events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := pw.writer.WriteTransferBatch(ctx, tx, batch.transfers); err != nil {
		pw.countError("write_transfers")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistTransfersWritten.Add(float64(len(batch.transfers)))
		if len(batch.events) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(batch.events[len(batch.events)-1].Sequence))
		}
	}
	return nil
}

// dispatch sends committed transfers and marks the delivered ones. A
// failed send stays pending for ResendPending.
func (pw *PersistenceWorker) dispatch(ctx context.Context, sends []transfer.Instruction) {
	if pw.sender == nil || len(sends) == 0 {
		return
	}

	sent := make([]string, 0, len(sends))
	for _, ins := range sends {
		if err := pw.sender.Send(ctx, ins); err != nil {
			pw.countError("transfer_send")
			pw.logger.Warn().
				Err(err).
				Str("transfer_id", ins.TransferID.String()).
				Str("kind", string(ins.Kind)).
				Msg("transfer send failed, left pending")
			continue
		}
		sent = append(sent, ins.TransferID.String())
	}

	if err := pw.writer.MarkTransfersSent(ctx, sent); err != nil {
		pw.countError("mark_sent")
		pw.logger.Warn().Err(err).Int("transfers", len(sent)).Msg("could not mark transfers sent")
	}
}

// ResendPending hands every still-pending transfer to the sender. Sends
// carry the transfer id as message id, so a repeat is deduplicated
// downstream.
func (pw *PersistenceWorker) ResendPending(ctx context.Context, limit int) (int, error) {
	if pw.sender == nil {
		return 0, nil
	}
	pending, err := pw.writer.PendingTransfers(ctx, limit)
	if err != nil {
		return 0, err
	}
	pw.dispatch(ctx, pending)
	if len(pending) > 0 {
		pw.logger.Info().Int("transfers", len(pending)).Msg("resent pending transfers")
	}
	return len(pending), nil
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}

// GetWriter returns the underlying writer for startup recovery queries.
func (pw *PersistenceWorker) GetWriter() *EventLogWriter {
	return pw.writer
}
