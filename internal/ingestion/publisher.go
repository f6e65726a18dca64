package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"CollateralLedger/internal/core"
	"CollateralLedger/internal/event"
	"CollateralLedger/internal/observability"
	"CollateralLedger/internal/transfer"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes applied calls to NATS for downstream
// consumers and implements transfer.Sender over the same stream.
// Subjects: collateral.events.{call_type} and collateral.transfers.{kind}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// PublishableEvent is the outbound JSON form of an envelope.
type PublishableEvent struct {
	Sequence       int64                  `json:"sequence"`
	CallType       string                 `json:"call_type"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Sender         string                 `json:"sender"`
	Attributes     []event.Attribute      `json:"attributes"`
	Transfers      []transfer.Instruction `json:"transfers,omitempty"`
	StateHash      string                 `json:"state_hash"`
	PrevHash       string                 `json:"prev_hash"`
	Timestamp      time.Time              `json:"timestamp"`
}

// NewPublishableEvent flattens an envelope for publishing.
func NewPublishableEvent(env *event.Envelope) PublishableEvent {
	return PublishableEvent{
		Sequence:       env.Sequence,
		CallType:       env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Sender:         env.Sender,
		Attributes:     env.Attributes,
		Transfers:      env.Transfers,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	}
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out.Envelope); err != nil {
				// Non-fatal: downstream consumers can query the event log directly
				op.logger.Warn().Int64("sequence", out.Envelope.Sequence).Err(err).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.Envelope) error {
	data, err := json.Marshal(NewPublishableEvent(env))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := EventSubjectPrefix + env.CommandType.String()
	_, err = op.js.Publish(ctx, subject, data, jetstream.WithMsgID("seq-"+strconv.FormatInt(env.Sequence, 10)))
	return err
}

// Send publishes a transfer instruction for the executor. The transfer id
// is the JetStream message id, so a resend inside the duplicate window is
// dropped by the server.
func (op *OutboundPublisher) Send(ctx context.Context, ins transfer.Instruction) error {
	data, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}
	_, err = op.js.Publish(ctx, TransferSubjectPrefix+ins.Subject(), data, jetstream.WithMsgID(ins.TransferID.String()))
	if err != nil {
		return fmt.Errorf("publish transfer %s: %w", ins.TransferID, err)
	}
	return nil
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "COLLATERAL_EVENTS",
		Subjects:   []string{"collateral.events.>", "collateral.transfers.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger := observability.NewLogger("publisher")
	logger.Info().Str("stream", "COLLATERAL_EVENTS").Msg("ensured outbound stream")
	return nil
}
