package ingestion

import (
	"context"
	"errors"
	"strings"

	"CollateralLedger/internal/core"
	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/event"
	"CollateralLedger/internal/observability"
	"CollateralLedger/internal/oracle"

	"github.com/rs/zerolog"
)

// Submitter hands a parsed command to the engine and waits for the result.
type Submitter interface {
	Submit(ctx context.Context, cmd event.Command) (*event.Envelope, error)
}

// Router decodes inbound messages and routes commands to the engine and
// feed observations to the in-memory price books.
type Router struct {
	in        <-chan RawMessage
	submitter Submitter
	rates     *oracle.RateBook
	pools     *oracle.TWAPBook
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewRouter(in <-chan RawMessage, submitter Submitter, rates *oracle.RateBook, pools *oracle.TWAPBook, metrics *observability.Metrics) *Router {
	return &Router{
		in:        in,
		submitter: submitter,
		rates:     rates,
		pools:     pools,
		metrics:   metrics,
		logger:    observability.NewLogger("router"),
	}
}

// Run handles messages until ctx is cancelled or in is closed.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.in:
			if !ok {
				return nil
			}
			r.Handle(ctx, msg)
		}
	}
}

// Handle routes one message by subject and settles it.
func (r *Router) Handle(ctx context.Context, msg RawMessage) {
	switch {
	case strings.HasPrefix(msg.Subject, CommandSubjectPrefix):
		r.handleCommand(ctx, msg)
	case strings.HasPrefix(msg.Subject, RateSubjectPrefix):
		r.handleRate(msg)
	case strings.HasPrefix(msg.Subject, PoolSubjectPrefix):
		r.handlePool(msg)
	default:
		r.logger.Warn().Str("subject", msg.Subject).Msg("no route for subject")
		settle(msg.TermFunc)
	}
}

func (r *Router) handleCommand(ctx context.Context, msg RawMessage) {
	callType, _ := CommandTypeFromSubject(msg.Subject)
	cmd, err := ParseCommand(callType, msg.Data, msg.Timestamp)
	if err != nil {
		r.logger.Warn().Str("subject", msg.Subject).Err(err).Msg("undecodable command")
		settle(msg.TermFunc)
		return
	}

	env, err := r.submitter.Submit(ctx, cmd)
	switch {
	case err == nil:
		r.logger.Debug().
			Str("call_type", callType).
			Int64("sequence", env.Sequence).
			Msg("command applied")
		settle(msg.AckFunc)

	case ctx.Err() != nil:
		settle(msg.NakFunc)

	case errors.Is(err, core.ErrInvariantViolated):
		settle(msg.TermFunc)

	case errs.ClassOf(err) == errs.ClassInternal:
		// Store or commit failure; try again on redelivery.
		r.logger.Error().Str("call_type", callType).Err(err).Msg("command failed, requesting redelivery")
		settle(msg.NakFunc)

	default:
		// Rejections are final and already logged by the core.
		settle(msg.AckFunc)
	}
}

func (r *Router) handleRate(msg RawMessage) {
	u, err := ParseRateUpdate(msg.Subject, msg.Data, msg.Timestamp)
	if err == nil {
		err = r.rates.SetRate(u.Base, u.Quote, u.Rate, u.At)
	}
	if err != nil {
		r.logger.Warn().Str("subject", msg.Subject).Err(err).Msg("rate update dropped")
		settle(msg.TermFunc)
		return
	}
	r.recordFeed("rates")
	settle(msg.AckFunc)
}

func (r *Router) handlePool(msg RawMessage) {
	obs, err := ParsePoolObservation(msg.Subject, msg.Data, msg.Timestamp)
	if err != nil {
		r.logger.Warn().Str("subject", msg.Subject).Err(err).Msg("pool observation dropped")
		settle(msg.TermFunc)
		return
	}
	r.pools.Record(obs.Pool, obs.Price, obs.At)
	r.recordFeed("pools")
	settle(msg.AckFunc)
}

func (r *Router) recordFeed(feed string) {
	if r.metrics != nil {
		r.metrics.FeedUpdates.WithLabelValues(feed).Inc()
	}
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
