package core

import (
	"context"
	"time"

	"CollateralLedger/internal/event"
	"CollateralLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Request is one command waiting for the engine goroutine.
type Request struct {
	Ctx        context.Context
	Command    event.Command
	ReceivedAt time.Time
	reply      chan Result
}

type Result struct {
	Envelope *event.Envelope
	Err      error
}

// Runner serialises every command through a single goroutine. NATS and
// HTTP both submit here; nothing else touches the core.
type Runner struct {
	core     *CollateralCore
	requests chan Request
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewRunner(core *CollateralCore, capacity int, metrics *observability.Metrics) *Runner {
	return &Runner{
		core:     core,
		requests: make(chan Request, capacity),
		metrics:  metrics,
		logger:   observability.NewLogger("runner"),
	}
}

// Submit queues cmd and waits for its result or ctx cancellation. A
// command already dequeued still runs to completion when ctx ends.
func (r *Runner) Submit(ctx context.Context, cmd event.Command) (*event.Envelope, error) {
	req := Request{
		Ctx:        ctx,
		Command:    cmd,
		ReceivedAt: time.Now(),
		reply:      make(chan Result, 1),
	}

	select {
	case r.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.Envelope, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes requests until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().Int64("sequence", r.core.GetSequence()).Msg("engine loop started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Int64("sequence", r.core.GetSequence()).Msg("engine loop stopped")
			return ctx.Err()

		case req := <-r.requests:
			if r.metrics != nil {
				r.metrics.SetChannelMetrics("requests", len(r.requests), cap(r.requests))
			}
			if err := req.Ctx.Err(); err != nil {
				req.reply <- Result{Err: err}
				continue
			}

			env, err := r.core.ProcessCommand(req.Ctx, req.Command)
			if r.metrics != nil {
				r.metrics.IngestToApply.
					WithLabelValues(req.Command.CommandType().String()).
					Observe(time.Since(req.ReceivedAt).Seconds())
			}
			req.reply <- Result{Envelope: env, Err: err}
		}
	}
}
