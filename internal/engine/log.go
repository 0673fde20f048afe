package engine

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogEngine is an Engine that only records what it would execute.
// Useful as a stand-in while no real engine is attached.
type LogEngine struct{}

// Submit logs the request and returns immediately.
func (LogEngine) Submit(ctx context.Context, req *Request) error {
	failures := 0
	for _, arg := range req.Args {
		if _, failed := arg.Failure(); failed {
			failures++
		}
	}

	evt := log.Info().
		Str("location", req.Location).
		Int("args", len(req.Args)).
		Int("failed_args", failures)
	if req.ID != "" {
		evt = evt.Str("invocation_id", req.ID)
	}
	if req.Reason != nil {
		if parent := req.Reason.ParentInvocation(); parent != "" {
			evt = evt.Str("parent_id", parent)
		}
	}
	if req.ArgSummary != "" {
		evt = evt.Str("args_summary", req.ArgSummary)
	}
	evt.Msg("Invocation request received")

	return nil
}
