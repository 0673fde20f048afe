// Package engine defines the execution-engine collaborator boundary:
// the invocation request handed off by the dispatcher, and the causal
// reason attached to it. Execution, retries and completion semantics
// all live on the other side of this interface.
package engine

import (
	"context"

	"github.com/ignishq/ignis/internal/bind"
)

// Reason records the causal provenance of one invocation. The variant
// set is closed: a queue message or a blob.
type Reason interface {
	// ParentInvocation is the id of the invocation that produced the
	// triggering message or blob, or "" when unknown.
	ParentInvocation() string

	isReason()
}

// QueueMessageReason marks an invocation triggered by a queue message.
type QueueMessageReason struct {
	Queue     string
	MessageID string
	ParentID  string
}

func (r QueueMessageReason) ParentInvocation() string { return r.ParentID }
func (QueueMessageReason) isReason()                  {}

// BlobReason marks an invocation triggered by a blob write.
type BlobReason struct {
	Path     string
	ParentID string
}

func (r BlobReason) ParentInvocation() string { return r.ParentID }
func (BlobReason) isReason()                  {}

// DashboardReason marks an invocation requested out-of-band through
// the dashboard channel, carrying the caller's own description.
type DashboardReason struct {
	Note string
}

func (DashboardReason) ParentInvocation() string { return "" }
func (DashboardReason) isReason()                {}

// Request is one fully-bound invocation. Args always has exactly one
// entry per declared parameter and is never resized after creation;
// per-argument binding failures surface when the engine reads the
// failed slot.
type Request struct {
	// Location identifies the function to invoke.
	Location string
	// Args are the bound arguments in declaration order.
	Args []bind.RuntimeBinding
	// Reason is the causal provenance, when known.
	Reason Reason
	// ID is the invocation id, when assigned by the caller.
	ID string
	// ArgSummary is a human-readable rendering of the supplied named
	// values, for diagnostics.
	ArgSummary string
}

// Engine accepts invocation requests. Submit must not block on
// execution: the dispatcher forwards requests fire-and-forget, and the
// engine owns everything that happens after.
type Engine interface {
	Submit(ctx context.Context, req *Request) error
}
