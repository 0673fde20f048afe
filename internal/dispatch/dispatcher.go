// Package dispatch owns the tick loop that sequences fast-path and
// generic-path event detection and converts matched events into
// invocation requests for the execution engine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ignishq/ignis/internal/audit"
	"github.com/ignishq/ignis/internal/bind"
	"github.com/ignishq/ignis/internal/causality"
	"github.com/ignishq/ignis/internal/engine"
	"github.com/ignishq/ignis/internal/function"
	"github.com/ignishq/ignis/internal/listener"
	"github.com/ignishq/ignis/internal/metrics"
	"github.com/ignishq/ignis/internal/notify"
	"github.com/ignishq/ignis/internal/queue"
	"github.com/ignishq/ignis/internal/storage"
	"github.com/ignishq/ignis/internal/trigger"
)

var ErrMissingCollaborator = errors.New("dispatcher: missing collaborator")

// Config assembles a Dispatcher.
type Config struct {
	Triggers  *trigger.Map
	Functions function.Registry
	Engine    engine.Engine
	Queues    storage.QueueClient
	Blobs     storage.BlobClient
	Policy    *queue.Policy
	// Notifier is the optional fast-path channel.
	Notifier notify.Notifier
	// Audit receives dropped-dispatch records. Defaults to a no-op
	// sink.
	Audit audit.Logger
}

// Dispatcher drives one tick at a time. Exactly one dispatcher runs
// per process; it is driven by a caller-owned scheduler and is not
// safe for concurrent ticks.
type Dispatcher struct {
	triggers  *trigger.Map
	functions function.Registry
	engine    engine.Engine
	blobs     storage.BlobClient
	notifier  notify.Notifier
	audit     audit.Logger
	listener  *listener.Listener

	// dispatchedBlobs maps (trigger owner, blob path) to the change
	// stamp last dispatched, so one trigger observing a blob through
	// both detection paths forwards it once while other triggers
	// matching the same blob still get their own dispatch.
	dispatchedBlobs map[blobDispatchKey]string

	// detected counts forwarded requests, for diagnostics only;
	// control flow runs on per-phase progress results.
	detected uint64
}

// New validates the collaborators and builds a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Triggers == nil {
		return nil, fmt.Errorf("%w: trigger map", ErrMissingCollaborator)
	}
	if cfg.Functions == nil {
		return nil, fmt.Errorf("%w: function registry", ErrMissingCollaborator)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("%w: execution engine", ErrMissingCollaborator)
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger{}
	}

	d := &Dispatcher{
		triggers:        cfg.Triggers,
		functions:       cfg.Functions,
		engine:          cfg.Engine,
		blobs:           cfg.Blobs,
		notifier:        cfg.Notifier,
		audit:           cfg.Audit,
		dispatchedBlobs: make(map[blobDispatchKey]string),
	}

	l, err := listener.New(listener.Config{
		Triggers: cfg.Triggers.Triggers(),
		Queues:   cfg.Queues,
		Blobs:    cfg.Blobs,
		Policy:   cfg.Policy,
		OnQueue:  d.onQueueMessage,
		OnBlob:   d.onBlob,
	})
	if err != nil {
		return nil, err
	}
	d.listener = l

	return d, nil
}

// Detected reports how many invocation requests have been forwarded
// since construction. Diagnostic only.
func (d *Dispatcher) Detected() uint64 {
	return d.detected
}

// Tick runs one dispatch round. The fast path is drained first; any
// progress restarts the round so an invocation that wrote a blob can
// trigger its downstream consumer without waiting on generic polling.
// Only a fully idle pass through both phases returns control to the
// caller. The context is checked at the top of every iteration and a
// cancelled tick returns with no partial dispatch pending.
func (d *Dispatcher) Tick(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		progress, err := d.drainFastPath(ctx)
		if err != nil {
			return err
		}
		if progress {
			continue
		}

		progress, err = d.listener.Poll(ctx)
		if err != nil {
			return err
		}
		if progress {
			continue
		}

		metrics.IdleTick()
		return nil
	}
}

// drainFastPath consumes every pending possible-new-blob notification
// and dispatches the triggers they match. Events naming unknown blobs
// or unmatched paths are dropped silently: the fast path is a hint.
func (d *Dispatcher) drainFastPath(ctx context.Context) (bool, error) {
	if d.notifier == nil {
		return false, nil
	}

	progress := false
	for {
		select {
		case <-ctx.Done():
			return progress, ctx.Err()
		case evt, ok := <-d.notifier.Events():
			if !ok {
				return progress, nil
			}
			p, err := d.dispatchNotification(ctx, evt)
			if err != nil {
				return progress, err
			}
			progress = progress || p
		default:
			return progress, nil
		}
	}
}

func (d *Dispatcher) dispatchNotification(ctx context.Context, evt notify.BlobEvent) (bool, error) {
	matches := d.triggers.MatchBlob(evt.Container, evt.Name)
	if len(matches) == 0 {
		return false, nil
	}

	blob, ok, err := d.resolveBlob(ctx, evt.Container, evt.Name)
	if err != nil {
		return false, err
	}
	if !ok {
		// The hinted blob does not (or no longer does) exist.
		return false, nil
	}

	progress := false
	for _, match := range matches {
		p, err := d.onBlob(ctx, match.Trigger, blob)
		if err != nil {
			return progress, err
		}
		progress = progress || p
	}
	return progress, nil
}

// resolveBlob looks a hinted blob up in the store to get its change
// stamp. Without a blob client the hint is taken at face value.
func (d *Dispatcher) resolveBlob(ctx context.Context, container, name string) (storage.BlobInfo, bool, error) {
	if d.blobs == nil {
		return storage.BlobInfo{Container: container, Name: name}, true, nil
	}

	listed, err := d.blobs.List(ctx, container, name)
	if err != nil {
		return storage.BlobInfo{}, false, fmt.Errorf("resolving hinted blob %s/%s: %w", container, name, err)
	}
	for _, blob := range listed {
		if blob.Name == name {
			return blob, true, nil
		}
	}
	return storage.BlobInfo{}, false, nil
}

// onQueueMessage handles one received message: a dashboard command for
// the function-less dashboard trigger, a function dispatch otherwise.
func (d *Dispatcher) onQueueMessage(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
	if tr.Fn == nil {
		return d.onDashboardMessage(ctx, msg)
	}

	// Extract named route values from the payload. A payload that does
	// not fit the route binds without named values.
	var named map[string]*string
	var values map[string]string
	if qi, ok := tr.Fn.QueueTriggerBinding(); ok && qi.Route != nil {
		if v, matched := qi.Route.Match(string(msg.Body)); matched {
			values = v
			named = toNamed(v)
		}
	}

	matched, err := tr.Filter.Eval(values, msg.Metadata)
	if err != nil {
		return false, err
	}
	if !matched {
		// Filtered out: consume the message without dispatching.
		log.Debug().
			Str("queue", tr.QueueName).
			Str("message_id", msg.ID).
			Str("location", tr.Fn.Location).
			Msg("Message filtered out")
		return true, nil
	}

	res := bind.Run(tr.Fn.Flow, bind.RuntimeInputs{
		Location: tr.Fn.Location,
		Named:    named,
		Message:  msg,
	})

	req := &engine.Request{
		Location:   tr.Fn.Location,
		Args:       res.Bindings,
		ArgSummary: res.ArgSummary,
		Reason: engine.QueueMessageReason{
			Queue:     tr.QueueName,
			MessageID: msg.ID,
			ParentID:  causality.FromMessage(msg),
		},
	}

	if err := d.submit(ctx, req, "queue"); err != nil {
		return false, err
	}
	return true, nil
}

// onDashboardMessage deserializes a tagged command. Unsupported or
// malformed commands are hard errors surfaced to the dispatch caller;
// a command naming an unknown function is logged and dropped.
func (d *Dispatcher) onDashboardMessage(ctx context.Context, msg *storage.Message) (bool, error) {
	cmd, err := ParseCommand(msg.Body)
	if err != nil {
		return false, err
	}

	invoke, ok := cmd.(InvokeCommand)
	if !ok {
		return false, fmt.Errorf("%w: %T", ErrUnsupportedCommand, cmd)
	}

	def, found := d.functions.Lookup(invoke.Function)
	if !found {
		rec := &audit.FailureRecord{
			InvocationID: invoke.ID,
			FunctionID:   invoke.Function,
			Detail:       "function not found in registry",
			OccurredAt:   time.Now().UTC(),
		}
		if err := d.audit.WriteFailure(ctx, rec); err != nil {
			log.Error().Err(err).Str("function", invoke.Function).Msg("Failed to write audit record")
		}
		log.Warn().
			Str("function", invoke.Function).
			Str("invocation_id", invoke.ID).
			Msg("Dashboard command names unknown function, dropping")
		return true, nil
	}

	named := make(map[string]*string, len(invoke.Arguments))
	for k, v := range invoke.Arguments {
		named[k] = &v
	}

	res := bind.Run(def.Flow, bind.RuntimeInputs{
		Location: def.Location,
		Named:    named,
	})

	req := &engine.Request{
		Location:   def.Location,
		Args:       res.Bindings,
		ArgSummary: res.ArgSummary,
		ID:         invoke.ID,
		Reason:     engine.DashboardReason{Note: invoke.Reason},
	}

	if err := d.submit(ctx, req, "dashboard"); err != nil {
		return false, err
	}
	return true, nil
}

// blobDispatchKey identifies one (trigger, blob) pair for
// de-duplication across detection paths.
type blobDispatchKey struct {
	location string
	path     string
}

// onBlob handles one observed blob for a matching trigger, from either
// detection path. A non-matching path is dropped silently; a blob
// already dispatched to this trigger at the same change stamp is
// dropped so overlapping detection paths never forward it twice.
func (d *Dispatcher) onBlob(ctx context.Context, tr trigger.Blob, blob storage.BlobInfo) (bool, error) {
	values, ok := tr.NamePath.Match(blob.Name)
	if !ok {
		return false, nil
	}

	key := blobDispatchKey{location: tr.Fn.Location, path: blob.Path()}
	stamp := blob.Stamp()
	if prev, seen := d.dispatchedBlobs[key]; seen && prev == stamp {
		return false, nil
	}

	metadata, err := d.blobMetadata(ctx, blob)
	if err != nil {
		return false, err
	}

	matched, err := tr.Filter.Eval(values, metadata)
	if err != nil {
		return false, err
	}
	if !matched {
		d.dispatchedBlobs[key] = stamp
		return false, nil
	}

	res := bind.Run(tr.Fn.Flow, bind.RuntimeInputs{
		Location: tr.Fn.Location,
		Named:    toNamed(values),
		Blob:     &blob,
	})

	req := &engine.Request{
		Location:   tr.Fn.Location,
		Args:       res.Bindings,
		ArgSummary: res.ArgSummary,
		Reason: engine.BlobReason{
			Path:     blob.Path(),
			ParentID: causality.FromBlobMetadata(metadata),
		},
	}

	if err := d.submit(ctx, req, "blob"); err != nil {
		return false, err
	}
	d.dispatchedBlobs[key] = stamp
	return true, nil
}

func (d *Dispatcher) blobMetadata(ctx context.Context, blob storage.BlobInfo) (map[string]string, error) {
	if blob.Metadata != nil {
		return blob.Metadata, nil
	}
	if d.blobs == nil {
		return nil, nil
	}

	metadata, err := d.blobs.Metadata(ctx, blob.Container, blob.Name)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return metadata, nil
}

// submit forwards a request to the engine, fire-and-forget: the engine
// owns everything past acceptance.
func (d *Dispatcher) submit(ctx context.Context, req *engine.Request, kind string) error {
	if err := d.engine.Submit(ctx, req); err != nil {
		return fmt.Errorf("submitting invocation for %q: %w", req.Location, err)
	}

	d.detected++
	metrics.TriggerDetected(kind)
	metrics.Dispatched(kind)
	failures := 0
	for _, arg := range req.Args {
		if _, failed := arg.Failure(); failed {
			failures++
		}
	}
	if failures > 0 {
		metrics.BindingFailed(failures)
	}

	log.Debug().
		Str("location", req.Location).
		Str("kind", kind).
		Int("args", len(req.Args)).
		Int("failed_args", failures).
		Msg("Invocation request forwarded")
	return nil
}

func toNamed(values map[string]string) map[string]*string {
	if values == nil {
		return nil
	}
	named := make(map[string]*string, len(values))
	for k, v := range values {
		named[k] = &v
	}
	return named
}
