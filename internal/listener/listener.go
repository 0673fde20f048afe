// Package listener polls every registered trigger each tick: queue
// receives governed by the queue processing policy, and blob listings
// diffed against the previous pass.
package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ignishq/ignis/internal/metrics"
	"github.com/ignishq/ignis/internal/queue"
	"github.com/ignishq/ignis/internal/storage"
	"github.com/ignishq/ignis/internal/trigger"
)

// processingLease is how long a retrieved message stays invisible
// while a handler works on it.
const processingLease = 5 * time.Minute

var ErrMissingCollaborator = errors.New("listener: missing collaborator")

// QueueHandler processes one message for a queue trigger. It reports
// whether the message was handled; an unhandled message is made
// invisible for the policy's visibility timeout and retried later.
// Errors propagate to the dispatch loop's caller.
type QueueHandler func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error)

// BlobHandler processes one newly observed blob for a blob trigger.
// It reports whether an invocation was dispatched for it.
type BlobHandler func(ctx context.Context, tr trigger.Blob, blob storage.BlobInfo) (bool, error)

// Config assembles a Listener.
type Config struct {
	Triggers []trigger.Trigger
	Queues   storage.QueueClient
	Blobs    storage.BlobClient
	Policy   *queue.Policy
	OnQueue  QueueHandler
	OnBlob   BlobHandler
}

// Listener runs one polling pass across all triggers per call. Not
// safe for concurrent use: one dispatcher drives one listener.
type Listener struct {
	triggers []trigger.Trigger
	queues   storage.QueueClient
	blobs    storage.BlobClient
	policy   *queue.Policy
	onQueue  QueueHandler
	onBlob   BlobHandler

	backoff map[string]*backoffState
	// seen maps (trigger owner, blob path) to the change stamp last
	// reported, per trigger so every trigger watching a container gets
	// its own view of what is new.
	seen map[blobSeenKey]string
	now  func() time.Time
}

type blobSeenKey struct {
	location string
	path     string
}

type backoffState struct {
	interval time.Duration
	nextPoll time.Time
}

// New validates the collaborators and builds a listener.
func New(cfg Config) (*Listener, error) {
	if cfg.Queues == nil {
		return nil, fmt.Errorf("%w: queue client", ErrMissingCollaborator)
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("%w: queue processing policy", ErrMissingCollaborator)
	}
	if cfg.OnQueue == nil {
		return nil, fmt.Errorf("%w: queue handler", ErrMissingCollaborator)
	}
	hasBlobTriggers := false
	for _, tr := range cfg.Triggers {
		if _, ok := tr.(trigger.Blob); ok {
			hasBlobTriggers = true
			break
		}
	}
	if hasBlobTriggers {
		if cfg.Blobs == nil {
			return nil, fmt.Errorf("%w: blob client", ErrMissingCollaborator)
		}
		if cfg.OnBlob == nil {
			return nil, fmt.Errorf("%w: blob handler", ErrMissingCollaborator)
		}
	}

	return &Listener{
		triggers: cfg.Triggers,
		queues:   cfg.Queues,
		blobs:    cfg.Blobs,
		policy:   cfg.Policy,
		onQueue:  cfg.OnQueue,
		onBlob:   cfg.OnBlob,
		backoff:  make(map[string]*backoffState),
		seen:     make(map[blobSeenKey]string),
		now:      time.Now,
	}, nil
}

// Poll runs one pass across every trigger. It reports whether any
// handler made progress. Store errors propagate to the caller; no
// retry wrapping happens here.
func (l *Listener) Poll(ctx context.Context) (bool, error) {
	progress := false

	for _, tr := range l.triggers {
		if err := ctx.Err(); err != nil {
			return progress, err
		}

		switch t := tr.(type) {
		case trigger.Queue:
			p, err := l.pollQueue(ctx, t)
			if err != nil {
				return progress, err
			}
			progress = progress || p
		case trigger.Blob:
			p, err := l.pollBlob(ctx, t)
			if err != nil {
				return progress, err
			}
			progress = progress || p
		}
	}

	return progress, nil
}

func (l *Listener) pollQueue(ctx context.Context, tr trigger.Queue) (bool, error) {
	state := l.backoffFor(tr.QueueName)
	if l.now().Before(state.nextPoll) {
		return false, nil
	}

	progress := false
	for {
		if err := ctx.Err(); err != nil {
			return progress, err
		}

		msgs, err := l.queues.GetMessages(ctx, tr.QueueName, l.policy.BatchSize(), processingLease)
		if err != nil {
			return progress, fmt.Errorf("receiving from queue %q: %w", tr.QueueName, err)
		}

		if len(msgs) == 0 {
			if !progress {
				state.extend(l.now(), l.policy)
			}
			return progress, nil
		}
		state.reset()

		for _, msg := range msgs {
			handled, err := l.processMessage(ctx, tr, msg)
			if err != nil {
				return progress, err
			}
			progress = progress || handled
		}

		// Fetch a new batch only while the queue looks deep enough;
		// a shallow batch means the queue is close to drained.
		if len(msgs) < l.policy.NewBatchThreshold() {
			return progress, nil
		}
	}
}

func (l *Listener) processMessage(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
	if msg.DequeueCount > l.policy.MaxDequeueCount() {
		return false, l.moveToPoison(ctx, tr.QueueName, msg)
	}

	handled, err := l.onQueue(ctx, tr, msg)
	if err != nil {
		return false, err
	}

	if !handled {
		// Failed attempt: make the message invisible for the policy's
		// visibility timeout, then let it come back.
		if err := l.queues.UpdateVisibility(ctx, tr.QueueName, msg.ID, l.policy.VisibilityTimeout()); err != nil {
			return false, fmt.Errorf("updating visibility in queue %q: %w", tr.QueueName, err)
		}
		return false, nil
	}

	if err := l.deleteMessage(ctx, tr.QueueName, msg.ID); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Listener) moveToPoison(ctx context.Context, queueName string, msg *storage.Message) error {
	poison, ok := queue.PoisonQueueName(queueName)
	if ok {
		if err := l.queues.AddMessage(ctx, poison, msg.Body, msg.Metadata); err != nil {
			return fmt.Errorf("adding message to poison queue %q: %w", poison, err)
		}
		metrics.PoisonMessage()
		log.Warn().
			Str("queue", queueName).
			Str("poison_queue", poison).
			Str("message_id", msg.ID).
			Int("dequeue_count", msg.DequeueCount).
			Msg("Message exceeded max dequeue count, moved to poison queue")
	} else {
		log.Warn().
			Str("queue", queueName).
			Str("message_id", msg.ID).
			Int("dequeue_count", msg.DequeueCount).
			Msg("Message exceeded max dequeue count, queue cannot have a poison queue, dropping")
	}

	return l.deleteMessage(ctx, queueName, msg.ID)
}

func (l *Listener) deleteMessage(ctx context.Context, queueName, id string) error {
	var err error
	for attempt := 0; attempt <= l.policy.DeleteRetryCount(); attempt++ {
		err = l.queues.DeleteMessage(ctx, queueName, id)
		if err == nil || errors.Is(err, storage.ErrMessageNotFound) {
			return nil
		}
	}
	return fmt.Errorf("deleting message from queue %q: %w", queueName, err)
}

func (l *Listener) pollBlob(ctx context.Context, tr trigger.Blob) (bool, error) {
	container := tr.ContainerPattern
	if strings.ContainsAny(container, "*?[") {
		// Glob containers cannot be listed generically; they are only
		// reachable through fast-path notifications.
		return false, nil
	}

	blobs, err := l.blobs.List(ctx, container, tr.NamePath.LiteralPrefix())
	if err != nil {
		return false, fmt.Errorf("listing container %q: %w", container, err)
	}

	progress := false
	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return progress, err
		}

		key := blobSeenKey{location: tr.Fn.Location, path: blob.Path()}
		stamp := blob.Stamp()
		if l.seen[key] == stamp {
			continue
		}
		l.seen[key] = stamp

		handled, err := l.onBlob(ctx, tr, blob)
		if err != nil {
			return progress, err
		}
		progress = progress || handled
	}

	return progress, nil
}

func (l *Listener) backoffFor(queueName string) *backoffState {
	state, ok := l.backoff[queueName]
	if !ok {
		state = &backoffState{}
		l.backoff[queueName] = state
	}
	return state
}

func (s *backoffState) reset() {
	s.interval = 0
	s.nextPoll = time.Time{}
}

// extend doubles the polling backoff, bounded below by the fixed
// minimum and above by the policy's maximum.
func (s *backoffState) extend(now time.Time, p *queue.Policy) {
	if s.interval == 0 {
		s.interval = queue.MinPollingInterval
	} else {
		s.interval *= 2
	}
	if s.interval > p.MaxPollingInterval() {
		s.interval = p.MaxPollingInterval()
	}
	s.nextPoll = now.Add(s.interval)
}
