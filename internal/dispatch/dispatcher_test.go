package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ignishq/ignis/internal/audit"
	"github.com/ignishq/ignis/internal/bind"
	"github.com/ignishq/ignis/internal/engine"
	"github.com/ignishq/ignis/internal/function"
	"github.com/ignishq/ignis/internal/notify"
	"github.com/ignishq/ignis/internal/queue"
	"github.com/ignishq/ignis/internal/storage"
	"github.com/ignishq/ignis/internal/trigger"
)

// fakeQueueClient is an in-memory QueueClient that records call order.
type fakeQueueClient struct {
	mu     sync.Mutex
	msgs   map[string][]*storage.Message
	hidden map[string]bool
	nextID int
	calls  *callLog
}

type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (c *callLog) add(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *callLog) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.entries...)
}

func newFakeQueueClient(calls *callLog) *fakeQueueClient {
	return &fakeQueueClient{
		msgs:   make(map[string][]*storage.Message),
		hidden: make(map[string]bool),
		calls:  calls,
	}
}

func (c *fakeQueueClient) add(queueName string, body []byte, metadata map[string]string) *storage.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	msg := &storage.Message{
		ID:       fmt.Sprintf("m%03d", c.nextID),
		Queue:    queueName,
		Body:     body,
		Metadata: metadata,
	}
	c.msgs[queueName] = append(c.msgs[queueName], msg)
	return msg
}

func (c *fakeQueueClient) GetMessages(ctx context.Context, queueName string, count int, visibility time.Duration) ([]*storage.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls != nil {
		c.calls.add("get:" + queueName)
	}

	var out []*storage.Message
	for _, msg := range c.msgs[queueName] {
		if c.hidden[msg.ID] {
			continue
		}
		msg.DequeueCount++
		c.hidden[msg.ID] = true
		out = append(out, msg)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func (c *fakeQueueClient) DeleteMessage(ctx context.Context, queueName, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.msgs[queueName]
	for i, msg := range msgs {
		if msg.ID == id {
			c.msgs[queueName] = append(msgs[:i], msgs[i+1:]...)
			delete(c.hidden, id)
			return nil
		}
	}
	return storage.ErrMessageNotFound
}

func (c *fakeQueueClient) UpdateVisibility(ctx context.Context, queueName, id string, visibility time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if visibility == 0 {
		delete(c.hidden, id)
	}
	return nil
}

func (c *fakeQueueClient) AddMessage(ctx context.Context, queueName string, body []byte, metadata map[string]string) error {
	c.add(queueName, body, metadata)
	return nil
}

// fakeBlobClient serves a fixed blob set.
type fakeBlobClient struct {
	blobs []storage.BlobInfo
}

func (c *fakeBlobClient) Exists(ctx context.Context, container, name string) (bool, error) {
	for _, b := range c.blobs {
		if b.Container == container && b.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *fakeBlobClient) List(ctx context.Context, container, prefix string) ([]storage.BlobInfo, error) {
	var out []storage.BlobInfo
	for _, b := range c.blobs {
		if b.Container == container && strings.HasPrefix(b.Name, prefix) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *fakeBlobClient) Metadata(ctx context.Context, container, name string) (map[string]string, error) {
	for _, b := range c.blobs {
		if b.Container == container && b.Name == name {
			if b.Metadata == nil {
				return map[string]string{}, nil
			}
			return b.Metadata, nil
		}
	}
	return nil, storage.ErrBlobNotFound
}

// recordingEngine captures submitted requests.
type recordingEngine struct {
	mu       sync.Mutex
	reqs     []*engine.Request
	calls    *callLog
	onSubmit func(req *engine.Request)
}

func (e *recordingEngine) Submit(ctx context.Context, req *engine.Request) error {
	e.mu.Lock()
	e.reqs = append(e.reqs, req)
	e.mu.Unlock()
	if e.calls != nil {
		e.calls.add("submit:" + req.Location)
	}
	if e.onSubmit != nil {
		e.onSubmit(req)
	}
	return nil
}

func (e *recordingEngine) requests() []*engine.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*engine.Request(nil), e.reqs...)
}

// recordingAudit captures failure records.
type recordingAudit struct {
	recs []*audit.FailureRecord
}

func (a *recordingAudit) WriteFailure(ctx context.Context, rec *audit.FailureRecord) error {
	a.recs = append(a.recs, rec)
	return nil
}

func mustTemplate(t *testing.T, raw string) *bind.Template {
	t.Helper()
	tmpl, err := bind.ParseTemplate(raw)
	require.NoError(t, err)
	return tmpl
}

func orderFunction(t *testing.T) *function.Definition {
	t.Helper()
	return &function.Definition{
		Location: "process-order",
		Flow: []bind.StaticBinding{
			bind.QueueInput{Name: "msg", Queue: "orders", Route: mustTemplate(t, "order/{id}/{action}")},
			bind.BlobOutput{Name: "out", Path: mustTemplate(t, "results/{id}.json")},
			bind.Value{Name: "id"},
		},
	}
}

func invoiceFunction(t *testing.T) *function.Definition {
	t.Helper()
	return &function.Definition{
		Location: "index-invoice",
		Flow: []bind.StaticBinding{
			bind.BlobInput{Name: "in", Path: mustTemplate(t, "invoices/{name}.json")},
			bind.Value{Name: "name"},
		},
	}
}

type fixture struct {
	dispatcher *Dispatcher
	queues     *fakeQueueClient
	blobs      *fakeBlobClient
	engine     *recordingEngine
	audit      *recordingAudit
	notifier   *notify.ChannelNotifier
	calls      *callLog
}

func newFixture(t *testing.T, defs []*function.Definition, dashboardQueue string) *fixture {
	t.Helper()

	calls := &callLog{}
	f := &fixture{
		queues:   newFakeQueueClient(calls),
		blobs:    &fakeBlobClient{},
		engine:   &recordingEngine{calls: calls},
		audit:    &recordingAudit{},
		notifier: notify.NewChannelNotifier(16),
		calls:    calls,
	}

	registry, err := function.NewStaticRegistry(defs...)
	require.NoError(t, err)

	triggers, err := trigger.BuildMap(defs, dashboardQueue)
	require.NoError(t, err)

	f.dispatcher, err = New(Config{
		Triggers:  triggers,
		Functions: registry,
		Engine:    f.engine,
		Queues:    f.queues,
		Blobs:     f.blobs,
		Policy:    queue.NewPolicy(),
		Notifier:  f.notifier,
		Audit:     f.audit,
	})
	require.NoError(t, err)

	return f
}

func TestTick_QueueTriggerDispatch(t *testing.T) {
	f := newFixture(t, []*function.Definition{orderFunction(t)}, "")
	ctx := context.Background()

	f.queues.add("orders", []byte("order/42/ship"), map[string]string{storage.MetadataParentKey: "inv-7"})

	require.NoError(t, f.dispatcher.Tick(ctx))

	reqs := f.engine.requests()
	require.Len(t, reqs, 1)
	req := reqs[0]

	require.Equal(t, "process-order", req.Location)
	// Bound-argument count always equals the declared parameter count.
	require.Len(t, req.Args, 3)

	v, ok := req.Args[0].Value()
	require.True(t, ok)
	require.Equal(t, "order/42/ship", *v)

	v, ok = req.Args[1].Value()
	require.True(t, ok)
	require.Equal(t, "results/42.json", *v)

	v, ok = req.Args[2].Value()
	require.True(t, ok)
	require.Equal(t, "42", *v)

	reason, ok := req.Reason.(engine.QueueMessageReason)
	require.True(t, ok)
	require.Equal(t, "orders", reason.Queue)
	require.Equal(t, "inv-7", reason.ParentID)
	require.NotEmpty(t, reason.MessageID)

	require.Contains(t, req.ArgSummary, "id=42")
	require.EqualValues(t, 1, f.dispatcher.Detected())

	// The handled message is gone.
	require.Empty(t, f.queues.msgs["orders"])
}

func TestTick_QueueTriggerArgsLengthWithFailures(t *testing.T) {
	f := newFixture(t, []*function.Definition{orderFunction(t)}, "")
	ctx := context.Background()

	// Payload does not fit the route: no named values, so the blob
	// output and value parameters cannot fully bind.
	f.queues.add("orders", []byte("unroutable payload"), nil)

	require.NoError(t, f.dispatcher.Tick(ctx))

	reqs := f.engine.requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Args, 3)

	// Message body still binds.
	v, ok := reqs[0].Args[0].Value()
	require.True(t, ok)
	require.Equal(t, "unroutable payload", *v)

	// Blob output fails, value binds as missing; the failure text is
	// preserved verbatim.
	text, failed := reqs[0].Args[1].Failure()
	require.True(t, failed)
	require.Equal(t, `missing template parameter: "id" in "results/{id}.json"`, text)

	v, ok = reqs[0].Args[2].Value()
	require.True(t, ok)
	require.Nil(t, v)
}

func TestTick_IdleTicksMakeNoEngineCalls(t *testing.T) {
	f := newFixture(t, []*function.Definition{orderFunction(t)}, "")
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Tick(ctx))
	require.Empty(t, f.engine.requests())

	// One generic-path receive attempt on the first idle tick.
	require.Equal(t, []string{"get:orders"}, f.calls.all())

	// Repeated idle ticks stay idle: no engine calls appear.
	require.NoError(t, f.dispatcher.Tick(ctx))
	require.NoError(t, f.dispatcher.Tick(ctx))
	require.Empty(t, f.engine.requests())
}

func TestTick_FastPathRunsBeforeGenericPolling(t *testing.T) {
	f := newFixture(t, []*function.Definition{invoiceFunction(t), orderFunction(t)}, "")
	ctx := context.Background()

	f.blobs.blobs = []storage.BlobInfo{
		{Container: "invoices", Name: "a.json", ETag: "v1"},
		{Container: "invoices", Name: "b.json", ETag: "v1"},
	}

	// Dispatching the first fast-path event "writes" a second blob,
	// whose notification arrives while the tick is still running.
	fired := false
	f.engine.onSubmit = func(req *engine.Request) {
		if !fired {
			fired = true
			f.notifier.Notify(notify.BlobEvent{Container: "invoices", Name: "b.json"})
		}
	}

	f.notifier.Notify(notify.BlobEvent{Container: "invoices", Name: "a.json"})

	require.NoError(t, f.dispatcher.Tick(ctx))

	// Both fast-path dispatches happen before any queue receive.
	calls := f.calls.all()
	require.GreaterOrEqual(t, len(calls), 3)
	require.Equal(t, "submit:index-invoice", calls[0])
	require.Equal(t, "submit:index-invoice", calls[1])
	require.Equal(t, "get:orders", calls[2])
}

func TestTick_BlobEventWithoutMatchIsSilentlyDropped(t *testing.T) {
	f := newFixture(t, []*function.Definition{invoiceFunction(t)}, "")
	ctx := context.Background()

	f.blobs.blobs = []storage.BlobInfo{
		{Container: "invoices", Name: "notes.txt", ETag: "v1"},
	}
	f.notifier.Notify(notify.BlobEvent{Container: "invoices", Name: "notes.txt"})
	f.notifier.Notify(notify.BlobEvent{Container: "receipts", Name: "a.json"})

	require.NoError(t, f.dispatcher.Tick(ctx))

	require.Empty(t, f.engine.requests())
	require.Zero(t, f.dispatcher.Detected())
}

func TestTick_BlobDispatch(t *testing.T) {
	f := newFixture(t, []*function.Definition{invoiceFunction(t)}, "")
	ctx := context.Background()

	f.blobs.blobs = []storage.BlobInfo{
		{
			Container: "invoices",
			Name:      "2024-03.json",
			ETag:      "v1",
			Metadata:  map[string]string{storage.MetadataParentKey: "inv-3"},
		},
	}
	f.notifier.Notify(notify.BlobEvent{Container: "invoices", Name: "2024-03.json"})

	require.NoError(t, f.dispatcher.Tick(ctx))

	reqs := f.engine.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "index-invoice", reqs[0].Location)
	require.Len(t, reqs[0].Args, 2)

	v, ok := reqs[0].Args[0].Value()
	require.True(t, ok)
	require.Equal(t, "invoices/2024-03.json", *v)

	v, ok = reqs[0].Args[1].Value()
	require.True(t, ok)
	require.Equal(t, "2024-03", *v)

	reason, ok := reqs[0].Reason.(engine.BlobReason)
	require.True(t, ok)
	require.Equal(t, "invoices/2024-03.json", reason.Path)
	require.Equal(t, "inv-3", reason.ParentID)
}

func TestTick_BlobEventReachesEveryMatchingTrigger(t *testing.T) {
	archive := &function.Definition{
		Location: "archive-invoice",
		Flow: []bind.StaticBinding{
			bind.BlobInput{Name: "in", Path: mustTemplate(t, "invoices/{name}.json")},
		},
	}
	f := newFixture(t, []*function.Definition{invoiceFunction(t), archive}, "")
	ctx := context.Background()

	f.blobs.blobs = []storage.BlobInfo{
		{Container: "invoices", Name: "a.json", ETag: "v1"},
	}
	f.notifier.Notify(notify.BlobEvent{Container: "invoices", Name: "a.json"})

	require.NoError(t, f.dispatcher.Tick(ctx))

	// One blob, two triggers: each matching function is dispatched.
	var locations []string
	for _, req := range f.engine.requests() {
		locations = append(locations, req.Location)
	}
	require.ElementsMatch(t, []string{"index-invoice", "archive-invoice"}, locations)

	// The de-duplication still holds per trigger: a repeat event for
	// the unchanged blob dispatches nothing.
	f.notifier.Notify(notify.BlobEvent{Container: "invoices", Name: "a.json"})
	require.NoError(t, f.dispatcher.Tick(ctx))
	require.Len(t, f.engine.requests(), 2)
}

func TestTick_BlobNotDispatchedTwiceAcrossPaths(t *testing.T) {
	f := newFixture(t, []*function.Definition{invoiceFunction(t)}, "")
	ctx := context.Background()

	f.blobs.blobs = []storage.BlobInfo{
		{Container: "invoices", Name: "2024-03.json", ETag: "v1"},
	}

	// Fast path sees it first.
	f.notifier.Notify(notify.BlobEvent{Container: "invoices", Name: "2024-03.json"})
	require.NoError(t, f.dispatcher.Tick(ctx))
	require.Len(t, f.engine.requests(), 1)

	// The generic listing pass in later ticks must not re-dispatch it.
	require.NoError(t, f.dispatcher.Tick(ctx))
	require.NoError(t, f.dispatcher.Tick(ctx))
	require.Len(t, f.engine.requests(), 1)

	// A changed blob is a new event.
	f.blobs.blobs[0].ETag = "v2"
	f.notifier.Notify(notify.BlobEvent{Container: "invoices", Name: "2024-03.json"})
	require.NoError(t, f.dispatcher.Tick(ctx))
	require.Len(t, f.engine.requests(), 2)
}

func TestTick_CancelledContextReturnsPromptly(t *testing.T) {
	f := newFixture(t, []*function.Definition{orderFunction(t)}, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.queues.add("orders", []byte("order/1/a"), nil)
	err := f.dispatcher.Tick(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, f.engine.requests())
}

func TestNew_MissingCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrMissingCollaborator)
}
