package listener

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ignishq/ignis/internal/bind"
	"github.com/ignishq/ignis/internal/function"
	"github.com/ignishq/ignis/internal/queue"
	"github.com/ignishq/ignis/internal/storage"
	"github.com/ignishq/ignis/internal/trigger"
)

type fakeBlobClient struct {
	blobs map[string][]storage.BlobInfo
}

func (c *fakeBlobClient) Exists(ctx context.Context, container, name string) (bool, error) {
	for _, b := range c.blobs[container] {
		if b.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *fakeBlobClient) List(ctx context.Context, container, prefix string) ([]storage.BlobInfo, error) {
	var out []storage.BlobInfo
	for _, b := range c.blobs[container] {
		if prefix == "" || len(b.Name) >= len(prefix) && b.Name[:len(prefix)] == prefix {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *fakeBlobClient) Metadata(ctx context.Context, container, name string) (map[string]string, error) {
	for _, b := range c.blobs[container] {
		if b.Name == name {
			return b.Metadata, nil
		}
	}
	return nil, storage.ErrBlobNotFound
}

func testQueueClient(t *testing.T) *storage.SQLiteQueue {
	t.Helper()
	q, err := storage.OpenSQLiteQueue(storage.SQLiteQueueConfig{
		Path: filepath.Join(t.TempDir(), "queue.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func queueTrigger(queueName string) trigger.Queue {
	return trigger.Queue{
		QueueName: queueName,
		Fn: &function.Definition{
			Location: "fn-" + queueName,
			Flow:     []bind.StaticBinding{bind.QueueInput{Name: "msg", Queue: queueName}},
		},
	}
}

func TestListener_QueuePoll(t *testing.T) {
	qc := testQueueClient(t)
	ctx := context.Background()

	require.NoError(t, qc.AddMessage(ctx, "orders", []byte("a"), nil))
	require.NoError(t, qc.AddMessage(ctx, "orders", []byte("b"), nil))

	var bodies []string
	l, err := New(Config{
		Triggers: []trigger.Trigger{queueTrigger("orders")},
		Queues:   qc,
		Policy:   queue.NewPolicy(),
		OnQueue: func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
			bodies = append(bodies, string(msg.Body))
			return true, nil
		},
	})
	require.NoError(t, err)

	progress, err := l.Poll(ctx)
	require.NoError(t, err)
	require.True(t, progress)
	require.ElementsMatch(t, []string{"a", "b"}, bodies)

	// Handled messages are deleted.
	msgs, err := qc.GetMessages(ctx, "orders", 32, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestListener_EmptyQueueBacksOff(t *testing.T) {
	qc := testQueueClient(t)
	ctx := context.Background()

	calls := 0
	l, err := New(Config{
		Triggers: []trigger.Trigger{queueTrigger("orders")},
		Queues:   qc,
		Policy:   queue.NewPolicy(),
		OnQueue: func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
			calls++
			return true, nil
		},
	})
	require.NoError(t, err)

	now := time.Now()
	l.now = func() time.Time { return now }

	progress, err := l.Poll(ctx)
	require.NoError(t, err)
	require.False(t, progress)

	state := l.backoff["orders"]
	require.NotNil(t, state)
	require.Equal(t, queue.MinPollingInterval, state.interval)

	// Within the backoff window the queue is not polled even when a
	// message arrives.
	require.NoError(t, qc.AddMessage(ctx, "orders", []byte("late"), nil))
	progress, err = l.Poll(ctx)
	require.NoError(t, err)
	require.False(t, progress)
	require.Zero(t, calls)

	// Past the window it is.
	now = now.Add(queue.MinPollingInterval)
	progress, err = l.Poll(ctx)
	require.NoError(t, err)
	require.True(t, progress)
	require.Equal(t, 1, calls)

	// Progress resets the backoff.
	require.True(t, state.nextPoll.IsZero())
}

func TestListener_BackoffIsBoundedByPolicy(t *testing.T) {
	qc := testQueueClient(t)
	ctx := context.Background()

	policy := queue.NewPolicy()
	require.NoError(t, policy.SetMaxPollingInterval(5*time.Second))

	l, err := New(Config{
		Triggers: []trigger.Trigger{queueTrigger("orders")},
		Queues:   qc,
		Policy:   policy,
		OnQueue: func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
			return true, nil
		},
	})
	require.NoError(t, err)

	now := time.Now()
	l.now = func() time.Time { return now }

	for range 6 {
		_, err := l.Poll(ctx)
		require.NoError(t, err)
		now = now.Add(time.Minute)
	}

	require.Equal(t, 5*time.Second, l.backoff["orders"].interval)
}

func TestListener_UnhandledMessageGetsVisibilityTimeout(t *testing.T) {
	qc := testQueueClient(t)
	ctx := context.Background()

	policy := queue.NewPolicy()
	require.NoError(t, policy.SetVisibilityTimeout(30*time.Second))

	require.NoError(t, qc.AddMessage(ctx, "orders", []byte("a"), nil))

	l, err := New(Config{
		Triggers: []trigger.Trigger{queueTrigger("orders")},
		Queues:   qc,
		Policy:   policy,
		OnQueue: func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
			return false, nil
		},
	})
	require.NoError(t, err)

	progress, err := l.Poll(ctx)
	require.NoError(t, err)
	require.False(t, progress)

	// Invisible for the configured timeout, not deleted.
	msgs, err := qc.GetMessages(ctx, "orders", 32, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestListener_PoisonRouting(t *testing.T) {
	qc := testQueueClient(t)
	ctx := context.Background()

	policy := queue.NewPolicy()
	require.NoError(t, policy.SetMaxDequeueCount(1))

	require.NoError(t, qc.AddMessage(ctx, "orders", []byte("bad"), map[string]string{"k": "v"}))

	l, err := New(Config{
		Triggers: []trigger.Trigger{queueTrigger("orders")},
		Queues:   qc,
		Policy:   policy,
		OnQueue: func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
			return false, nil
		},
	})
	require.NoError(t, err)

	// First pass: one failed attempt, message comes back visible.
	progress, err := l.Poll(ctx)
	require.NoError(t, err)
	require.False(t, progress)
	l.backoff["orders"].reset()

	// Second pass: dequeue count now exceeds the limit, the message is
	// moved to the poison queue.
	_, err = l.Poll(ctx)
	require.NoError(t, err)

	poisoned, err := qc.GetMessages(ctx, "orders-poison", 32, 0)
	require.NoError(t, err)
	require.Len(t, poisoned, 1)
	require.Equal(t, []byte("bad"), poisoned[0].Body)
	require.Equal(t, "v", poisoned[0].Metadata["k"])

	msgs, err := qc.GetMessages(ctx, "orders", 32, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestListener_PoisonQueueNeverChains(t *testing.T) {
	qc := testQueueClient(t)
	ctx := context.Background()

	policy := queue.NewPolicy()
	require.NoError(t, policy.SetMaxDequeueCount(1))

	require.NoError(t, qc.AddMessage(ctx, "orders-poison", []byte("bad"), nil))

	l, err := New(Config{
		Triggers: []trigger.Trigger{queueTrigger("orders-poison")},
		Queues:   qc,
		Policy:   policy,
		OnQueue: func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
			return false, nil
		},
	})
	require.NoError(t, err)

	_, err = l.Poll(ctx)
	require.NoError(t, err)
	l.backoff["orders-poison"].reset()
	_, err = l.Poll(ctx)
	require.NoError(t, err)

	// Dropped, not moved to a second-level poison queue.
	msgs, err := qc.GetMessages(ctx, "orders-poison-poison", 32, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
	msgs, err = qc.GetMessages(ctx, "orders-poison", 32, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestListener_BlobPoll(t *testing.T) {
	qc := testQueueClient(t)
	ctx := context.Background()

	path, err := bind.ParseTemplate("{name}.json")
	require.NoError(t, err)
	tr := trigger.Blob{
		ContainerPattern: "invoices",
		NamePath:         path,
		Fn:               &function.Definition{Location: "index-invoice"},
	}

	blobs := &fakeBlobClient{blobs: map[string][]storage.BlobInfo{
		"invoices": {
			{Container: "invoices", Name: "a.json", ETag: "v1"},
			{Container: "invoices", Name: "skip.csv", ETag: "v1"},
		},
	}}

	var seen []string
	l, err := New(Config{
		Triggers: []trigger.Trigger{tr},
		Queues:   qc,
		Blobs:    blobs,
		Policy:   queue.NewPolicy(),
		OnQueue: func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
			return true, nil
		},
		OnBlob: func(ctx context.Context, tr trigger.Blob, blob storage.BlobInfo) (bool, error) {
			seen = append(seen, blob.Name)
			return true, nil
		},
	})
	require.NoError(t, err)

	progress, err := l.Poll(ctx)
	require.NoError(t, err)
	require.True(t, progress)
	require.Equal(t, []string{"a.json", "skip.csv"}, seen)

	// Unchanged blobs are not re-reported.
	progress, err = l.Poll(ctx)
	require.NoError(t, err)
	require.False(t, progress)
	require.Len(t, seen, 2)

	// A changed stamp re-reports the blob.
	blobs.blobs["invoices"][0].ETag = "v2"
	progress, err = l.Poll(ctx)
	require.NoError(t, err)
	require.True(t, progress)
	require.Equal(t, []string{"a.json", "skip.csv", "a.json"}, seen)
}

func TestListener_BlobPollReportsToEveryTrigger(t *testing.T) {
	qc := testQueueClient(t)
	ctx := context.Background()

	path, err := bind.ParseTemplate("{name}.json")
	require.NoError(t, err)
	first := trigger.Blob{
		ContainerPattern: "invoices",
		NamePath:         path,
		Fn:               &function.Definition{Location: "index-invoice"},
	}
	second := trigger.Blob{
		ContainerPattern: "invoices",
		NamePath:         path,
		Fn:               &function.Definition{Location: "archive-invoice"},
	}

	blobs := &fakeBlobClient{blobs: map[string][]storage.BlobInfo{
		"invoices": {{Container: "invoices", Name: "a.json", ETag: "v1"}},
	}}

	var handled []string
	l, err := New(Config{
		Triggers: []trigger.Trigger{first, second},
		Queues:   qc,
		Blobs:    blobs,
		Policy:   queue.NewPolicy(),
		OnQueue: func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
			return true, nil
		},
		OnBlob: func(ctx context.Context, tr trigger.Blob, blob storage.BlobInfo) (bool, error) {
			handled = append(handled, tr.Fn.Location+":"+blob.Name)
			return true, nil
		},
	})
	require.NoError(t, err)

	// Both triggers watch the same container; each gets its own report.
	progress, err := l.Poll(ctx)
	require.NoError(t, err)
	require.True(t, progress)
	require.ElementsMatch(t, []string{
		"index-invoice:a.json",
		"archive-invoice:a.json",
	}, handled)

	// Neither is re-reported while the blob is unchanged.
	progress, err = l.Poll(ctx)
	require.NoError(t, err)
	require.False(t, progress)
	require.Len(t, handled, 2)
}

func TestListener_GlobContainersAreFastPathOnly(t *testing.T) {
	qc := testQueueClient(t)
	ctx := context.Background()

	path, err := bind.ParseTemplate("{name}")
	require.NoError(t, err)
	tr := trigger.Blob{
		ContainerPattern: "in-*",
		NamePath:         path,
		Fn:               &function.Definition{Location: "fn-glob"},
	}

	l, err := New(Config{
		Triggers: []trigger.Trigger{tr},
		Queues:   qc,
		Blobs:    &fakeBlobClient{},
		Policy:   queue.NewPolicy(),
		OnQueue: func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
			return true, nil
		},
		OnBlob: func(ctx context.Context, tr trigger.Blob, blob storage.BlobInfo) (bool, error) {
			t.Fatal("glob container should not be polled")
			return false, nil
		},
	})
	require.NoError(t, err)

	progress, err := l.Poll(ctx)
	require.NoError(t, err)
	require.False(t, progress)
}

func TestListener_MissingCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrMissingCollaborator)

	path, perr := bind.ParseTemplate("{name}")
	require.NoError(t, perr)
	_, err = New(Config{
		Triggers: []trigger.Trigger{trigger.Blob{
			ContainerPattern: "c",
			NamePath:         path,
			Fn:               &function.Definition{Location: "fn-c"},
		}},
		Queues:   testQueueClient(t),
		Policy:   queue.NewPolicy(),
		OnQueue: func(ctx context.Context, tr trigger.Queue, msg *storage.Message) (bool, error) {
			return true, nil
		},
	})
	require.ErrorIs(t, err, ErrMissingCollaborator)
}
