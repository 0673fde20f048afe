// Package storage defines the queue and blob client primitives the
// listener polls, plus the SQLite queue client and S3 blob client used
// by the host.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMessageNotFound is returned when a message id does not exist
	// or is no longer owned by the caller.
	ErrMessageNotFound = errors.New("message not found")
	// ErrBlobNotFound is returned when a blob does not exist.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrInvalidConfig is returned for unusable client configuration.
	ErrInvalidConfig = errors.New("invalid storage configuration")
)

// MetadataParentKey is the metadata key carrying the id of the
// invocation that produced a message or blob. Written by the execution
// engine, read here for provenance.
const MetadataParentKey = "parent"

// Message is one dequeued queue message.
type Message struct {
	ID           string
	Queue        string
	Body         []byte
	DequeueCount int
	Metadata     map[string]string
	InsertedAt   time.Time
}

// BlobInfo describes one blob.
type BlobInfo struct {
	Container string
	Name      string
	ETag      string
	Metadata  map[string]string
	UpdatedAt time.Time
}

// Path returns the container-qualified blob path.
func (b BlobInfo) Path() string {
	return b.Container + "/" + b.Name
}

// Stamp is a change marker for one blob, used to detect new or updated
// blobs between polling passes.
func (b BlobInfo) Stamp() string {
	if b.ETag != "" {
		return b.ETag
	}
	return b.UpdatedAt.Format(time.RFC3339Nano)
}

// QueueClient is the message store primitive polled by the listener.
// Retrieved messages are invisible to other consumers for the given
// visibility duration; a message not deleted before it elapses becomes
// retrievable again with an incremented dequeue count.
type QueueClient interface {
	GetMessages(ctx context.Context, queue string, count int, visibility time.Duration) ([]*Message, error)
	DeleteMessage(ctx context.Context, queue, id string) error
	UpdateVisibility(ctx context.Context, queue, id string, visibility time.Duration) error
	AddMessage(ctx context.Context, queue string, body []byte, metadata map[string]string) error
}

// BlobClient is the blob store primitive polled by the listener.
type BlobClient interface {
	Exists(ctx context.Context, container, name string) (bool, error)
	List(ctx context.Context, container, prefix string) ([]BlobInfo, error)
	Metadata(ctx context.Context, container, name string) (map[string]string, error)
}
