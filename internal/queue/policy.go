// Package queue holds the validated configuration that governs how
// aggressively queue triggers are polled and when messages are routed
// to a poison queue.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// MaxBatchSize is the hard ceiling on messages fetched per round,
	// imposed by the external store.
	MaxBatchSize = 32

	// MinPollingInterval is the floor for empty-queue backoff.
	MinPollingInterval = 2 * time.Second

	// DefaultMaxDequeueCount is the number of dequeue attempts before a
	// message is shunted to its poison queue.
	DefaultMaxDequeueCount = 5

	// PoisonSuffix is appended to a queue's name to form its poison
	// queue name.
	PoisonSuffix = "-poison"

	// maxQueueNameLength mirrors the external store's queue name limit.
	maxQueueNameLength = 63
)

var (
	ErrBatchSizeRange      = errors.New("batch size must be between 1 and 32")
	ErrThresholdRange      = errors.New("new batch threshold must be positive")
	ErrDequeueCountRange   = errors.New("max dequeue count must be at least 1")
	ErrPollingIntervalLow  = errors.New("max polling interval below minimum")
	ErrNegativeVisibility  = errors.New("visibility timeout must be non-negative")
	ErrNegativeDeleteRetry = errors.New("delete retry count must be non-negative")
)

// Policy governs the generic listener's queue processing. The zero
// value is not usable; construct with NewPolicy and adjust through the
// setters, each of which validates its input and never falls back to a
// default on invalid values.
type Policy struct {
	batchSize          int
	newBatchThreshold  int // -1 means unset, derive from batch size
	maxPollingInterval time.Duration
	maxDequeueCount    int
	visibilityTimeout  time.Duration
	deleteRetryCount   int
}

// NewPolicy returns a policy with the default settings: batch size 8,
// derived new-batch threshold, 30s max polling interval, 5 dequeue
// attempts, zero visibility timeout and no delete retries.
func NewPolicy() *Policy {
	return &Policy{
		batchSize:          8,
		newBatchThreshold:  -1,
		maxPollingInterval: 30 * time.Second,
		maxDequeueCount:    DefaultMaxDequeueCount,
		visibilityTimeout:  0,
		deleteRetryCount:   0,
	}
}

// SetBatchSize sets how many messages are fetched per round.
func (p *Policy) SetBatchSize(n int) error {
	if n < 1 || n > MaxBatchSize {
		return fmt.Errorf("%w: got %d", ErrBatchSizeRange, n)
	}
	p.batchSize = n
	return nil
}

// BatchSize reports the number of messages fetched per round.
func (p *Policy) BatchSize() int {
	return p.batchSize
}

// SetNewBatchThreshold sets how few messages may remain in the current
// batch before a new one is fetched.
func (p *Policy) SetNewBatchThreshold(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: got %d", ErrThresholdRange, n)
	}
	p.newBatchThreshold = n
	return nil
}

// NewBatchThreshold reports the configured threshold, or half the batch
// size when unset.
func (p *Policy) NewBatchThreshold() int {
	if p.newBatchThreshold < 0 {
		return p.batchSize / 2
	}
	return p.newBatchThreshold
}

// SetMaxPollingInterval bounds the empty-queue backoff from above. The
// interval may never drop below MinPollingInterval.
func (p *Policy) SetMaxPollingInterval(d time.Duration) error {
	if d < MinPollingInterval {
		return fmt.Errorf("%w: got %s, minimum %s", ErrPollingIntervalLow, d, MinPollingInterval)
	}
	p.maxPollingInterval = d
	return nil
}

// MaxPollingInterval reports the upper bound for empty-queue backoff.
func (p *Policy) MaxPollingInterval() time.Duration {
	return p.maxPollingInterval
}

// SetMaxDequeueCount sets how many dequeue attempts a message gets
// before it is moved to the poison queue.
func (p *Policy) SetMaxDequeueCount(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrDequeueCountRange, n)
	}
	p.maxDequeueCount = n
	return nil
}

// MaxDequeueCount reports the poison-queue dequeue limit.
func (p *Policy) MaxDequeueCount() int {
	return p.maxDequeueCount
}

// SetVisibilityTimeout sets how long a message stays invisible after a
// failed processing attempt. Zero means immediately retriable.
func (p *Policy) SetVisibilityTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: got %s", ErrNegativeVisibility, d)
	}
	p.visibilityTimeout = d
	return nil
}

// VisibilityTimeout reports the post-failure invisibility duration.
func (p *Policy) VisibilityTimeout() time.Duration {
	return p.visibilityTimeout
}

// SetDeleteRetryCount sets how many times a failed delete is retried.
func (p *Policy) SetDeleteRetryCount(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeDeleteRetry, n)
	}
	p.deleteRetryCount = n
	return nil
}

// DeleteRetryCount reports the delete retry count.
func (p *Policy) DeleteRetryCount() int {
	return p.deleteRetryCount
}

// PoisonQueueName derives the poison queue name for queue. It reports
// false when the queue must not be poison-routed: the queue is itself a
// poison queue, or its name cannot carry the suffix within the store's
// name length limit.
func PoisonQueueName(queue string) (string, bool) {
	if strings.HasSuffix(queue, PoisonSuffix) {
		return "", false
	}
	name := queue + PoisonSuffix
	if len(name) > maxQueueNameLength {
		return "", false
	}
	return name, true
}
