// Package notify provides the fast-path channel that proactively
// reports possible new blobs, bypassing generic polling delay. Events
// are best-effort hints: a delivered event need not correspond to a
// registered trigger, and a missed event is eventually covered by the
// generic listener.
package notify

// BlobEvent reports that a blob may have just been written.
type BlobEvent struct {
	Account   string `json:"account"`
	Container string `json:"container"`
	Name      string `json:"name"`
}

// Notifier delivers zero or more possible-new-blob events per drain.
// The events channel closes when the notifier shuts down.
type Notifier interface {
	Events() <-chan BlobEvent
	Close() error
}

// ChannelNotifier is a Notifier fed directly through a channel. Used
// where blob events originate in-process.
type ChannelNotifier struct {
	events chan BlobEvent
}

// NewChannelNotifier creates a notifier with the given buffer size.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	return &ChannelNotifier{events: make(chan BlobEvent, buffer)}
}

// Notify reports one event, dropping it when the buffer is full. Lost
// events are acceptable: the generic path will find the blob.
func (n *ChannelNotifier) Notify(evt BlobEvent) {
	select {
	case n.events <- evt:
	default:
	}
}

// Events returns the event channel.
func (n *ChannelNotifier) Events() <-chan BlobEvent {
	return n.events
}

// Close closes the event channel.
func (n *ChannelNotifier) Close() error {
	close(n.events)
	return nil
}
