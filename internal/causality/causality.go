// Package causality reads the parent-invocation id embedded in a queue
// message's or blob's metadata. The id is written by the execution
// engine when it produces a message or blob; here it is only read, to
// record which invocation caused the one being dispatched.
package causality

import "github.com/ignishq/ignis/internal/storage"

// FromMessage returns the id of the invocation that produced msg, or
// "" when none is recorded.
func FromMessage(msg *storage.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Metadata[storage.MetadataParentKey]
}

// FromBlobMetadata returns the id of the invocation that produced the
// blob with the given metadata, or "" when none is recorded.
func FromBlobMetadata(metadata map[string]string) string {
	return metadata[storage.MetadataParentKey]
}
