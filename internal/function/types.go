// Package function holds function metadata: what a function is called,
// how its parameters bind, and which event source triggers it.
package function

import (
	"github.com/ignishq/ignis/internal/bind"
)

// Definition is one function's metadata: its location id, its ordered
// parameter flow and an optional trigger filter expression. Immutable
// after load.
type Definition struct {
	// Location uniquely identifies the function within the host.
	Location string

	// Flow is the ordered list of static parameter bindings.
	Flow []bind.StaticBinding

	// Filter is an optional CEL expression evaluated against the
	// extracted event values before dispatch. Empty means no filter.
	Filter string
}

// QueueTriggerBinding returns the definition's queue-input binding, if
// it has one. At most the first queue input acts as the trigger.
func (d *Definition) QueueTriggerBinding() (bind.QueueInput, bool) {
	for _, sb := range d.Flow {
		if qi, ok := sb.(bind.QueueInput); ok {
			return qi, true
		}
	}
	return bind.QueueInput{}, false
}

// BlobTriggerBinding returns the definition's first blob-input
// binding, if it has one.
func (d *Definition) BlobTriggerBinding() (bind.BlobInput, bool) {
	for _, sb := range d.Flow {
		if bi, ok := sb.(bind.BlobInput); ok {
			return bi, true
		}
	}
	return bind.BlobInput{}, false
}
