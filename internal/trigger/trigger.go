// Package trigger builds the read-only registry mapping function
// locations to their trigger descriptors.
package trigger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/ignishq/ignis/internal/bind"
	"github.com/ignishq/ignis/internal/function"
)

// DashboardLocation is the reserved registry key for the dashboard
// (explicit invoke) trigger, so out-of-band invocations share the same
// listener machinery as function triggers.
const DashboardLocation = ""

var (
	ErrBadBlobPath = errors.New("blob path must be container/name")
)

// Trigger is a declarative binding of a function to an event source.
// The variant set is closed: Queue or Blob.
type Trigger interface {
	isTrigger()
}

// Queue triggers on messages arriving in QueueName. Fn is nil for the
// dashboard queue, whose messages are commands rather than function
// payloads.
type Queue struct {
	QueueName string
	Fn        *function.Definition
	Filter    *Filter
}

func (Queue) isTrigger() {}

// Blob triggers on blobs whose container matches ContainerPattern and
// whose name matches NamePath.
type Blob struct {
	ContainerPattern string
	NamePath         *bind.Template
	Fn               *function.Definition
	Filter           *Filter

	containerGlob glob.Glob
}

func (Blob) isTrigger() {}

// MatchesContainer reports whether the trigger's container pattern
// matches container.
func (b Blob) MatchesContainer(container string) bool {
	return b.containerGlob.Match(container)
}

// Map is the trigger registry: location id to trigger descriptors.
// Built once at startup, read-only thereafter.
type Map struct {
	byLocation map[string][]Trigger
	order      []Trigger
}

// BuildMap derives the trigger registry from the full set of function
// definitions. Each definition contributes at most one trigger; a
// definition with no queue or blob input contributes none. When
// dashboardQueue is non-empty, a function-less queue trigger for it is
// registered under the reserved empty location.
func BuildMap(defs []*function.Definition, dashboardQueue string) (*Map, error) {
	m := &Map{byLocation: make(map[string][]Trigger)}

	for _, def := range defs {
		tr, err := triggerFor(def)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", def.Location, err)
		}
		if tr == nil {
			continue
		}
		m.register(def.Location, tr)
	}

	if dashboardQueue != "" {
		m.register(DashboardLocation, Queue{QueueName: dashboardQueue})
	}

	return m, nil
}

func triggerFor(def *function.Definition) (Trigger, error) {
	filter, err := CompileFilter(def.Filter)
	if err != nil {
		return nil, err
	}

	if qi, ok := def.QueueTriggerBinding(); ok {
		return Queue{QueueName: qi.Queue, Fn: def, Filter: filter}, nil
	}

	if bi, ok := def.BlobTriggerBinding(); ok {
		return blobTrigger(bi, def, filter)
	}

	return nil, nil
}

func blobTrigger(bi bind.BlobInput, def *function.Definition, filter *Filter) (Trigger, error) {
	raw := bi.Path.String()
	slash := strings.IndexByte(raw, '/')
	if slash <= 0 || slash == len(raw)-1 {
		return nil, fmt.Errorf("%w: %q", ErrBadBlobPath, raw)
	}

	container := raw[:slash]
	if strings.ContainsAny(container, "{}") {
		return nil, fmt.Errorf("%w: container segment must be literal in %q", ErrBadBlobPath, raw)
	}

	containerGlob, err := glob.Compile(container)
	if err != nil {
		return nil, fmt.Errorf("compiling container pattern %q: %w", container, err)
	}

	namePath, err := bind.ParseTemplate(raw[slash+1:])
	if err != nil {
		return nil, err
	}

	return Blob{
		ContainerPattern: container,
		NamePath:         namePath,
		Fn:               def,
		Filter:           filter,
		containerGlob:    containerGlob,
	}, nil
}

func (m *Map) register(location string, tr Trigger) {
	m.byLocation[location] = append(m.byLocation[location], tr)
	m.order = append(m.order, tr)
}

// Triggers returns every registered trigger in registration order,
// the dashboard trigger last.
func (m *Map) Triggers() []Trigger {
	return m.order
}

// Lookup returns the triggers registered for location, or nil when
// the location has none.
func (m *Map) Lookup(location string) []Trigger {
	return m.byLocation[location]
}

// BlobMatch pairs a matched blob trigger with the values its name
// template extracted.
type BlobMatch struct {
	Trigger Blob
	Values  map[string]string
}

// MatchBlob returns every blob trigger matching the given container
// and blob name, with extracted template values. An empty result is
// not an error: blob notifications are best-effort hints.
func (m *Map) MatchBlob(container, name string) []BlobMatch {
	var matches []BlobMatch
	for _, tr := range m.order {
		b, ok := tr.(Blob)
		if !ok {
			continue
		}
		if !b.MatchesContainer(container) {
			continue
		}
		values, ok := b.NamePath.Match(name)
		if !ok {
			continue
		}
		matches = append(matches, BlobMatch{Trigger: b, Values: values})
	}
	return matches
}
