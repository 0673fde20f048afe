package bind

import (
	"errors"
	"sort"
	"strings"

	"github.com/ignishq/ignis/internal/storage"
)

var (
	errNoQueueMessage = errors.New("no queue message in binding context")
	errNoBlob         = errors.New("no blob in binding context")
)

// RuntimeInputs is the per-attempt context a set of static bindings is
// evaluated against. Named maps parameter names to values extracted
// from the event or supplied as overrides; a present key with a nil
// value is an explicit null and binds as missing.
type RuntimeInputs struct {
	Location string
	Named    map[string]*string
	Message  *storage.Message
	Blob     *storage.BlobInfo
}

// RuntimeBinding is the outcome for one parameter: either a bound
// value (possibly missing) or a failure carrying the error text.
type RuntimeBinding struct {
	name    string
	value   *string
	errText string
	failed  bool
}

// Bound constructs a successful binding. A nil value is a legal
// missing value.
func Bound(name string, value *string) RuntimeBinding {
	return RuntimeBinding{name: name, value: value}
}

// Failed constructs a failed binding preserving the error text
// verbatim.
func Failed(name string, err error) RuntimeBinding {
	return RuntimeBinding{name: name, errText: err.Error(), failed: true}
}

// Name is the parameter name this binding belongs to.
func (b RuntimeBinding) Name() string { return b.name }

// Value returns the bound value. It reports false for failed bindings.
func (b RuntimeBinding) Value() (*string, bool) {
	if b.failed {
		return nil, false
	}
	return b.value, true
}

// Failure returns the captured error text. It reports false for
// successful bindings.
func (b RuntimeBinding) Failure() (string, bool) {
	if !b.failed {
		return "", false
	}
	return b.errText, true
}

// Result is the outcome of binding a full parameter flow. Bindings
// always has exactly one entry per static binding, in declaration
// order.
type Result struct {
	Bindings   []RuntimeBinding
	ArgSummary string
}

// Run binds every parameter in flow against in, independently and in
// declaration order. A failure computing one binding is captured in
// its slot and never aborts the remaining parameters.
func Run(flow []StaticBinding, in RuntimeInputs) Result {
	bindings := make([]RuntimeBinding, 0, len(flow))
	for _, sb := range flow {
		bindings = append(bindings, bindOne(sb, in))
	}

	return Result{
		Bindings:   bindings,
		ArgSummary: summarize(in.Named),
	}
}

func bindOne(sb StaticBinding, in RuntimeInputs) RuntimeBinding {
	name := sb.ParameterName()

	switch b := sb.(type) {
	case QueueInput:
		if v, ok := in.Named[name]; ok && v != nil {
			return Bound(name, v)
		}
		if in.Message == nil {
			return Failed(name, errNoQueueMessage)
		}
		body := string(in.Message.Body)
		return Bound(name, &body)

	case BlobInput:
		if v, ok := in.Named[name]; ok && v != nil {
			return Bound(name, v)
		}
		if in.Blob == nil {
			return Failed(name, errNoBlob)
		}
		path := in.Blob.Path()
		return Bound(name, &path)

	case BlobOutput:
		path, err := b.Path.Expand(in.Named)
		if err != nil {
			return Failed(name, err)
		}
		return Bound(name, &path)

	case Value:
		v, ok := in.Named[name]
		if !ok || v == nil {
			// Absent and explicit null both bind as missing.
			return Bound(name, nil)
		}
		return Bound(name, v)

	default:
		return Failed(name, errors.New("unrecognized static binding kind"))
	}
}

// summarize joins the supplied named values into a display string for
// diagnostics. Empty when no named values were supplied.
func summarize(named map[string]*string) string {
	if len(named) == 0 {
		return ""
	}

	keys := make([]string, 0, len(named))
	for k := range named {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := named[k]; v != nil {
			parts = append(parts, k+"="+*v)
		} else {
			parts = append(parts, k+"=null")
		}
	}
	return strings.Join(parts, ", ")
}
