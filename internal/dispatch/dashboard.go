package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrUnsupportedCommand signals a dashboard message whose command
	// kind this host does not implement. A protocol mismatch, never
	// silently swallowed.
	ErrUnsupportedCommand = errors.New("unsupported dashboard command")

	// ErrMalformedCommand signals a dashboard message that is not a
	// tagged command envelope at all.
	ErrMalformedCommand = errors.New("malformed dashboard command")
)

// commandTypeInvoke is the only command kind the dispatcher accepts.
const commandTypeInvoke = "invoke"

// Command is a parsed dashboard command. The variant set is closed.
type Command interface {
	isCommand()
}

// InvokeCommand asks the host to invoke a function with caller-supplied
// argument overrides.
type InvokeCommand struct {
	// ID is the caller-assigned invocation id.
	ID string `json:"id"`
	// Function is the target function's location id.
	Function string `json:"function"`
	// Reason is the caller's description of why the invocation was
	// requested.
	Reason string `json:"reason"`
	// Arguments maps parameter names to override values.
	Arguments map[string]string `json:"arguments"`
}

func (InvokeCommand) isCommand() {}

// ParseCommand decodes a dashboard envelope. The cheap type-tag peek
// happens before any full decode so unknown kinds are rejected without
// caring about the rest of the payload.
func ParseCommand(raw []byte) (Command, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedCommand)
	}

	tag := gjson.GetBytes(raw, "type")
	if !tag.Exists() {
		return nil, fmt.Errorf("%w: missing type tag", ErrMalformedCommand)
	}

	switch tag.String() {
	case commandTypeInvoke:
		var cmd InvokeCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
		if cmd.Function == "" {
			return nil, fmt.Errorf("%w: invoke command names no function", ErrMalformedCommand)
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCommand, tag.String())
	}
}
