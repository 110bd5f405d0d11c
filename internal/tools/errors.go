package tools

import (
	"errors"
	"fmt"
)

// ErrMissingName is returned by [Registry.Dispatch] for a tool call
// that names no tool.
var ErrMissingName = errors.New("tool call has no name")

// UnknownToolError is returned by [Registry.Dispatch] when the model
// calls a tool that was never declared.
type UnknownToolError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("model called undeclared tool %q", e.Name)
}
