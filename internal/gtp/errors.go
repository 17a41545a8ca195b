package gtp

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned when a command is sent before Start or after Stop.
var ErrNotRunning = errors.New("gtp: engine not running")

// ProtocolError is a "?" reply, or a reply the bridge could not frame.
type ProtocolError struct {
	Command string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("gtp: %q failed: %s", e.Command, e.Message)
}

// EngineClosedError means the engine's stdout ended before a reply arrived.
type EngineClosedError struct {
	Command string
	Err     error
}

func (e *EngineClosedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gtp: engine closed during %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("gtp: engine closed during %q", e.Command)
}

func (e *EngineClosedError) Unwrap() error { return e.Err }
