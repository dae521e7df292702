package agent

import "errors"

var (
	// ErrMissingDependency means no model provider could be built
	ErrMissingDependency = errors.New("missing dependency")
	// ErrClientNotStarted is returned for sessions requested from a stopped client
	ErrClientNotStarted = errors.New("agent client not started")
	// ErrSessionBusy is returned when a turn is already running in the session
	ErrSessionBusy = errors.New("session busy")
	// ErrSessionClosed is returned for operations on a destroyed session
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidArgument reports rejected session options
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAgentTimeout is returned when an agent call exceeds its deadline
	ErrAgentTimeout = errors.New("agent timeout")
	// ErrMaxToolTurns is returned when the model keeps calling tools past the turn limit
	ErrMaxToolTurns = errors.New("maximum tool execution turns exceeded")
)
