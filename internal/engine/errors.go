package engine

import (
	"errors"
	"fmt"

	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// Scope is the endpoint that a protocol violation tears down
type Scope uint8

const (
	ScopeLink Scope = iota
	ScopeSession
	ScopeConnection
)

// String returns a string representation of the scope
func (s Scope) String() string {
	switch s {
	case ScopeLink:
		return "link"
	case ScopeSession:
		return "session"
	case ScopeConnection:
		return "connection"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ProtocolViolation is a peer action that breaks the protocol rules.
// Scope names the endpoint that must be closed with Condition.
type ProtocolViolation struct {
	Scope       Scope
	Condition   protocol.ErrCond
	Description string
}

// Error implements the error interface
func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("%s protocol violation %s: %s", e.Scope, e.Condition, e.Description)
}

// AMQPError returns the error composite to send in Detach, End or Close
func (e *ProtocolViolation) AMQPError() *protocol.Error {
	return &protocol.Error{Condition: e.Condition, Description: e.Description}
}

func violation(scope Scope, cond protocol.ErrCond, format string, args ...any) *ProtocolViolation {
	return &ProtocolViolation{Scope: scope, Condition: cond, Description: fmt.Sprintf(format, args...)}
}

// IsViolation reports whether err carries a ProtocolViolation of the scope
func IsViolation(err error, scope Scope) bool {
	var v *ProtocolViolation
	return errors.As(err, &v) && v.Scope == scope
}

// Local errors; these never reach the peer
var (
	ErrInsufficientCredit = errors.New("insufficient link credit")
	ErrWindowClosed       = errors.New("remote incoming window closed")
	ErrAlreadySettled     = errors.New("delivery already settled")
	ErrDuplicateLinkName  = errors.New("link name already attached in session")
	ErrHandlesExhausted   = errors.New("no link handles available")
	ErrUnknownDelivery    = errors.New("unknown delivery id")
	ErrLinkNotAttached    = errors.New("link not attached")
	ErrSessionNotMapped   = errors.New("session not mapped")
)
