package amqp

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/israelio/amqp10-go-client/internal/encoding"
	"github.com/israelio/amqp10-go-client/internal/engine"
	"github.com/israelio/amqp10-go-client/internal/frame"
	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// Error kinds surfaced by the client
type (
	// DecodeError reports a malformed encoded value
	DecodeError = encoding.DecodeError
	// FramingError reports a frame that breaks the framing rules
	FramingError = frame.FramingError
	// ProtocolViolation reports a peer action that breaks the protocol;
	// its Scope names the endpoint that was torn down
	ProtocolViolation = engine.ProtocolViolation
)

// Scope names the endpoint an error applies to
type Scope = engine.Scope

const (
	ScopeLink       = engine.ScopeLink
	ScopeSession    = engine.ScopeSession
	ScopeConnection = engine.ScopeConnection
)

// RemoteClosedError reports that the peer closed an endpoint. Err is the
// error the peer sent, nil for a clean close.
type RemoteClosedError struct {
	Scope Scope
	Err   *Error
}

// Error implements the error interface
func (e *RemoteClosedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s closed by peer", e.Scope)
	}
	return fmt.Sprintf("%s closed by peer: %v", e.Scope, e.Err)
}

// Unwrap returns the peer's error, if any
func (e *RemoteClosedError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// OutcomeError reports a send that the peer settled with an outcome other
// than accepted
type OutcomeError struct {
	State DeliveryState
}

// Error implements the error interface
func (e *OutcomeError) Error() string {
	switch s := e.State.(type) {
	case *Rejected:
		if s.Error != nil {
			return "message rejected: " + s.Error.Error()
		}
		return "message rejected"
	case *Released:
		return "message released"
	case *Modified:
		return fmt.Sprintf("message modified (delivery-failed=%v, undeliverable-here=%v)", s.DeliveryFailed, s.UndeliverableHere)
	default:
		return fmt.Sprintf("message settled with state %T", e.State)
	}
}

// SASLError reports a failed SASL exchange
type SASLError struct {
	Code protocol.SASLCode
}

// Error implements the error interface
func (e *SASLError) Error() string {
	return fmt.Sprintf("sasl authentication failed: %s", e.Code)
}

// Predefined errors
var (
	// ErrTimeout is wrapped by idle timeouts
	ErrTimeout = errors.New("amqp: timeout")

	ErrInsufficientCredit = engine.ErrInsufficientCredit
	ErrAlreadySettled     = engine.ErrAlreadySettled

	ErrConnClosed       = errors.New("amqp: connection closed")
	ErrSessionClosed    = errors.New("amqp: session closed")
	ErrLinkClosed       = errors.New("amqp: link closed")
	ErrCapacityExceeded = errors.New("amqp: credit would exceed receiver capacity")
	ErrMessageTooLarge  = errors.New("amqp: message exceeds peer max-message-size")

	ErrInvalidDeliveryTag   = errors.New("amqp: invalid delivery tag")
	ErrDuplicateDeliveryTag = errors.New("amqp: delivery tag in use by an unsettled delivery")
)

// graceful reports whether a terminal error is a clean close
func graceful(err error) bool {
	if errors.Is(err, ErrConnClosed) || errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrLinkClosed) {
		return true
	}
	var rc *RemoteClosedError
	return errors.As(err, &rc) && rc.Err == nil
}

// amqpError maps a local failure to the error sent in Close, End or Detach
func amqpError(err error) *Error {
	var (
		v  *ProtocolViolation
		fe *FramingError
		de *DecodeError
	)
	switch {
	case errors.As(err, &v):
		return v.AMQPError()
	case errors.As(err, &fe):
		return protocol.NewError(protocol.ErrCondFramingError, "%s", fe.Reason)
	case errors.As(err, &de):
		return protocol.NewError(protocol.ErrCondDecodeError, "%s", de.Error())
	case errors.Is(err, ErrTimeout):
		return protocol.NewError(protocol.ErrCondResourceLimitExceeded, "%s", err.Error())
	default:
		return protocol.NewError(protocol.ErrCondInternalError, "%s", err.Error())
	}
}

func newViolation(scope Scope, cond ErrCond, format string, args ...any) *ProtocolViolation {
	return &ProtocolViolation{Scope: scope, Condition: cond, Description: fmt.Sprintf(format, args...)}
}

// ErrorHandler handles terminal errors of connections, sessions and links
type ErrorHandler interface {
	HandleConnectionError(conn *Conn, err error)
	HandleSessionError(s *Session, err error)
	HandleLinkError(name string, err error)
}

// DefaultErrorHandler provides default error handling with logging
type DefaultErrorHandler struct {
	Logger *zap.Logger
}

// HandleConnectionError logs connection errors
func (deh *DefaultErrorHandler) HandleConnectionError(conn *Conn, err error) {
	if deh.Logger != nil {
		deh.Logger.Warn("connection error", zap.String("container", conn.ContainerID()), zap.Error(err))
	}
}

// HandleSessionError logs session errors
func (deh *DefaultErrorHandler) HandleSessionError(s *Session, err error) {
	if deh.Logger != nil {
		deh.Logger.Warn("session error", zap.Uint16("channel", s.Channel()), zap.Error(err))
	}
}

// HandleLinkError logs link errors
func (deh *DefaultErrorHandler) HandleLinkError(name string, err error) {
	if deh.Logger != nil {
		deh.Logger.Warn("link error", zap.String("link", name), zap.Error(err))
	}
}
