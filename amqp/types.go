// Package amqp is an AMQP 1.0 client and server. A Conn multiplexes
// Sessions over one transport; each Session carries Senders and Receivers
// that transfer messages with explicit settlement and credit-based flow
// control.
package amqp

import (
	"github.com/israelio/amqp10-go-client/internal/encoding"
	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// Protocol types re-exported for applications
type (
	Symbol  = encoding.Symbol
	Error   = protocol.Error
	ErrCond = protocol.ErrCond

	Message           = protocol.Message
	MessageHeader     = protocol.MessageHeader
	MessageProperties = protocol.MessageProperties

	Source = protocol.Source
	Target = protocol.Target

	DeliveryState = protocol.DeliveryState
	Received      = protocol.Received
	Accepted      = protocol.Accepted
	Rejected      = protocol.Rejected
	Released      = protocol.Released
	Modified      = protocol.Modified

	Role               = protocol.Role
	SenderSettleMode   = protocol.SenderSettleMode
	ReceiverSettleMode = protocol.ReceiverSettleMode
)

const (
	RoleSender   = protocol.RoleSender
	RoleReceiver = protocol.RoleReceiver

	SenderSettleModeUnsettled = protocol.SenderSettleModeUnsettled
	SenderSettleModeSettled   = protocol.SenderSettleModeSettled
	SenderSettleModeMixed     = protocol.SenderSettleModeMixed

	ReceiverSettleModeFirst  = protocol.ReceiverSettleModeFirst
	ReceiverSettleModeSecond = protocol.ReceiverSettleModeSecond
)

// Error conditions most often set by applications
const (
	ErrCondInternalError         = protocol.ErrCondInternalError
	ErrCondNotFound              = protocol.ErrCondNotFound
	ErrCondUnauthorizedAccess    = protocol.ErrCondUnauthorizedAccess
	ErrCondDecodeError           = protocol.ErrCondDecodeError
	ErrCondResourceLimitExceeded = protocol.ErrCondResourceLimitExceeded
	ErrCondNotAllowed            = protocol.ErrCondNotAllowed
	ErrCondInvalidField          = protocol.ErrCondInvalidField
	ErrCondNotImplemented        = protocol.ErrCondNotImplemented
	ErrCondPreconditionFailed    = protocol.ErrCondPreconditionFailed
	ErrCondConnectionForced      = protocol.ErrCondConnectionForced
	ErrCondDetachForced          = protocol.ErrCondDetachForced
	ErrCondMessageSizeExceeded   = protocol.ErrCondMessageSizeExceeded
)

// NewMessage creates a message with a single data section
func NewMessage(data []byte) *Message {
	return protocol.NewMessage(data)
}

// NewError creates an error with a condition and a formatted description
func NewError(cond ErrCond, format string, args ...any) *Error {
	return protocol.NewError(cond, format, args...)
}

// outcomeName labels a delivery state for metrics
func outcomeName(s DeliveryState) string {
	switch s.(type) {
	case nil:
		return "settled"
	case *Accepted:
		return "accepted"
	case *Rejected:
		return "rejected"
	case *Released:
		return "released"
	case *Modified:
		return "modified"
	default:
		return "received"
	}
}

// outcomeError converts a terminal delivery state into a Send result
func outcomeError(s DeliveryState) error {
	switch s.(type) {
	case nil, *Accepted:
		return nil
	default:
		return &OutcomeError{State: s}
	}
}
