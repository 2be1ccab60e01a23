package protocol

import (
	"fmt"
	"time"

	"github.com/israelio/amqp10-go-client/internal/encoding"
)

// Role identifies the link endpoint role; false is sender, true is receiver
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

// String returns a string representation of the role
func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// SenderSettleMode is the settlement policy of a sender
type SenderSettleMode uint8

const (
	SenderSettleModeUnsettled SenderSettleMode = 0
	SenderSettleModeSettled   SenderSettleMode = 1
	SenderSettleModeMixed     SenderSettleMode = 2
)

// String returns a string representation of the mode
func (m SenderSettleMode) String() string {
	switch m {
	case SenderSettleModeUnsettled:
		return "unsettled"
	case SenderSettleModeSettled:
		return "settled"
	case SenderSettleModeMixed:
		return "mixed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ReceiverSettleMode is the settlement policy of a receiver
type ReceiverSettleMode uint8

const (
	ReceiverSettleModeFirst  ReceiverSettleMode = 0
	ReceiverSettleModeSecond ReceiverSettleMode = 1
)

// String returns a string representation of the mode
func (m ReceiverSettleMode) String() string {
	switch m {
	case ReceiverSettleModeFirst:
		return "first"
	case ReceiverSettleModeSecond:
		return "second"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ErrCond is a symbolic error condition
type ErrCond string

// AMQP error conditions
const (
	ErrCondInternalError         ErrCond = "amqp:internal-error"
	ErrCondNotFound              ErrCond = "amqp:not-found"
	ErrCondUnauthorizedAccess    ErrCond = "amqp:unauthorized-access"
	ErrCondDecodeError           ErrCond = "amqp:decode-error"
	ErrCondResourceLimitExceeded ErrCond = "amqp:resource-limit-exceeded"
	ErrCondNotAllowed            ErrCond = "amqp:not-allowed"
	ErrCondInvalidField          ErrCond = "amqp:invalid-field"
	ErrCondNotImplemented        ErrCond = "amqp:not-implemented"
	ErrCondResourceLocked        ErrCond = "amqp:resource-locked"
	ErrCondPreconditionFailed    ErrCond = "amqp:precondition-failed"
	ErrCondResourceDeleted       ErrCond = "amqp:resource-deleted"
	ErrCondIllegalState          ErrCond = "amqp:illegal-state"
	ErrCondFrameSizeTooSmall     ErrCond = "amqp:frame-size-too-small"
)

// Connection error conditions
const (
	ErrCondConnectionForced   ErrCond = "amqp:connection:forced"
	ErrCondFramingError       ErrCond = "amqp:connection:framing-error"
	ErrCondConnectionRedirect ErrCond = "amqp:connection:redirect"
)

// Session error conditions
const (
	ErrCondWindowViolation  ErrCond = "amqp:session:window-violation"
	ErrCondErrantLink       ErrCond = "amqp:session:errant-link"
	ErrCondHandleInUse      ErrCond = "amqp:session:handle-in-use"
	ErrCondUnattachedHandle ErrCond = "amqp:session:unattached-handle"
)

// Link error conditions
const (
	ErrCondDetachForced          ErrCond = "amqp:link:detach-forced"
	ErrCondTransferLimitExceeded ErrCond = "amqp:link:transfer-limit-exceeded"
	ErrCondMessageSizeExceeded   ErrCond = "amqp:link:message-size-exceeded"
	ErrCondLinkRedirect          ErrCond = "amqp:link:redirect"
	ErrCondStolen                ErrCond = "amqp:link:stolen"
)

// Error is the error composite carried by Close, End, Detach and Rejected
type Error struct {
	Condition   ErrCond
	Description string
	Info        map[encoding.Symbol]any
}

// NewError creates an error with a condition and a formatted description
func NewError(cond ErrCond, format string, args ...any) *Error {
	return &Error{Condition: cond, Description: fmt.Sprintf(format, args...)}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("amqp error %s", e.Condition)
	}
	return fmt.Sprintf("amqp error %s: %s", e.Condition, e.Description)
}

// MarshalAMQP encodes the error composite
func (e *Error) MarshalAMQP(enc *encoding.Encoder) error {
	if e == nil {
		enc.WriteNull()
		return nil
	}
	return enc.WriteComposite(DescriptorError,
		encoding.Symbol(e.Condition),
		optString(e.Description),
		optFields(e.Info),
	)
}

func decodeError(v any) (*Error, error) {
	if v == nil {
		return nil, nil
	}
	r, err := encoding.ReadComposite(v, DescriptorError, "error")
	if err != nil {
		return nil, err
	}
	r.Require(0)
	e := &Error{
		Condition:   ErrCond(r.Symbol(0)),
		Description: r.String(1),
		Info:        r.SymbolMap(2),
	}
	return e, r.Err()
}

// optional field helpers; absent values become untyped nil so composites
// can trim trailing fields

func optString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optSymbol(s encoding.Symbol) any {
	if s == "" {
		return nil
	}
	return s
}

func optSymbols(s []encoding.Symbol) any {
	if len(s) == 0 {
		return nil
	}
	return s
}

func optFields(m map[encoding.Symbol]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func optBinary(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func optTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func optUint8(p *uint8) any {
	if p == nil {
		return nil
	}
	return *p
}

func optUint16(p *uint16) any {
	if p == nil {
		return nil
	}
	return *p
}

func optUint32(p *uint32) any {
	if p == nil {
		return nil
	}
	return *p
}

func optUint64(p *uint64) any {
	if p == nil {
		return nil
	}
	return *p
}

func optBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}

// flag encodes a boolean whose default is false
func flag(b bool) any {
	if !b {
		return nil
	}
	return true
}

func optMap(m encoding.Map) any {
	if m == nil {
		return nil
	}
	return m
}
