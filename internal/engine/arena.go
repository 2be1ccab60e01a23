package engine

import (
	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// Partial is a delivery being reassembled from Transfer frames
type Partial struct {
	ID            uint32
	Tag           []byte
	Format        uint32
	Settled       bool
	RcvSettleMode *protocol.ReceiverSettleMode
	State         protocol.DeliveryState
	Payload       []byte
	Frames        int
}

// Arena reassembles multi-frame deliveries keyed by delivery-tag. At most
// maxInFlight deliveries may be incomplete at once and no delivery may grow
// past maxSize bytes.
type Arena struct {
	partials    map[string]*Partial
	current     string
	hasCurrent  bool
	maxInFlight int
	maxSize     uint64
}

// NewArena creates an arena; a zero maxSize means unlimited
func NewArena(maxInFlight int, maxSize uint64) *Arena {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Arena{
		partials:    make(map[string]*Partial),
		maxInFlight: maxInFlight,
		maxSize:     maxSize,
	}
}

// IsFirst reports whether a transfer starts a new delivery
func (a *Arena) IsFirst(t *protocol.Transfer) bool {
	if !a.hasCurrent {
		return true
	}
	if t.DeliveryTag != nil && string(t.DeliveryTag) != a.current {
		return true
	}
	return false
}

// Add appends one transfer frame and returns the delivery once it is
// complete. An aborted delivery is discarded and returns nil.
func (a *Arena) Add(t *protocol.Transfer, payload []byte) (*Partial, error) {
	key := a.current
	if a.IsFirst(t) {
		key = string(t.DeliveryTag)
	}

	p, ok := a.partials[key]
	if !ok {
		if len(a.partials) >= a.maxInFlight {
			return nil, violation(ScopeLink, protocol.ErrCondResourceLimitExceeded, "more than %d deliveries in flight", a.maxInFlight)
		}
		p = &Partial{Tag: t.DeliveryTag, Format: protocol.MessageFormat}
		if t.DeliveryID != nil {
			p.ID = *t.DeliveryID
		}
		if t.MessageFormat != nil {
			p.Format = *t.MessageFormat
		}
		p.RcvSettleMode = t.ReceiverSettleMode
		a.partials[key] = p
	}
	a.current, a.hasCurrent = key, true

	if t.Aborted {
		a.drop(key)
		return nil, nil
	}

	if a.maxSize > 0 && uint64(len(p.Payload))+uint64(len(payload)) > a.maxSize {
		a.drop(key)
		return nil, violation(ScopeLink, protocol.ErrCondMessageSizeExceeded, "delivery exceeds max-message-size %d", a.maxSize)
	}

	p.Payload = append(p.Payload, payload...)
	p.Frames++
	if t.Settled {
		p.Settled = true
	}
	if t.State != nil {
		p.State = t.State
	}

	if t.More {
		return nil, nil
	}
	a.drop(key)
	return p, nil
}

func (a *Arena) drop(key string) {
	delete(a.partials, key)
	if a.current == key {
		a.current, a.hasCurrent = "", false
	}
}

// Len returns the number of incomplete deliveries
func (a *Arena) Len() int {
	return len(a.partials)
}

// Clear discards every incomplete delivery
func (a *Arena) Clear() {
	clear(a.partials)
	a.current, a.hasCurrent = "", false
}
