package amqp

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/israelio/amqp10-go-client/internal/engine"
	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// Delivery is a message received on a Receiver. Unless it arrived
// pre-settled it must be settled with Accept, Reject, Release or Modify.
type Delivery struct {
	ID      uint32
	Tag     []byte
	Format  uint32
	Settled bool // settled by the sender
	State   DeliveryState

	link    *link
	mode    ReceiverSettleMode
	payload []byte
	done    atomic.Bool

	decode sync.Once
	msg    *Message
	msgErr error
}

func newDelivery(l *link, p *engine.Partial) *Delivery {
	d := &Delivery{
		ID:      p.ID,
		Tag:     p.Tag,
		Format:  p.Format,
		Settled: p.Settled,
		State:   p.State,
		link:    l,
		mode:    l.engine.ReceiverSettleMode,
		payload: p.Payload,
	}
	if p.RcvSettleMode != nil {
		d.mode = *p.RcvSettleMode
	}
	return d
}

// Payload returns the raw encoded message
func (d *Delivery) Payload() []byte {
	return d.payload
}

// Message decodes the payload, once
func (d *Delivery) Message() (*Message, error) {
	d.decode.Do(func() {
		d.msg, d.msgErr = protocol.UnmarshalMessage(d.payload)
	})
	return d.msg, d.msgErr
}

// Data returns the first data section of the message, or nil
func (d *Delivery) Data() []byte {
	m, err := d.Message()
	if err != nil {
		return nil
	}
	return m.GetData()
}

// Accept settles the delivery as accepted
func (d *Delivery) Accept(ctx context.Context) error {
	return d.settle(ctx, &Accepted{})
}

// Reject settles the delivery as rejected with an optional error
func (d *Delivery) Reject(ctx context.Context, e *Error) error {
	return d.settle(ctx, &Rejected{Error: e})
}

// Release settles the delivery as released so it may be redelivered
func (d *Delivery) Release(ctx context.Context) error {
	return d.settle(ctx, &Released{})
}

// Modify settles the delivery as modified
func (d *Delivery) Modify(ctx context.Context, deliveryFailed, undeliverableHere bool, annotations map[Symbol]any) error {
	return d.settle(ctx, &Modified{
		DeliveryFailed:     deliveryFailed,
		UndeliverableHere:  undeliverableHere,
		MessageAnnotations: annotations,
	})
}

// settle sends the outcome. In receiver-settle-mode first the delivery is
// settled at once; in mode second it waits for the sender to settle.
// Settling a pre-settled delivery is a no-op.
func (d *Delivery) settle(ctx context.Context, state DeliveryState) error {
	if d.Settled {
		return nil
	}
	if !d.done.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}

	l := d.link
	s := l.session
	w := make(chan error, 1)
	err := s.call(ctx, func() error {
		if l.terminated {
			return l.err
		}
		if _, ok := l.engine.Unsettled.Get(d.ID); !ok {
			return ErrAlreadySettled
		}

		if d.mode == ReceiverSettleModeSecond {
			l.settleWaiters[d.ID] = w
			return s.send(s.engine.Disposition(l.engine, d.ID, false, state))
		}

		if err := s.engine.Settle(l.engine, d.ID); err != nil {
			return err
		}
		s.conn.metrics.MessageSettled(outcomeName(state))
		w <- nil
		return s.send(s.engine.Disposition(l.engine, d.ID, true, state))
	})
	if err != nil {
		return err
	}

	select {
	case err := <-w:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
