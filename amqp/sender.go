package amqp

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/israelio/amqp10-go-client/internal/frame"
	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// Sender sends messages on a link
type Sender struct {
	*link
}

// sendRequest is one queued message; done receives its result exactly once
type sendRequest struct {
	ctx       context.Context
	payload   []byte
	tag       []byte // nil selects a generated tag
	settled   bool
	done      chan error
	completed bool
}

func (r *sendRequest) complete(err error) {
	if r.completed {
		return
	}
	r.completed = true
	r.done <- err
}

// outgoing tracks the delivery currently being fragmented
type outgoing struct {
	req    *sendRequest
	id     uint32
	tag    []byte
	offset int
	first  bool
}

// Send transfers a message and waits for it to be settled. Unsettled
// deliveries return nil when accepted and an *OutcomeError otherwise;
// pre-settled deliveries return once written.
func (s *Sender) Send(ctx context.Context, msg *Message) error {
	return s.send(ctx, msg, nil, false, false)
}

// SendWithTag is Send with a caller-chosen delivery tag of at most 32
// bytes. The tag must not belong to another unsettled delivery of the link;
// an empty tag selects a generated one.
func (s *Sender) SendWithTag(ctx context.Context, msg *Message, tag []byte) error {
	return s.send(ctx, msg, tag, false, false)
}

// SendSettled transfers a message pre-settled on a mixed-mode link
func (s *Sender) SendSettled(ctx context.Context, msg *Message) error {
	return s.send(ctx, msg, nil, true, false)
}

// TrySend is Send without waiting for credit: it returns
// ErrInsufficientCredit when the queued messages already use all credit
func (s *Sender) TrySend(ctx context.Context, msg *Message) error {
	return s.send(ctx, msg, nil, false, true)
}

func (s *Sender) send(ctx context.Context, msg *Message, tag []byte, settled, try bool) error {
	if len(tag) > protocol.MaxDeliveryTagSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrInvalidDeliveryTag, len(tag), protocol.MaxDeliveryTagSize)
	}
	if len(tag) == 0 {
		tag = nil
	} else {
		tag = bytes.Clone(tag)
	}

	payload, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	r := &sendRequest{ctx: ctx, payload: payload, tag: tag, settled: settled, done: make(chan error, 1)}

	sess := s.session
	err = sess.call(ctx, func() error {
		if s.terminated {
			return s.err
		}
		if s.closing {
			return ErrLinkClosed
		}
		el := s.engine
		switch el.SenderSettleMode {
		case SenderSettleModeSettled:
			r.settled = true
		case SenderSettleModeUnsettled:
			r.settled = false
		}
		if limit := el.RemoteMaxMessageSize; limit > 0 && uint64(len(payload)) > limit {
			return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(payload), limit)
		}
		if try && uint32(len(s.pending)) >= el.Credit {
			return ErrInsufficientCredit
		}
		if tag != nil && s.tagInUse(tag) {
			return fmt.Errorf("%w: %x", ErrDuplicateDeliveryTag, tag)
		}
		s.pending = append(s.pending, r)
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		// a delivery already on the wire is not retracted
		return ctx.Err()
	}
}

// tagInUse reports whether a queued or unsettled delivery carries tag
func (l *link) tagInUse(tag []byte) bool {
	if l.engine.Unsettled.HasTag(tag) {
		return true
	}
	if l.current != nil && bytes.Equal(l.current.tag, tag) {
		return true
	}
	for _, r := range l.pending {
		if bytes.Equal(r.tag, tag) {
			return true
		}
	}
	return false
}

// Credit returns the link credit last granted by the receiver
func (s *Sender) Credit() uint32 {
	return s.credit.Load()
}

// Unsettled returns the number of deliveries awaiting the receiver's outcome
func (s *Sender) Unsettled() int {
	return int(s.unsettled.Load())
}

// pumpSender writes queued deliveries and answers a drain request once the
// queue is empty
func (s *Session) pumpSender(l *link) {
	for l.current != nil || s.startNext(l) {
		if !s.sendFragments(l) {
			break
		}
	}

	el := l.engine
	if el.Drain && l.current == nil && len(l.pending) == 0 && el.DrainCredit() {
		_ = s.send(s.engine.LinkFlow(el, false))
	}
	l.credit.Store(el.Credit)
}

// startNext allocates the next queued delivery. Requests cancelled while
// queued are dropped without consuming credit or a delivery-id.
func (s *Session) startNext(l *link) bool {
	for len(l.pending) > 0 {
		r := l.pending[0]
		if err := r.ctx.Err(); err != nil {
			l.pending[0] = nil
			l.pending = l.pending[1:]
			r.complete(err)
			continue
		}
		if l.engine.Credit == 0 || !s.engine.CanSendTransfer() {
			return false
		}

		tag := r.tag
		if tag == nil {
			tag = l.engine.NextDeliveryTag()
		} else if l.engine.Unsettled.HasTag(tag) {
			// a generated tag took it after the request was queued
			l.pending[0] = nil
			l.pending = l.pending[1:]
			r.complete(fmt.Errorf("%w: %x", ErrDuplicateDeliveryTag, tag))
			continue
		}
		id, err := s.engine.StartDelivery(l.engine, tag, r.settled)
		if err != nil {
			l.logger.Debug("delivery not started", zap.Error(err))
			return false
		}
		l.pending[0] = nil
		l.pending = l.pending[1:]
		l.current = &outgoing{req: r, id: id, tag: tag, first: true}
		if !r.settled {
			l.outcomes[id] = r
			l.unsettled.Add(1)
		}
		return true
	}
	return false
}

// sendFragments writes transfer frames for the current delivery while the
// peer's incoming window allows. It reports whether the delivery finished.
func (s *Session) sendFragments(l *link) bool {
	cur := l.current
	for {
		if !s.engine.CanSendTransfer() {
			return false
		}

		t := &protocol.Transfer{Handle: l.engine.Handle, More: true}
		if cur.first {
			id, format := cur.id, protocol.MessageFormat
			t.DeliveryID = &id
			t.DeliveryTag = cur.tag
			t.MessageFormat = &format
			t.Settled = cur.req.settled
		}
		overhead, err := frame.Overhead(s.channel, t)
		if err != nil {
			s.fail(l, err)
			return false
		}

		chunk := cur.req.payload[cur.offset:]
		if room := int(s.conn.writer.MaxFrameSize()) - overhead; len(chunk) > room {
			chunk = chunk[:room]
		} else {
			t.More = false
		}

		if err := s.engine.TransferFrameSent(); err != nil {
			return false
		}
		if err := s.conn.sendFrame(frame.NewTransferFrame(s.channel, t, chunk)); err != nil {
			return false
		}
		cur.first = false
		cur.offset += len(chunk)

		if !t.More {
			l.current = nil
			s.conn.metrics.MessageSent(len(cur.req.payload))
			if cur.req.settled {
				s.conn.metrics.MessageSettled(outcomeName(nil))
				cur.req.complete(nil)
			}
			return true
		}
	}
}
