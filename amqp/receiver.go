package amqp

import (
	"context"
	"errors"
	"fmt"
)

// Receiver receives messages on a link. Unless created WithManualCredit it
// keeps credit topped up to its capacity as deliveries are consumed.
type Receiver struct {
	*link
}

// Receive returns the next delivery, waiting for one if none is buffered.
// Buffered deliveries are still returned after the link detaches.
func (r *Receiver) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case d := <-r.deliveries:
		r.replenish()
		return d, nil
	default:
	}

	select {
	case d := <-r.deliveries:
		r.replenish()
		return d, nil
	case <-r.detached:
		select {
		case d := <-r.deliveries:
			return d, nil
		default:
		}
		return nil, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// replenish lets the mux top up credit after the buffer drained
func (r *Receiver) replenish() {
	if r.opts.manualCredit {
		return
	}
	r.session.post(func() { r.session.topUp(r.link) })
}

// IssueCredit grants n more credit. Credit plus buffered deliveries may not
// exceed the receiver's capacity.
func (r *Receiver) IssueCredit(ctx context.Context, n uint32) error {
	s := r.session
	return s.call(ctx, func() error {
		if r.terminated {
			return r.err
		}
		el := r.engine
		total := uint64(el.Credit) + uint64(n) + uint64(len(r.deliveries)) + uint64(el.InFlight())
		if total > uint64(r.opts.capacity) {
			return fmt.Errorf("%w: %d > %d", ErrCapacityExceeded, total, r.opts.capacity)
		}
		el.SetCredit(el.Credit+n, el.Drain)
		return s.send(s.engine.LinkFlow(el, false))
	})
}

// Drain asks the sender to use up or discard the outstanding credit and
// waits until it reports zero credit
func (r *Receiver) Drain(ctx context.Context) error {
	w := make(chan error, 1)
	s := r.session
	err := s.call(ctx, func() error {
		if r.terminated {
			return r.err
		}
		el := r.engine
		if el.Credit == 0 {
			w <- nil
			return nil
		}
		el.SetCredit(el.Credit, true)
		r.drainWaiters = append(r.drainWaiters, w)
		return s.send(s.engine.LinkFlow(el, false))
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

// DeliveryHandlerFunc handles one delivery. Returning nil accepts it unless
// the handler settled it; an error rejects it.
type DeliveryHandlerFunc func(ctx context.Context, d *Delivery) error

// Consume passes deliveries to handler until ctx ends or the link detaches.
// A clean detach returns nil.
func (r *Receiver) Consume(ctx context.Context, handler DeliveryHandlerFunc) error {
	for {
		d, err := r.Receive(ctx)
		if err != nil {
			if graceful(err) {
				return nil
			}
			return err
		}

		if herr := handler(ctx, d); herr != nil {
			err = d.Reject(ctx, NewError(ErrCondInternalError, "%v", herr))
		} else {
			err = d.Accept(ctx)
		}
		if err != nil && !errors.Is(err, ErrAlreadySettled) {
			return err
		}
	}
}
