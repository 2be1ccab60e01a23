package amqp

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/israelio/amqp10-go-client/internal/engine"
	"github.com/israelio/amqp10-go-client/internal/frame"
	"github.com/israelio/amqp10-go-client/internal/protocol"
	"github.com/israelio/amqp10-go-client/internal/util"
)

// Session is a bidirectional sequential conversation on a connection
// channel. One goroutine owns the session state and all of its links; the
// methods of Session, Sender and Receiver post requests to it.
type Session struct {
	conn    *Conn
	logger  *zap.Logger
	channel uint16
	remote  bool

	// guarded by conn.mu
	rejected     bool
	remoteMapped bool

	// owned by the mux goroutine
	engine *engine.Session
	links  map[*engine.Link]*link
	ending bool
	cause  error

	rx            chan *frame.Frame
	requests      chan func()
	mapped        *util.Cell[error]
	incomingLinks chan *link
	done          chan struct{}
	err           error // set before done is closed
}

func newSession(c *Conn, channel uint16, remote bool, opts []SessionOption) *Session {
	o := defaultSessionOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Session{
		conn:    c,
		logger:  c.logger.With(zap.Uint16("channel", channel)),
		channel: channel,
		remote:  remote,
		engine: engine.NewSession(channel, engine.SessionConfig{
			IncomingWindow: o.incomingWindow,
			OutgoingWindow: o.outgoingWindow,
			HandleMax:      o.handleMax,
		}),
		links:         make(map[*engine.Link]*link),
		rx:            make(chan *frame.Frame, 64),
		requests:      make(chan func()),
		mapped:        util.NewCell[error](),
		incomingLinks: make(chan *link, 16),
		done:          make(chan struct{}),
	}
}

// Channel returns the local channel number
func (s *Session) Channel() uint16 {
	return s.channel
}

// Done is closed when the session has ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, or nil while the session is mapped
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// deliver queues an inbound frame for the mux
func (s *Session) deliver(f *frame.Frame) {
	select {
	case s.rx <- f:
	case <-s.done:
	}
}

// call runs fn on the mux goroutine and returns its result
func (s *Session) call(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case s.requests <- func() { res <- fn() }:
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-res
}

// post runs fn on the mux goroutine without waiting for it
func (s *Session) post(fn func()) {
	select {
	case s.requests <- fn:
	case <-s.done:
	}
}

func (s *Session) waitMapped(ctx context.Context) error {
	err, cerr := s.mapped.GetWithContext(ctx)
	if cerr != nil {
		s.post(func() { s.beginEnd(ErrSessionClosed, nil) })
		return cerr
	}
	return err
}

// mux owns the session until both Ends have been exchanged or the
// connection goes away
func (s *Session) mux() {
	defer s.finish()

	if !s.remote {
		s.sendBegin()
	}

	for !s.engine.Ended() {
		s.pump()

		select {
		case f := <-s.rx:
			s.handleFrame(f)
		case fn := <-s.requests:
			fn()
		case <-s.conn.done:
			s.cause = s.conn.Err()
			return
		}
	}
}

func (s *Session) finish() {
	if s.cause == nil {
		s.cause = ErrSessionClosed
	}
	for _, el := range s.engine.ForceDetachAll() {
		if l, ok := s.links[el]; ok {
			s.terminateLink(l, s.cause)
		}
	}
	for _, l := range s.links {
		s.terminateLink(l, s.cause)
	}
	clear(s.links)

	s.err = s.cause
	_ = s.mapped.Set(s.cause)
	s.conn.releaseSession(s)

	if graceful(s.err) {
		s.logger.Info("session ended")
	} else {
		s.logger.Warn("session ended with error", zap.Error(s.err))
		s.conn.metrics.SessionError(s.err)
		s.conn.errorHandler.HandleSessionError(s, s.err)
	}
	s.conn.metrics.SessionEnded()
	close(s.done)
}

// send writes a frame on this session's channel
func (s *Session) send(body protocol.Performative) error {
	return s.conn.sendFrame(frame.NewFrame(s.channel, body))
}

func (s *Session) sendBegin() {
	b := s.engine.Begin()
	if err := s.engine.BeginSent(); err != nil {
		s.fail(nil, err)
		return
	}
	_ = s.send(b)
}

func (s *Session) handleFrame(f *frame.Frame) {
	if s.ending {
		// only the End that completes the exchange matters now
		if e, ok := f.Body.(*protocol.End); ok {
			s.handleEnd(e)
		}
		return
	}

	switch body := f.Body.(type) {
	case *protocol.Begin:
		s.handleBegin(f.Channel, body)
	case *protocol.End:
		s.handleEnd(body)
	case *protocol.Attach:
		s.handleAttach(body)
	case *protocol.Flow:
		s.handleFlow(body)
	case *protocol.Transfer:
		s.handleTransfer(body, f.Payload)
	case *protocol.Disposition:
		s.handleDisposition(body)
	case *protocol.Detach:
		s.handleDetach(body)
	default:
		s.conn.fail(newViolation(ScopeConnection, protocol.ErrCondIllegalState, "%s on session channel %d", protocol.Name(body), f.Channel))
	}
}

func (s *Session) handleBegin(ch uint16, b *protocol.Begin) {
	if err := s.engine.BeginReceived(b, ch); err != nil {
		s.fail(nil, err)
		return
	}
	if s.remote {
		s.sendBegin()
	}
	_ = s.mapped.Set(nil)

	s.logger.Info("session begun", zap.Uint16("remote_channel", ch), zap.Bool("remote", s.remote))
	s.conn.metrics.SessionBegun()

	s.conn.mu.Lock()
	rejected := s.rejected
	s.conn.mu.Unlock()
	if rejected {
		v := newViolation(ScopeSession, protocol.ErrCondResourceLimitExceeded, "too many sessions awaiting accept")
		s.beginEnd(v, v.AMQPError())
	}
}

// fail tears down the endpoint named by the error's scope. Errors without
// a scope end the session.
func (s *Session) fail(l *link, err error) {
	scope := ScopeSession
	var v *ProtocolViolation
	if errors.As(err, &v) {
		scope = v.Scope
	}

	switch {
	case scope == ScopeConnection:
		s.conn.fail(err)
	case scope == ScopeLink && l != nil:
		l.logger.Warn("link violation", zap.Error(err))
		s.detachLink(l, err, amqpError(err))
	default:
		s.logger.Warn("session violation", zap.Error(err))
		s.beginEnd(err, amqpError(err))
	}
}

// beginEnd sends End and terminates the session's links at once
func (s *Session) beginEnd(cause error, e *Error) {
	if s.ending {
		return
	}
	s.ending = true
	s.cause = cause

	if err := s.engine.EndSent(e); err != nil {
		s.logger.Debug("end not sent", zap.Error(err))
		return
	}
	_ = s.send(s.engine.End(e))
	s.terminateAll(cause)
}

func (s *Session) handleEnd(e *protocol.End) {
	if err := s.engine.EndReceived(e); err != nil {
		s.conn.fail(err)
		return
	}

	if s.ending {
		if e.Error != nil && graceful(s.cause) {
			s.cause = &RemoteClosedError{Scope: ScopeSession, Err: e.Error}
		}
		return
	}

	s.ending = true
	s.cause = &RemoteClosedError{Scope: ScopeSession, Err: e.Error}
	s.terminateAll(s.cause)
	if err := s.engine.EndSent(nil); err != nil {
		s.logger.Debug("end not sent", zap.Error(err))
		return
	}
	_ = s.send(s.engine.End(nil))
}

func (s *Session) terminateAll(cause error) {
	for _, el := range s.engine.ForceDetachAll() {
		if l, ok := s.links[el]; ok {
			s.terminateLink(l, cause)
			delete(s.links, el)
		}
	}
}

// End ends the session and waits for the peer's End
func (s *Session) End(ctx context.Context) error {
	err := s.call(ctx, func() error {
		s.beginEnd(ErrSessionClosed, nil)
		return nil
	})
	if err != nil {
		select {
		case <-s.done:
		default:
			return err
		}
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if graceful(s.err) {
		return nil
	}
	return s.err
}

// NewSender attaches a sending link to the target address
func (s *Session) NewSender(ctx context.Context, target string, opts ...LinkOption) (*Sender, error) {
	l := s.newLink(RoleSender, opts)
	if l.opts.target == nil {
		l.opts.target = &Target{Address: target}
	}
	if l.opts.source == nil {
		l.opts.source = &Source{}
	}
	if err := s.attach(ctx, l); err != nil {
		return nil, err
	}
	return &Sender{link: l}, nil
}

// NewReceiver attaches a receiving link to the source address
func (s *Session) NewReceiver(ctx context.Context, source string, opts ...LinkOption) (*Receiver, error) {
	l := s.newLink(RoleReceiver, opts)
	if l.opts.source == nil {
		l.opts.source = &Source{Address: source}
	}
	if l.opts.target == nil {
		l.opts.target = &Target{}
	}
	if err := s.attach(ctx, l); err != nil {
		return nil, err
	}
	return &Receiver{link: l}, nil
}

// AcceptLink completes the next link attached by the peer and returns it as
// a *Sender or *Receiver
func (s *Session) AcceptLink(ctx context.Context, opts ...LinkOption) (Link, error) {
	for {
		var l *link
		select {
		case l = <-s.incomingLinks:
		case <-s.done:
			return nil, s.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		claimed := false
		err := s.call(ctx, func() error {
			// a local attach under the same name may have claimed it first
			if l.terminated || s.links[l.engine] != l || l.engine.State != engine.LinkAttachReceived {
				return nil
			}
			l.opts = s.linkOptions(opts)
			l.opts.name = l.name
			if l.role == RoleReceiver {
				l.deliveries = make(chan *Delivery, l.opts.capacity)
			}
			a, err := s.engine.Claim(l.engine, l.config())
			if err != nil {
				s.terminateLink(l, err)
				delete(s.links, l.engine)
				return err
			}
			_ = s.send(a)
			s.linkAttached(l)
			claimed = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}
		if l.role == RoleSender {
			return &Sender{link: l}, nil
		}
		return &Receiver{link: l}, nil
	}
}

func (s *Session) linkOptions(opts []LinkOption) linkOptions {
	o := defaultLinkOptions()
	for _, opt := range append(slices.Clip(s.conn.factory.linkDefaults), opts...) {
		opt(&o)
	}
	if o.capacity == 0 {
		o.capacity = 1
	}
	return o
}

func (s *Session) handleAttach(a *protocol.Attach) {
	el, err := s.engine.AttachReceived(a)
	if err != nil {
		s.fail(s.links[el], err)
		return
	}

	l, ok := s.links[el]
	if !ok {
		l = s.newRemoteLink(el)
		s.links[el] = l
		select {
		case s.incomingLinks <- l:
			l.logger.Debug("link awaiting accept", zap.Stringer("role", l.role))
		default:
			s.refuseLink(l, NewError(protocol.ErrCondResourceLimitExceeded, "too many links awaiting accept"))
		}
		return
	}

	if el.Refused() {
		// the peer's Detach follows
		return
	}
	if el.Attached() {
		s.linkAttached(l)
		if l.abandoned {
			s.detachLink(l, ErrLinkClosed, nil)
		}
	}
}

// refuseLink answers a peer Attach with a null terminus and detaches
func (s *Session) refuseLink(l *link, e *Error) {
	a, err := s.engine.Refuse(l.engine)
	if err != nil {
		s.fail(nil, err)
		return
	}
	_ = s.send(a)
	s.detachLink(l, e, e)
}

func (s *Session) linkAttached(l *link) {
	if l.role == RoleSender {
		l.credit.Store(l.engine.Credit)
	}
	_ = l.attached.Set(nil)
	l.logger.Info("link attached", zap.Stringer("role", l.role))
	s.conn.metrics.LinkAttached(l.role)
	s.topUp(l)
}

func (s *Session) handleDetach(d *protocol.Detach) {
	el, err := s.engine.DetachReceived(d)
	if err != nil {
		s.fail(s.links[el], err)
		return
	}
	l, ok := s.links[el]
	if !ok {
		return
	}

	if !l.closing {
		l.closing = true
		l.cause = &RemoteClosedError{Scope: ScopeLink, Err: d.Error}
		if reply, err := s.engine.DetachSent(el, nil); err == nil {
			_ = s.send(reply)
		}
	} else if d.Error != nil && graceful(l.cause) {
		l.cause = &RemoteClosedError{Scope: ScopeLink, Err: d.Error}
	}
	s.terminateLink(l, l.cause)
	delete(s.links, el)
}

// detachLink sends Detach. Waiters resolve once the peer answers, or at
// once when the link is torn down by a violation.
func (s *Session) detachLink(l *link, cause error, e *Error) {
	if l.closing || l.terminated {
		return
	}
	if l.engine.State == engine.LinkAttachSent {
		// detach once the peer's Attach arrives
		l.abandoned = true
		return
	}
	l.closing = true
	l.cause = cause

	d, err := s.engine.DetachSent(l.engine, e)
	if err != nil {
		s.terminateLink(l, cause)
		delete(s.links, l.engine)
		return
	}
	_ = s.send(d)

	var v *ProtocolViolation
	if l.engine.Detached() || errors.As(cause, &v) {
		s.terminateLink(l, cause)
	}
	if l.engine.Detached() {
		delete(s.links, l.engine)
	}
}

// terminateLink resolves every waiter of the link with cause
func (s *Session) terminateLink(l *link, cause error) {
	if l.terminated {
		return
	}
	l.terminated = true
	if cause == nil {
		cause = ErrLinkClosed
	}
	l.err = cause
	_ = l.attached.Set(cause)

	if l.role == RoleSender {
		for _, r := range l.pending {
			r.complete(cause)
		}
		l.pending = nil
		if l.current != nil {
			l.current.req.complete(cause)
			l.current = nil
		}
		for id, r := range l.outcomes {
			r.complete(cause)
			delete(l.outcomes, id)
		}
		l.credit.Store(0)
		l.unsettled.Store(0)
	} else {
		for id, w := range l.settleWaiters {
			w <- cause
			delete(l.settleWaiters, id)
		}
		for _, w := range l.drainWaiters {
			w <- cause
		}
		l.drainWaiters = nil
	}

	if graceful(cause) {
		l.logger.Info("link detached")
	} else {
		l.logger.Warn("link detached with error", zap.Error(cause))
		s.conn.metrics.LinkError(cause)
		s.conn.errorHandler.HandleLinkError(l.name, cause)
	}
	s.conn.metrics.LinkDetached(l.role)
	close(l.detached)
}

func (s *Session) handleFlow(f *protocol.Flow) {
	el, err := s.engine.FlowReceived(f)
	if err != nil {
		s.fail(s.links[el], err)
		return
	}
	if el == nil {
		if f.Echo {
			_ = s.send(s.engine.SessionFlow())
		}
		return
	}

	l, ok := s.links[el]
	if !ok {
		return
	}
	if l.role == RoleSender {
		l.credit.Store(el.Credit)
	} else if !el.Drain && len(l.drainWaiters) > 0 {
		s.drained(l)
	}
	if f.Echo {
		_ = s.send(s.engine.LinkFlow(el, false))
	}
}

func (s *Session) handleTransfer(t *protocol.Transfer, payload []byte) {
	el, p, err := s.engine.TransferReceived(t, payload)
	if err != nil {
		s.fail(s.links[el], err)
		return
	}
	if s.engine.NeedsWindowUpdate() {
		s.engine.RestoreWindow()
		_ = s.send(s.engine.SessionFlow())
	}
	if p == nil {
		return
	}

	l, ok := s.links[el]
	if !ok || l.terminated || l.closing {
		return
	}
	// only the mux sends on deliveries, so a free slot stays free
	if len(l.deliveries) == cap(l.deliveries) {
		v := newViolation(ScopeLink, protocol.ErrCondTransferLimitExceeded, "receiver buffer of %d deliveries full", cap(l.deliveries))
		s.fail(l, v)
		return
	}
	s.conn.metrics.MessageReceived(len(p.Payload))
	l.deliveries <- newDelivery(l, p)
	if el.Drain && el.Credit == 0 {
		// the sender used up the credit before answering the drain
		el.SetCredit(0, false)
		s.drained(l)
		return
	}
	s.topUp(l)
}

// drained wakes Drain callers and resumes automatic credit
func (s *Session) drained(l *link) {
	for _, w := range l.drainWaiters {
		w <- nil
	}
	l.drainWaiters = nil
	s.topUp(l)
}

// topUp restores a receiver's credit once it falls to half its capacity.
// Credit plus buffered and partial deliveries never exceeds capacity.
func (s *Session) topUp(l *link) {
	if l.role != RoleReceiver || l.opts.manualCredit || l.terminated || l.closing {
		return
	}
	el := l.engine
	if !el.Attached() || el.Drain || el.Credit > l.opts.capacity/2 {
		return
	}
	room := int(l.opts.capacity) - len(l.deliveries) - el.InFlight()
	if room > int(el.Credit) {
		el.SetCredit(uint32(room), false)
		_ = s.send(s.engine.LinkFlow(el, false))
	}
}

func (s *Session) handleDisposition(d *protocol.Disposition) {
	results, unknown := s.engine.DispositionReceived(d)
	if unknown > 0 {
		s.logger.Debug("disposition for unknown deliveries", zap.Uint32("first", d.First), zap.Uint32("last", d.LastID()), zap.Int("unknown", unknown))
	}

	for _, r := range results {
		l, ok := s.links[r.Link]
		if !ok {
			continue
		}
		if l.role == RoleSender {
			s.senderOutcome(l, r)
		} else {
			s.receiverSettled(l, r)
		}
	}
}

// senderOutcome completes a send once the receiver reports a terminal
// outcome. In receiver-settle-mode second the sender settles in turn.
func (s *Session) senderOutcome(l *link, r engine.DispositionResult) {
	if !r.Settled {
		if !protocol.IsTerminal(r.State) {
			return
		}
		if err := s.engine.Settle(l.engine, r.ID); err != nil {
			return
		}
		_ = s.send(s.engine.Disposition(l.engine, r.ID, true, r.State))
	}

	req, ok := l.outcomes[r.ID]
	if !ok {
		return
	}
	delete(l.outcomes, r.ID)
	l.unsettled.Add(-1)
	s.conn.metrics.MessageSettled(outcomeName(r.State))
	req.complete(outcomeError(r.State))
}

// receiverSettled wakes a delivery waiting for the sender to settle
func (s *Session) receiverSettled(l *link, r engine.DispositionResult) {
	if !r.Settled {
		return
	}
	w, ok := l.settleWaiters[r.ID]
	if !ok {
		return
	}
	delete(l.settleWaiters, r.ID)
	s.conn.metrics.MessageSettled(outcomeName(r.State))
	w <- nil
}

// pump moves queued sends onto the wire while credit and window allow
func (s *Session) pump() {
	if !s.engine.Mapped() || s.ending {
		return
	}
	for _, l := range s.links {
		if l.role == RoleSender && !l.terminated && l.engine.Attached() {
			s.pumpSender(l)
		}
	}
}
