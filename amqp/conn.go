package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/israelio/amqp10-go-client/internal/engine"
	"github.com/israelio/amqp10-go-client/internal/frame"
	"github.com/israelio/amqp10-go-client/internal/protocol"
	"github.com/israelio/amqp10-go-client/internal/util"
)

// Conn is an open AMQP connection. It owns the transport: one goroutine
// reads and demultiplexes frames by channel, and writes from all sessions
// are serialized frame by frame.
type Conn struct {
	factory      *ConnectionFactory
	logger       *zap.Logger
	metrics      MetricsCollector
	errorHandler ErrorHandler
	server       bool

	rwc    io.ReadWriteCloser
	reader *frame.Reader
	writer *frame.Writer

	// wmu orders session writes against Close; closeSent is guarded by it
	wmu       sync.RWMutex
	closeSent bool

	mu             sync.Mutex
	engine         *engine.Connection
	channels       *util.IntAllocator
	sessions       map[uint16]*Session // by local channel
	remoteSessions map[uint16]*Session // by remote channel
	closeCause     error
	err            error

	incoming     chan *Session
	lastActivity atomic.Int64
	closeOnce    sync.Once
	done         chan struct{}
}

func newConn(ctx context.Context, rwc io.ReadWriteCloser, cf *ConnectionFactory, server bool) (*Conn, error) {
	logger := cf.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Conn{
		factory:      cf,
		logger:       logger.With(zap.String("container", cf.ContainerID)),
		metrics:      cf.Metrics,
		errorHandler: cf.errorHandler(),
		server:       server,
		rwc:          rwc,
		reader:       frame.NewReader(rwc, cf.MaxFrameSize),
		writer:       frame.NewWriter(rwc, protocol.MinMaxFrameSize),
		engine: engine.NewConnection(engine.ConnectionConfig{
			ContainerID:  cf.ContainerID,
			Hostname:     cf.Hostname,
			MaxFrameSize: cf.MaxFrameSize,
			ChannelMax:   cf.ChannelMax,
			IdleTimeout:  cf.IdleTimeout,
			Properties:   cf.Properties,
		}),
		sessions:       make(map[uint16]*Session),
		remoteSessions: make(map[uint16]*Session),
		incoming:       make(chan *Session, cf.SessionQueue),
		done:           make(chan struct{}),
	}
	if c.metrics == nil {
		c.metrics = NewNoOpMetricsCollector()
	}
	c.reader.SetStrict(cf.StrictDecoding)

	// the handshake blocks on the transport; closing it unblocks on ctx end
	stop := context.AfterFunc(ctx, func() { _ = rwc.Close() })
	var err error
	if server {
		err = c.serverHandshake()
	} else {
		err = c.clientHandshake()
	}
	if !stop() {
		return nil, fmt.Errorf("open connection: %w", context.Cause(ctx))
	}
	if err != nil {
		_ = rwc.Close()
		return nil, err
	}

	c.start()
	return c, nil
}

// clientHandshake runs the optional SASL layer, exchanges protocol headers
// and then Open performatives
func (c *Conn) clientHandshake() error {
	if mech := c.factory.saslMechanism(); mech != SASLNone {
		if err := c.saslClient(mech); err != nil {
			return err
		}
	}

	if err := c.writer.WriteProtocolHeader(frame.HeaderAMQP); err != nil {
		return err
	}
	if err := c.engine.HeaderSent(); err != nil {
		return err
	}
	h, err := c.reader.ReadProtocolHeader()
	if err != nil {
		return err
	}
	if err := c.engine.HeaderReceived(h); err != nil {
		return err
	}

	if err := c.sendOpen(); err != nil {
		return err
	}
	return c.readOpen()
}

// serverHandshake reads the peer's header first and answers it
func (c *Conn) serverHandshake() error {
	h, err := c.reader.ReadProtocolHeader()
	if err != nil {
		return err
	}

	switch {
	case h == frame.HeaderSASL && c.factory.saslRequired():
		if err := c.saslServer(); err != nil {
			return err
		}
		if h, err = c.reader.ReadProtocolHeader(); err != nil {
			return err
		}
	case h == frame.HeaderSASL:
		// announce the header we do speak before hanging up
		_ = c.writer.WriteProtocolHeader(frame.HeaderAMQP)
		return fmt.Errorf("peer requested sasl, which is not configured")
	case c.factory.saslRequired():
		_ = c.writer.WriteProtocolHeader(frame.HeaderSASL)
		return fmt.Errorf("peer skipped the required sasl layer")
	}

	if err := c.engine.HeaderReceived(h); err != nil {
		_ = c.writer.WriteProtocolHeader(frame.HeaderAMQP)
		return err
	}
	if err := c.writer.WriteProtocolHeader(frame.HeaderAMQP); err != nil {
		return err
	}
	if err := c.engine.HeaderSent(); err != nil {
		return err
	}

	if err := c.readOpen(); err != nil {
		return err
	}
	return c.sendOpen()
}

func (c *Conn) sendOpen() error {
	open := c.engine.Open()
	if err := c.engine.OpenSent(open); err != nil {
		return err
	}
	if err := c.writer.WriteFrame(frame.NewFrame(0, open)); err != nil {
		return err
	}
	c.metrics.FrameSent(protocol.Name(open))
	return nil
}

// readOpen waits for the peer's Open, skipping heartbeats
func (c *Conn) readOpen() error {
	for {
		f, err := c.reader.ReadFrame()
		if err != nil {
			return fmt.Errorf("read open: %w", err)
		}
		if f.IsHeartbeat() {
			continue
		}
		c.metrics.FrameReceived(protocol.Name(f.Body))

		switch body := f.Body.(type) {
		case *protocol.Open:
			return c.engine.OpenReceived(body)
		case *protocol.Close:
			return &RemoteClosedError{Scope: ScopeConnection, Err: body.Error}
		default:
			return newViolation(ScopeConnection, protocol.ErrCondIllegalState, "expected open, got %s", protocol.Name(body))
		}
	}
}

// start applies the negotiated limits and launches the background goroutines
func (c *Conn) start() {
	// both directions use the smaller of the two offers
	c.writer.SetMaxFrameSize(c.engine.MaxFrameSize)
	c.reader.SetMaxFrameSize(c.engine.MaxFrameSize)
	c.channels = util.NewIntAllocator(0, uint32(c.engine.ChannelMax))
	c.updateActivity()

	c.logger.Info("connection opened",
		zap.String("remote_container", c.engine.RemoteOpen.ContainerID),
		zap.Uint32("max_frame_size", c.engine.MaxFrameSize),
		zap.Uint16("channel_max", c.engine.ChannelMax),
		zap.Duration("idle_timeout", c.engine.IdleTimeout))
	c.metrics.ConnectionOpened()

	go c.frameDispatcher()

	// both ends enforce the negotiated idle timeout
	if idle := c.engine.IdleTimeout; idle > 0 {
		go c.heartbeatSender(idle / 2)
		go c.heartbeatMonitor(idle)
	}
}

func (c *Conn) updateActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// frameDispatcher reads frames until the transport fails or Close completes
func (c *Conn) frameDispatcher() {
	for {
		f, err := c.reader.ReadFrame()
		if err != nil {
			c.readFailed(err)
			return
		}
		c.updateActivity()
		if f.IsHeartbeat() {
			continue
		}

		c.metrics.FrameReceived(protocol.Name(f.Body))
		if ce := c.logger.Check(zap.DebugLevel, "frame received"); ce != nil {
			ce.Write(zap.Uint16("channel", f.Channel), zap.String("performative", protocol.Name(f.Body)))
		}

		if !c.dispatchFrame(f) {
			return
		}
	}
}

func (c *Conn) readFailed(err error) {
	select {
	case <-c.done:
		return
	default:
	}

	var (
		fe *FramingError
		de *DecodeError
	)
	switch {
	case errors.As(err, &fe), errors.As(err, &de):
		c.fail(err)
	case errors.Is(err, io.EOF) && c.closing():
		// the peer hung up after our Close
		c.mu.Lock()
		cause := c.closeCause
		c.mu.Unlock()
		if cause == nil {
			cause = ErrConnClosed
		}
		c.shutdown(cause)
	default:
		c.shutdown(fmt.Errorf("read frame: %w", err))
	}
}

// dispatchFrame routes one frame. It returns false once the read loop must
// stop.
func (c *Conn) dispatchFrame(f *frame.Frame) bool {
	if f.Type == protocol.FrameTypeSASL {
		c.fail(newViolation(ScopeConnection, protocol.ErrCondFramingError, "sasl frame %s after sasl layer", protocol.Name(f.Body)))
		return false
	}

	c.mu.Lock()
	err := c.engine.CheckIncoming(f.Body)
	c.mu.Unlock()
	if err != nil {
		c.fail(err)
		return false
	}

	switch body := f.Body.(type) {
	case *protocol.Open:
		c.mu.Lock()
		err := c.engine.OpenReceived(body)
		c.mu.Unlock()
		if err == nil {
			err = newViolation(ScopeConnection, protocol.ErrCondIllegalState, "second open")
		}
		c.fail(err)
		return false

	case *protocol.Close:
		c.handleClose(body)
		return false

	case *protocol.Begin:
		if err := c.handleBegin(f.Channel, body); err != nil {
			c.fail(err)
			return false
		}
		return true

	default:
		if err := c.dispatchToSession(f); err != nil {
			c.fail(err)
			return false
		}
		return true
	}
}

// dispatchToSession hands a frame to the session mapped on its channel
func (c *Conn) dispatchToSession(f *frame.Frame) error {
	c.mu.Lock()
	s, ok := c.remoteSessions[f.Channel]
	if ok {
		if _, end := f.Body.(*protocol.End); end {
			delete(c.remoteSessions, f.Channel)
		}
	}
	c.mu.Unlock()

	if !ok {
		return newViolation(ScopeConnection, protocol.ErrCondNotFound, "%s on unmapped channel %d", protocol.Name(f.Body), f.Channel)
	}
	s.deliver(f)
	return nil
}

// handleBegin maps the peer's channel to a session: the local session a
// Begin answers, or a new remote-initiated one
func (c *Conn) handleBegin(ch uint16, b *protocol.Begin) error {
	c.mu.Lock()
	if ch > c.engine.ChannelMax {
		c.mu.Unlock()
		return newViolation(ScopeConnection, protocol.ErrCondNotAllowed, "channel %d above channel-max %d", ch, c.engine.ChannelMax)
	}
	if _, ok := c.remoteSessions[ch]; ok {
		c.mu.Unlock()
		return newViolation(ScopeConnection, protocol.ErrCondNotAllowed, "begin on channel %d already in use", ch)
	}

	var s *Session
	if b.RemoteChannel != nil {
		s = c.sessions[*b.RemoteChannel]
		if s == nil || s.remoteMapped {
			c.mu.Unlock()
			return newViolation(ScopeConnection, protocol.ErrCondNotFound, "begin answers unknown channel %d", *b.RemoteChannel)
		}
	} else {
		local, ok := c.channels.Allocate()
		if !ok {
			c.mu.Unlock()
			return newViolation(ScopeConnection, protocol.ErrCondResourceLimitExceeded, "no channel left for remote session")
		}
		s = newSession(c, uint16(local), true, c.factory.sessionDefaults)
		c.logger.Debug("remote session mapped",
			zap.Uint16("remote_channel", ch),
			zap.Uint16("channel", s.channel),
			zap.Uint64("channels_free", c.channels.Available()))
		select {
		case c.incoming <- s:
		default:
			s.rejected = true
		}
		c.sessions[s.channel] = s
		go s.mux()
	}
	s.remoteMapped = true
	c.remoteSessions[ch] = s
	c.mu.Unlock()

	s.deliver(frame.NewFrame(ch, b))
	return nil
}

func (c *Conn) handleClose(cl *protocol.Close) {
	c.mu.Lock()
	err := c.engine.CloseReceived(cl)
	c.mu.Unlock()
	if err != nil {
		c.fail(err)
		return
	}

	var cause error
	if !c.closing() {
		cause = &RemoteClosedError{Scope: ScopeConnection, Err: cl.Error}
		c.sendClose(nil)
	} else {
		c.mu.Lock()
		cause = c.closeCause
		c.mu.Unlock()
		if cl.Error != nil {
			cause = &RemoteClosedError{Scope: ScopeConnection, Err: cl.Error}
		}
		if cause == nil {
			cause = ErrConnClosed
		}
	}
	c.shutdown(cause)
}

func (c *Conn) closing() bool {
	c.wmu.RLock()
	defer c.wmu.RUnlock()
	return c.closeSent
}

// sendClose writes Close once; later frames from sessions are refused
func (c *Conn) sendClose(e *Error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closeSent {
		return
	}
	c.closeSent = true

	c.mu.Lock()
	err := c.engine.CloseSent()
	c.mu.Unlock()
	if err != nil {
		c.logger.Debug("close not sent", zap.Error(err))
		return
	}
	_ = c.write(frame.NewFrame(0, &protocol.Close{Error: e}))
}

// fail closes the connection with an error derived from err
func (c *Conn) fail(err error) {
	c.logger.Warn("connection failed", zap.Error(err))
	c.sendClose(amqpError(err))
	c.shutdown(err)
}

// shutdown releases the transport and wakes every waiter with err
func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()

		_ = c.rwc.Close()

		if graceful(err) {
			c.logger.Info("connection closed", zap.Error(err))
		} else {
			c.logger.Warn("connection closed with error", zap.Error(err))
			c.metrics.ConnectionError(err)
			c.errorHandler.HandleConnectionError(c, err)
		}
		c.metrics.ConnectionClosed()
		close(c.done)
	})
}

// sendFrame writes a session frame unless Close has been sent
func (c *Conn) sendFrame(f *frame.Frame) error {
	c.wmu.RLock()
	defer c.wmu.RUnlock()

	if c.closeSent {
		return ErrConnClosed
	}
	return c.write(f)
}

func (c *Conn) write(f *frame.Frame) error {
	if !f.IsHeartbeat() {
		if ce := c.logger.Check(zap.DebugLevel, "frame sent"); ce != nil {
			ce.Write(zap.Uint16("channel", f.Channel), zap.String("performative", protocol.Name(f.Body)), zap.Int("payload", len(f.Payload)))
		}
		c.metrics.FrameSent(protocol.Name(f.Body))
	}
	if err := c.writer.WriteFrame(f); err != nil {
		c.shutdown(fmt.Errorf("write frame: %w", err))
		return err
	}
	return nil
}

// heartbeatSender emits empty frames so the peer's idle timer never fires
func (c *Conn) heartbeatSender(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.sendFrame(frame.NewHeartbeatFrame()); err != nil {
				return
			}
		}
	}
}

// heartbeatMonitor fails the connection when nothing arrives for idle
func (c *Conn) heartbeatMonitor(idle time.Duration) {
	ticker := time.NewTicker(idle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastActivity.Load())
			if time.Since(last) > idle {
				c.fail(fmt.Errorf("%w: no frame received for %s", ErrTimeout, idle))
				return
			}
		}
	}
}

// NewSession begins a session and waits for the peer's Begin
func (c *Conn) NewSession(ctx context.Context, opts ...SessionOption) (*Session, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if c.closeCause != nil {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	ch, ok := c.channels.Allocate()
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("no channel available (channel-max %d)", c.engine.ChannelMax)
	}
	s := newSession(c, uint16(ch), false, append(slices.Clip(c.factory.sessionDefaults), opts...))
	c.sessions[s.channel] = s
	c.logger.Debug("session channel allocated",
		zap.Uint16("channel", s.channel),
		zap.Uint64("channels_free", c.channels.Available()))
	c.mu.Unlock()

	go s.mux()

	if err := s.waitMapped(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// AcceptSession returns the next session begun by the peer
func (c *Conn) AcceptSession(ctx context.Context) (*Session, error) {
	select {
	case s := <-c.incoming:
		if err := s.waitMapped(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// releaseSession frees the channel of a finished session
func (c *Conn) releaseSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.sessions[s.channel]; ok && cur == s {
		delete(c.sessions, s.channel)
		c.channels.Free(uint32(s.channel))
	}
	for ch, cur := range c.remoteSessions {
		if cur == s {
			delete(c.remoteSessions, ch)
		}
	}
}

// Close sends Close and waits for the peer's Close, ctx, or the close
// timeout. It returns nil for a clean close.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closeCause == nil {
		c.closeCause = ErrConnClosed
	}
	c.mu.Unlock()

	c.sendClose(nil)

	var timeout <-chan time.Time
	if d := c.factory.CloseTimeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		c.shutdown(ErrConnClosed)
		return ctx.Err()
	case <-timeout:
		err := fmt.Errorf("%w: no close from peer within %s", ErrTimeout, c.factory.CloseTimeout)
		c.shutdown(err)
		return err
	}

	if err := c.Err(); !graceful(err) {
		return err
	}
	return nil
}

// Done is closed when the connection has terminated
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error, or nil while the connection is open
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ContainerID returns the local container id
func (c *Conn) ContainerID() string {
	return c.factory.ContainerID
}

// RemoteContainerID returns the container id the peer sent in Open
func (c *Conn) RemoteContainerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.RemoteOpen.ContainerID
}

// MaxFrameSize returns the negotiated max frame size
func (c *Conn) MaxFrameSize() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.MaxFrameSize
}

// IdleTimeout returns the negotiated idle timeout
func (c *Conn) IdleTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.IdleTimeout
}
