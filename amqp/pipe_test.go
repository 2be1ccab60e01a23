package amqp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/israelio/amqp10-go-client/internal/frame"
	"github.com/israelio/amqp10-go-client/internal/protocol"
)

var errPipeClosed = errors.New("pipe closed")

// pipeBuffer is one direction of an in-memory duplex stream. Unlike
// net.Pipe, writes never wait for the reader.
type pipeBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newPipeBuffer() *pipeBuffer {
	b := &pipeBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *pipeBuffer) close(discard bool) {
	b.mu.Lock()
	b.closed = true
	if discard {
		b.buf.Reset()
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

type pipeEnd struct {
	r, w *pipeBuffer
}

// newPipe returns two connected ends. Closing an end lets the other read
// what was already written and then io.EOF.
func newPipe() (*pipeEnd, *pipeEnd) {
	a, b := newPipeBuffer(), newPipeBuffer()
	return &pipeEnd{r: a, w: b}, &pipeEnd{r: b, w: a}
}

func (p *pipeEnd) Read(data []byte) (int, error) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	for p.r.buf.Len() == 0 && !p.r.closed {
		p.r.cond.Wait()
	}
	if p.r.buf.Len() == 0 {
		return 0, io.EOF
	}
	return p.r.buf.Read(data)
}

func (p *pipeEnd) Write(data []byte) (int, error) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	if p.w.closed {
		return 0, errPipeClosed
	}
	n, _ := p.w.buf.Write(data)
	p.w.cond.Broadcast()
	return n, nil
}

func (p *pipeEnd) Close() error {
	p.r.close(true)
	p.w.close(false)
	return nil
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// connPair opens a client and a server connection over an in-memory pipe
func connPair(t *testing.T, clientOpts, serverOpts []ConnOption) (*Conn, *Conn) {
	t.Helper()
	a, b := newPipe()
	return connPairOver(t, a, b, clientOpts, serverOpts)
}

// tappedConnPair is connPair with every byte the client writes recorded
func tappedConnPair(t *testing.T, clientOpts, serverOpts []ConnOption) (*Conn, *Conn, *frameTap) {
	t.Helper()
	a, b := newPipe()
	tap := &frameTap{ReadWriteCloser: a}
	client, server := connPairOver(t, tap, b, clientOpts, serverOpts)
	return client, server, tap
}

func connPairOver(t *testing.T, a, b io.ReadWriteCloser, clientOpts, serverOpts []ConnOption) (*Conn, *Conn) {
	t.Helper()
	ctx := testContext(t)

	logger := zaptest.NewLogger(t)
	clientOpts = append([]ConnOption{WithLogger(logger.Named("client")), WithContainerID("client")}, clientOpts...)
	serverOpts = append([]ConnOption{WithLogger(logger.Named("server")), WithContainerID("server")}, serverOpts...)

	type result struct {
		c   *Conn
		err error
	}
	srv := make(chan result, 1)
	go func() {
		c, err := NewServerConn(ctx, b, serverOpts...)
		srv <- result{c, err}
	}()

	client, err := NewConn(ctx, a, clientOpts...)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	r := <-srv
	if r.err != nil {
		t.Fatalf("server handshake: %v", r.err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = client.Close(ctx)
		_ = r.c.Close(ctx)
	})
	return client, r.c
}

// frameTap records what a connection writes so tests can check the
// performatives it put on the wire
type frameTap struct {
	io.ReadWriteCloser
	mu  sync.Mutex
	out bytes.Buffer
}

func (tp *frameTap) Write(data []byte) (int, error) {
	tp.mu.Lock()
	tp.out.Write(data)
	tp.mu.Unlock()
	return tp.ReadWriteCloser.Write(data)
}

// performatives decodes the recorded stream and returns the name of every
// non-heartbeat frame in write order
func (tp *frameTap) performatives(t *testing.T) []string {
	t.Helper()
	tp.mu.Lock()
	data := bytes.Clone(tp.out.Bytes())
	tp.mu.Unlock()

	r := frame.NewReader(bytes.NewReader(data), math.MaxUint32)
	if _, err := r.ReadProtocolHeader(); err != nil {
		t.Fatalf("tap header: %v", err)
	}
	var names []string
	for {
		f, err := r.ReadFrame()
		if errors.Is(err, io.EOF) {
			return names
		}
		if err != nil {
			t.Fatalf("tap frame %d: %v", len(names), err)
		}
		if !f.IsHeartbeat() {
			names = append(names, protocol.Name(f.Body))
		}
	}
}

// sessionPair begins a session on client and accepts it on server
func sessionPair(t *testing.T, client, server *Conn) (*Session, *Session) {
	t.Helper()
	ctx := testContext(t)

	accepted := make(chan *Session, 1)
	go func() {
		s, err := server.AcceptSession(ctx)
		if err != nil {
			t.Errorf("accept session: %v", err)
		}
		accepted <- s
	}()

	cs, err := client.NewSession(ctx)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ss := <-accepted
	if ss == nil {
		t.FailNow()
	}
	return cs, ss
}

// senderPair attaches a client sender and the server receiver answering it
func senderPair(t *testing.T, cs, ss *Session, senderOpts, receiverOpts []LinkOption) (*Sender, *Receiver) {
	t.Helper()
	ctx := testContext(t)

	accepted := make(chan Link, 1)
	go func() {
		l, err := ss.AcceptLink(ctx, receiverOpts...)
		if err != nil {
			t.Errorf("accept link: %v", err)
		}
		accepted <- l
	}()

	snd, err := cs.NewSender(ctx, "queue", senderOpts...)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	l := <-accepted
	rcv, ok := l.(*Receiver)
	if !ok {
		t.Fatalf("accepted link: got %T, want *Receiver", l)
	}
	return snd, rcv
}

// rawPeer speaks raw frames to a connection under test
type rawPeer struct {
	t  *testing.T
	rw io.ReadWriteCloser
	r  *frame.Reader
	w  *frame.Writer
}

func newRawPeer(t *testing.T, rw io.ReadWriteCloser) *rawPeer {
	return &rawPeer{
		t:  t,
		rw: rw,
		r:  frame.NewReader(rw, protocol.DefaultMaxFrameSize),
		w:  frame.NewWriter(rw, protocol.DefaultMaxFrameSize),
	}
}

// dialRawPeer connects a client Conn to a raw peer that completes the
// header and Open exchange with open
func dialRawPeer(t *testing.T, open *protocol.Open, opts ...ConnOption) (*Conn, *rawPeer) {
	t.Helper()
	ctx := testContext(t)
	a, b := newPipe()
	p := newRawPeer(t, b)

	opts = append([]ConnOption{WithLogger(zaptest.NewLogger(t)), WithIdleTimeout(0)}, opts...)
	type result struct {
		c   *Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := NewConn(ctx, a, opts...)
		done <- result{c, err}
	}()

	h, err := p.r.ReadProtocolHeader()
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h != frame.HeaderAMQP {
		t.Fatalf("header: got %s, want %s", h, frame.HeaderAMQP)
	}
	p.writeHeader(frame.HeaderAMQP)
	p.expect(&protocol.Open{})
	p.send(0, open)

	r := <-done
	if r.err != nil {
		t.Fatalf("client handshake: %v", r.err)
	}
	t.Cleanup(func() { _ = p.rw.Close() })
	return r.c, p
}

func peerOpen() *protocol.Open {
	return &protocol.Open{
		ContainerID:  "peer",
		MaxFrameSize: protocol.DefaultMaxFrameSize,
		ChannelMax:   protocol.DefaultChannelMax,
	}
}

func (p *rawPeer) writeHeader(h frame.ProtocolHeader) {
	p.t.Helper()
	if err := p.w.WriteProtocolHeader(h); err != nil {
		p.t.Fatalf("write header: %v", err)
	}
}

func (p *rawPeer) send(ch uint16, body protocol.Performative) {
	p.t.Helper()
	if err := p.w.WriteFrame(frame.NewFrame(ch, body)); err != nil {
		p.t.Fatalf("write %s: %v", protocol.Name(body), err)
	}
}

func (p *rawPeer) transfer(ch uint16, t *protocol.Transfer, payload []byte) {
	p.t.Helper()
	if err := p.w.WriteFrame(frame.NewTransferFrame(ch, t, payload)); err != nil {
		p.t.Fatalf("write transfer: %v", err)
	}
}

// next returns the next non-heartbeat frame
func (p *rawPeer) next() *frame.Frame {
	p.t.Helper()
	for {
		f, err := p.r.ReadFrame()
		if err != nil {
			p.t.Fatalf("read frame: %v", err)
		}
		if !f.IsHeartbeat() {
			return f
		}
	}
}

// expect reads the next frame and checks its performative type
func (p *rawPeer) expect(want protocol.Performative) *frame.Frame {
	p.t.Helper()
	f := p.next()
	if protocol.Name(f.Body) != protocol.Name(want) {
		p.t.Fatalf("frame: got %s, want %s", protocol.Name(f.Body), protocol.Name(want))
	}
	return f
}

// begin answers the client's Begin on ch
func (p *rawPeer) begin(ch uint16) {
	p.t.Helper()
	f := p.expect(&protocol.Begin{})
	remote := f.Channel
	p.send(ch, &protocol.Begin{
		RemoteChannel:  &remote,
		IncomingWindow: 100,
		OutgoingWindow: 100,
		HandleMax:      16,
	})
}

// newSession begins a client session against the raw peer
func (p *rawPeer) newSession(c *Conn, ch uint16) *Session {
	p.t.Helper()
	ctx := testContext(p.t)
	done := make(chan *Session, 1)
	go func() {
		s, err := c.NewSession(ctx)
		if err != nil {
			p.t.Errorf("new session: %v", err)
		}
		done <- s
	}()
	p.begin(ch)
	s := <-done
	if s == nil {
		p.t.FailNow()
	}
	return s
}
