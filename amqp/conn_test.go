package amqp

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/israelio/amqp10-go-client/internal/frame"
	"github.com/israelio/amqp10-go-client/internal/protocol"
	"github.com/israelio/amqp10-go-client/internal/transport"
)

// TestConnOpenNegotiation checks that both ends agree on the smaller limits
func TestConnOpenNegotiation(t *testing.T) {
	client, server := connPair(t,
		[]ConnOption{WithMaxFrameSize(4096), WithChannelMax(7), WithIdleTimeout(30 * time.Second)},
		[]ConnOption{WithMaxFrameSize(8192), WithChannelMax(100), WithIdleTimeout(60 * time.Second)},
	)

	for name, c := range map[string]*Conn{"client": client, "server": server} {
		if got := c.MaxFrameSize(); got != 4096 {
			t.Errorf("%s max frame size: got %d, want 4096", name, got)
		}
		if got := c.IdleTimeout(); got != 30*time.Second {
			t.Errorf("%s idle timeout: got %s, want 30s", name, got)
		}
	}
	if got := client.RemoteContainerID(); got != "server" {
		t.Errorf("client remote container: got %q, want %q", got, "server")
	}
	if got := server.RemoteContainerID(); got != "client" {
		t.Errorf("server remote container: got %q, want %q", got, "client")
	}
}

// TestConnClose checks the Close exchange from both sides
func TestConnClose(t *testing.T) {
	client, server := connPair(t, nil, nil)
	ctx := testContext(t)

	if err := client.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-server.Done():
	case <-ctx.Done():
		t.Fatal("server did not terminate")
	}

	var rc *RemoteClosedError
	if !errors.As(server.Err(), &rc) {
		t.Fatalf("server err: got %v, want *RemoteClosedError", server.Err())
	}
	if rc.Err != nil {
		t.Errorf("server err condition: got %v, want nil", rc.Err)
	}
	if !errors.Is(client.Err(), ErrConnClosed) {
		t.Errorf("client err: got %v, want %v", client.Err(), ErrConnClosed)
	}

	if _, err := client.NewSession(ctx); err == nil {
		t.Error("new session after close: got nil error")
	}
}

// TestConnCloseTimeout checks that Close gives up on a silent peer
func TestConnCloseTimeout(t *testing.T) {
	c, p := dialRawPeer(t, peerOpen(), WithCloseTimeout(100*time.Millisecond))

	errc := make(chan error, 1)
	go func() { errc <- c.Close(context.Background()) }()

	p.expect(&protocol.Close{})
	if err := <-errc; !errors.Is(err, ErrTimeout) {
		t.Errorf("close: got %v, want %v", err, ErrTimeout)
	}
}

// TestConnRemoteCloseWithError checks that a peer's Close is answered and
// its error surfaces
func TestConnRemoteCloseWithError(t *testing.T) {
	c, p := dialRawPeer(t, peerOpen())

	p.send(0, &protocol.Close{Error: NewError(ErrCondConnectionForced, "shutting down")})
	p.expect(&protocol.Close{})

	<-c.Done()
	var rc *RemoteClosedError
	if !errors.As(c.Err(), &rc) {
		t.Fatalf("err: got %v, want *RemoteClosedError", c.Err())
	}
	if rc.Err == nil || rc.Err.Condition != ErrCondConnectionForced {
		t.Errorf("condition: got %v, want %s", rc.Err, ErrCondConnectionForced)
	}
}

// TestConnIdleTimeout checks that a stalled peer times out after the
// negotiated idle timeout, whichever side offered it
func TestConnIdleTimeout(t *testing.T) {
	tests := []struct {
		name     string
		local    time.Duration
		remote   time.Duration
		wantIdle time.Duration
	}{
		{name: "local offer", local: 200 * time.Millisecond, wantIdle: 200 * time.Millisecond},
		{name: "peer offer only", remote: 200 * time.Millisecond, wantIdle: 200 * time.Millisecond},
		{name: "peer offer smaller", local: 5 * time.Second, remote: 200 * time.Millisecond, wantIdle: 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open := peerOpen()
			open.IdleTimeout = tt.remote
			c, p := dialRawPeer(t, open, WithIdleTimeout(tt.local))
			if got := c.IdleTimeout(); got != tt.wantIdle {
				t.Errorf("idle timeout: got %s, want %s", got, tt.wantIdle)
			}

			start := time.Now()
			f := p.expect(&protocol.Close{})
			cl := f.Body.(*protocol.Close)
			if cl.Error == nil || cl.Error.Condition != protocol.ErrCondResourceLimitExceeded {
				t.Errorf("close error: got %v, want %s", cl.Error, protocol.ErrCondResourceLimitExceeded)
			}
			if waited := time.Since(start); waited > 2*time.Second {
				t.Errorf("timed out after %s, want about %s", waited, tt.wantIdle)
			}

			select {
			case <-c.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("connection did not terminate")
			}
			if !errors.Is(c.Err(), ErrTimeout) {
				t.Errorf("err: got %v, want %v", c.Err(), ErrTimeout)
			}
		})
	}
}

// TestConnNegotiatedFrameSize checks that the smaller max-frame-size offer
// bounds frames in both directions
func TestConnNegotiatedFrameSize(t *testing.T) {
	t.Run("outgoing transfers are fragmented", func(t *testing.T) {
		c, p := dialRawPeer(t, peerOpen(), WithMaxFrameSize(512))
		if got := c.MaxFrameSize(); got != 512 {
			t.Fatalf("max frame size: got %d, want 512", got)
		}
		s := p.newSession(c, 0)
		ctx := testContext(t)

		attached := make(chan *Sender, 1)
		go func() {
			snd, err := s.NewSender(ctx, "queue")
			if err != nil {
				t.Errorf("new sender: %v", err)
			}
			attached <- snd
		}()
		f := p.expect(&protocol.Attach{})
		a := f.Body.(*protocol.Attach)
		p.send(0, &protocol.Attach{Name: a.Name, Handle: 0, Role: protocol.RoleReceiver, Source: a.Source, Target: a.Target})
		snd := <-attached
		if snd == nil {
			t.FailNow()
		}

		zero, one, handle := uint32(0), uint32(1), uint32(0)
		p.send(0, &protocol.Flow{
			NextIncomingID: &zero,
			IncomingWindow: 100,
			OutgoingWindow: 100,
			Handle:         &handle,
			DeliveryCount:  &zero,
			LinkCredit:     &one,
		})

		data := bytes.Repeat([]byte("x"), 3000)
		sent := make(chan error, 1)
		go func() { sent <- snd.Send(ctx, NewMessage(data)) }()

		var (
			payload []byte
			frames  int
		)
		for {
			f := p.expect(&protocol.Transfer{})
			b, err := frame.Encode(f)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if len(b) > 512 {
				t.Errorf("frame %d: got %d bytes, want at most 512", frames, len(b))
			}
			frames++
			payload = append(payload, f.Payload...)
			if !f.Body.(*protocol.Transfer).More {
				break
			}
		}
		if frames < 6 {
			t.Errorf("frames: got %d, want at least 6", frames)
		}
		m, err := protocol.UnmarshalMessage(payload)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !bytes.Equal(m.GetData(), data) {
			t.Error("reassembled payload differs")
		}

		p.send(0, &protocol.Disposition{Role: protocol.RoleReceiver, First: 0, Settled: true, State: &protocol.Accepted{}})
		if err := <-sent; err != nil {
			t.Errorf("send: %v", err)
		}
	})

	t.Run("oversized incoming frame", func(t *testing.T) {
		open := peerOpen()
		open.MaxFrameSize = 512
		c, p := dialRawPeer(t, open)
		if got := c.MaxFrameSize(); got != 512 {
			t.Fatalf("max frame size: got %d, want 512", got)
		}

		// within the client's own offer, above the negotiated size
		p.send(0, &protocol.Close{Error: NewError(ErrCondInternalError, "%s", strings.Repeat("e", 600))})

		f := p.expect(&protocol.Close{})
		cl := f.Body.(*protocol.Close)
		if cl.Error == nil || cl.Error.Condition != protocol.ErrCondFramingError {
			t.Errorf("close error: got %v, want %s", cl.Error, protocol.ErrCondFramingError)
		}
		<-c.Done()
	})
}

// TestConnHeartbeats checks that heartbeats keep an idle connection open
func TestConnHeartbeats(t *testing.T) {
	opts := []ConnOption{WithIdleTimeout(200 * time.Millisecond)}
	client, server := connPair(t, opts, opts)

	time.Sleep(700 * time.Millisecond)

	if err := client.Err(); err != nil {
		t.Errorf("client err: got %v, want nil", err)
	}
	if err := server.Err(); err != nil {
		t.Errorf("server err: got %v, want nil", err)
	}
}

// TestConnViolations checks the connection-level error for bad peer frames
func TestConnViolations(t *testing.T) {
	tests := []struct {
		name string
		send func(p *rawPeer)
		want ErrCond
	}{
		{
			name: "frame on unmapped channel",
			send: func(p *rawPeer) { p.send(5, &protocol.Flow{IncomingWindow: 10}) },
			want: protocol.ErrCondNotFound,
		},
		{
			name: "second open",
			send: func(p *rawPeer) { p.send(0, peerOpen()) },
			want: protocol.ErrCondIllegalState,
		},
		{
			name: "begin above channel max",
			send: func(p *rawPeer) { p.send(9, &protocol.Begin{IncomingWindow: 10, HandleMax: 1}) },
			want: protocol.ErrCondNotAllowed,
		},
		{
			name: "begin answering unknown channel",
			send: func(p *rawPeer) {
				ch := uint16(3)
				p.send(0, &protocol.Begin{RemoteChannel: &ch, IncomingWindow: 10})
			},
			want: protocol.ErrCondNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, p := dialRawPeer(t, peerOpen(), WithChannelMax(8))
			tt.send(p)

			f := p.expect(&protocol.Close{})
			cl := f.Body.(*protocol.Close)
			if cl.Error == nil || cl.Error.Condition != tt.want {
				t.Errorf("close error: got %v, want %s", cl.Error, tt.want)
			}

			<-c.Done()
			var v *ProtocolViolation
			if !errors.As(c.Err(), &v) {
				t.Fatalf("err: got %v, want *ProtocolViolation", c.Err())
			}
			if v.Scope != ScopeConnection {
				t.Errorf("scope: got %s, want %s", v.Scope, ScopeConnection)
			}
		})
	}
}

// TestServerRejectsHeader checks that an unsupported header is answered
// with the supported one before the transport closes
func TestServerRejectsHeader(t *testing.T) {
	ctx := testContext(t)
	a, b := newPipe()
	p := newRawPeer(t, a)

	errc := make(chan error, 1)
	go func() {
		_, err := NewServerConn(ctx, b, WithLogger(zaptest.NewLogger(t)))
		errc <- err
	}()

	p.writeHeader(frame.ProtocolHeader{ID: protocol.ProtocolIDAMQP, Major: 1, Minor: 1})
	h, err := p.r.ReadProtocolHeader()
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h != frame.HeaderAMQP {
		t.Errorf("header: got %s, want %s", h, frame.HeaderAMQP)
	}
	if err := <-errc; err == nil {
		t.Error("server handshake: got nil error")
	}
}

// TestSASL checks the PLAIN and ANONYMOUS exchanges
func TestSASL(t *testing.T) {
	auth := func(user, pass string) bool { return user == "guest" && pass == "secret" }

	tests := []struct {
		name       string
		clientOpts []ConnOption
		serverOpts []ConnOption
		wantErr    bool
	}{
		{
			name:       "plain",
			clientOpts: []ConnOption{WithCredentials("guest", "secret")},
			serverOpts: []ConnOption{WithSASLPlainServer(auth)},
		},
		{
			name:       "plain with wrong password",
			clientOpts: []ConnOption{WithCredentials("guest", "wrong")},
			serverOpts: []ConnOption{WithSASLPlainServer(auth)},
			wantErr:    true,
		},
		{
			name:       "anonymous",
			clientOpts: []ConnOption{WithSASLMechanism(SASLAnonymous)},
			serverOpts: []ConnOption{WithSASLAnonymousServer()},
		},
		{
			name:       "mechanism not offered",
			clientOpts: []ConnOption{WithSASLMechanism(SASLAnonymous)},
			serverOpts: []ConnOption{WithSASLPlainServer(auth)},
			wantErr:    true,
		},
		{
			name:       "sasl skipped",
			serverOpts: []ConnOption{WithSASLAnonymousServer()},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			a, b := newPipe()
			logger := zaptest.NewLogger(t)

			srv := make(chan error, 1)
			go func() {
				c, err := NewServerConn(ctx, b, append(tt.serverOpts, WithLogger(logger))...)
				if err == nil {
					defer func() { _ = c.Close(context.Background()) }()
				}
				srv <- err
			}()

			c, err := NewConn(ctx, a, append(tt.clientOpts, WithLogger(logger))...)
			if tt.wantErr {
				if err == nil {
					_ = c.Close(ctx)
					t.Fatal("client handshake: got nil error")
				}
				_ = a.Close()
				if serr := <-srv; serr == nil {
					t.Error("server handshake: got nil error")
				}
				return
			}
			if err != nil {
				t.Fatalf("client handshake: %v", err)
			}
			if serr := <-srv; serr != nil {
				t.Fatalf("server handshake: %v", serr)
			}
			if err := c.Close(ctx); err != nil {
				t.Errorf("close: %v", err)
			}
		})
	}
}

// TestSASLFailureCode checks that a refused login reports the outcome code
func TestSASLFailureCode(t *testing.T) {
	ctx := testContext(t)
	a, b := newPipe()

	go func() {
		_, _ = NewServerConn(ctx, b, WithSASLPlainServer(func(string, string) bool { return false }))
	}()

	_, err := NewConn(ctx, a, WithCredentials("guest", "guest"))
	var se *SASLError
	if !errors.As(err, &se) {
		t.Fatalf("err: got %v, want *SASLError", err)
	}
	if se.Code != protocol.SASLCodeAuth {
		t.Errorf("code: got %s, want %s", se.Code, protocol.SASLCodeAuth)
	}
}

// TestDialTCP opens a connection over a real TCP listener
func TestDialTCP(t *testing.T) {
	l, err := transport.ListenTCP("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	ctx := testContext(t)

	srv := make(chan *Conn, 1)
	go func() {
		rwc, err := l.Accept(ctx)
		if err != nil {
			t.Errorf("accept: %v", err)
			srv <- nil
			return
		}
		c, err := NewServerConn(ctx, rwc, WithContainerID("tcp-server"))
		if err != nil {
			t.Errorf("server handshake: %v", err)
		}
		srv <- c
	}()

	_, port, _ := net.SplitHostPort(l.Addr().String())
	c, err := Dial(ctx, "amqp://127.0.0.1:"+port+"?container_id=tcp-client", WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s := <-srv
	if s == nil {
		t.FailNow()
	}

	if got := c.RemoteContainerID(); got != "tcp-server" {
		t.Errorf("remote container: got %q, want %q", got, "tcp-server")
	}
	if got := s.RemoteContainerID(); got != "tcp-client" {
		t.Errorf("server remote container: got %q, want %q", got, "tcp-client")
	}
	if err := c.Close(ctx); err != nil {
		t.Errorf("close: %v", err)
	}
}

// TestDialInvalid checks configuration errors surface before dialing
func TestDialInvalid(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		opts []ConnOption
	}{
		{name: "bad scheme", uri: "http://localhost"},
		{name: "small frame size", uri: "amqp://localhost?max_frame_size=100"},
		{name: "plain without user", uri: "amqp://localhost?sasl=PLAIN"},
		{name: "bad port", uri: "amqp://localhost", opts: []ConnOption{WithPort(70000)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Dial(context.Background(), tt.uri, tt.opts...); err == nil {
				t.Errorf("dial %s: got nil error", tt.uri)
			}
		})
	}
}
