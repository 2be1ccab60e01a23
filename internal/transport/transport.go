// Package transport provides the byte-stream transports a connection runs
// over: TCP, TLS and a single bidirectional QUIC stream.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
)

// ALPN is the application protocol negotiated over TLS and QUIC
const ALPN = "amqp"

// Listener accepts inbound transports
type Listener interface {
	Accept(ctx context.Context) (io.ReadWriteCloser, error)
	Addr() net.Addr
	Close() error
}

// ErrListenerClosed is returned by Accept after Close
var ErrListenerClosed = errors.New("listener closed")

// DialTCP opens a plain TCP connection
func DialTCP(ctx context.Context, address string) (net.Conn, error) {
	d := &net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", address, err)
	}
	return c, nil
}

// DialTLS opens a TLS connection
func DialTLS(ctx context.Context, address string, conf *tls.Config) (net.Conn, error) {
	d := &tls.Dialer{Config: conf}
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial tls %s: %w", address, err)
	}
	return c, nil
}

type tcpListener struct {
	l net.Listener
}

// ListenTCP listens for TCP connections; a non-nil conf wraps them in TLS
func ListenTCP(address string, conf *tls.Config) (Listener, error) {
	var (
		l   net.Listener
		err error
	)
	if conf != nil {
		l, err = tls.Listen("tcp", address, conf)
	} else {
		l, err = net.Listen("tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}
	return &tcpListener{l: l}, nil
}

func (t *tcpListener) Addr() net.Addr { return t.l.Addr() }

func (t *tcpListener) Close() error { return t.l.Close() }

// Accept waits for the next connection or for ctx to end
func (t *tcpListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	type result struct {
		c   net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := t.l.Accept()
		ch <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		// unblock the pending Accept; the listener is unusable afterwards
		_ = t.l.Close()
		if r := <-ch; r.c != nil {
			_ = r.c.Close()
		}
		return nil, ctx.Err()
	case r := <-ch:
		if errors.Is(r.err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return r.c, r.err
	}
}
