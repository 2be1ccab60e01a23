package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"
)

// quicStream carries a connection over one bidirectional QUIC stream.
// Closing it closes the whole QUIC connection.
type quicStream struct {
	quicgo.Stream
	conn quicgo.Connection
}

func (s *quicStream) Close() error {
	err := s.Stream.Close()
	if cerr := s.conn.CloseWithError(0, ""); err == nil {
		err = cerr
	}
	return err
}

// DialQUIC opens a QUIC connection and its single stream
func DialQUIC(ctx context.Context, address string, conf *tls.Config) (io.ReadWriteCloser, error) {
	conf = withALPN(conf)
	c, err := quicgo.DialAddr(ctx, address, conf, &quicgo.Config{KeepAlivePeriod: 15 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("dial quic %s: %w", address, err)
	}
	st, err := c.OpenStreamSync(ctx)
	if err != nil {
		_ = c.CloseWithError(0, "")
		return nil, fmt.Errorf("open quic stream: %w", err)
	}
	return &quicStream{Stream: st, conn: c}, nil
}

type quicListener struct {
	l *quicgo.Listener
}

// ListenQUIC listens for QUIC connections. The peer must write first for
// its stream to be accepted, which the AMQP protocol header guarantees.
func ListenQUIC(address string, conf *tls.Config) (Listener, error) {
	l, err := quicgo.ListenAddr(address, withALPN(conf), &quicgo.Config{})
	if err != nil {
		return nil, fmt.Errorf("listen quic %s: %w", address, err)
	}
	return &quicListener{l: l}, nil
}

func (q *quicListener) Addr() net.Addr { return q.l.Addr() }

func (q *quicListener) Close() error { return q.l.Close() }

// Accept waits for the next connection and its first stream
func (q *quicListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	c, err := q.l.Accept(ctx)
	if err != nil {
		if errors.Is(err, quicgo.ErrServerClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	st, err := c.AcceptStream(ctx)
	if err != nil {
		_ = c.CloseWithError(0, "")
		return nil, fmt.Errorf("accept quic stream: %w", err)
	}
	return &quicStream{Stream: st, conn: c}, nil
}

func withALPN(conf *tls.Config) *tls.Config {
	if conf == nil {
		conf = &tls.Config{}
	}
	conf = conf.Clone()
	if len(conf.NextProtos) == 0 {
		conf.NextProtos = []string{ALPN}
	}
	if conf.MinVersion < tls.VersionTLS13 {
		conf.MinVersion = tls.VersionTLS13
	}
	return conf
}

// SelfSignedTLS returns a server TLS config with an ephemeral certificate
// for localhost, and a client config that trusts it
func SelfSignedTLS() (server, client *tls.Config, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}},
		NextProtos:   []string{ALPN},
	}
	client = &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
		NextProtos: []string{ALPN},
	}
	return server, client, nil
}
