package amqp

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/israelio/amqp10-go-client/internal/frame"
	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// saslClient authenticates with mech before the AMQP header exchange
func (c *Conn) saslClient(mech string) error {
	if err := c.writer.WriteProtocolHeader(frame.HeaderSASL); err != nil {
		return err
	}
	h, err := c.reader.ReadProtocolHeader()
	if err != nil {
		return err
	}
	if h != frame.HeaderSASL {
		return fmt.Errorf("sasl: peer answered with header %s", h)
	}

	body, err := c.readSASLFrame()
	if err != nil {
		return err
	}
	mechs, ok := body.(*protocol.SASLMechanisms)
	if !ok {
		return fmt.Errorf("sasl: expected mechanisms, got %s", protocol.Name(body))
	}
	if !slices.Contains(mechs.Mechanisms, Symbol(mech)) {
		return fmt.Errorf("sasl: mechanism %s not offered by peer %v", mech, mechs.Mechanisms)
	}

	init := &protocol.SASLInit{Mechanism: Symbol(mech), Hostname: c.factory.Hostname}
	if mech == SASLPlain {
		init.InitialResponse = []byte("\x00" + c.factory.Username + "\x00" + c.factory.Password)
	}
	if err := c.writer.WriteFrame(frame.NewSASLFrame(init)); err != nil {
		return err
	}

	for {
		body, err := c.readSASLFrame()
		if err != nil {
			return err
		}
		switch b := body.(type) {
		case *protocol.SASLOutcome:
			if b.Code != protocol.SASLCodeOK {
				return &SASLError{Code: b.Code}
			}
			c.logger.Debug("sasl authenticated")
			return nil
		case *protocol.SASLChallenge:
			// neither ANONYMOUS nor PLAIN defines a challenge
			return fmt.Errorf("sasl: unexpected challenge for %s", mech)
		default:
			return fmt.Errorf("sasl: unexpected %s", protocol.Name(body))
		}
	}
}

// saslServer offers the configured mechanisms and checks the client's init
func (c *Conn) saslServer() error {
	if err := c.writer.WriteProtocolHeader(frame.HeaderSASL); err != nil {
		return err
	}

	var mechs []Symbol
	if c.factory.SASLPlainAuth != nil {
		mechs = append(mechs, protocol.SASLMechanismPlain)
	}
	if c.factory.SASLAllowAnonymous {
		mechs = append(mechs, protocol.SASLMechanismAnonymous)
	}
	if err := c.writer.WriteFrame(frame.NewSASLFrame(&protocol.SASLMechanisms{Mechanisms: mechs})); err != nil {
		return err
	}

	body, err := c.readSASLFrame()
	if err != nil {
		return err
	}
	init, ok := body.(*protocol.SASLInit)
	if !ok {
		return fmt.Errorf("sasl: expected init, got %s", protocol.Name(body))
	}

	code := protocol.SASLCodeAuth
	switch init.Mechanism {
	case protocol.SASLMechanismPlain:
		if c.factory.SASLPlainAuth != nil {
			if user, pass, ok := parsePlain(init.InitialResponse); ok && c.factory.SASLPlainAuth(user, pass) {
				code = protocol.SASLCodeOK
			}
		}
	case protocol.SASLMechanismAnonymous:
		if c.factory.SASLAllowAnonymous {
			code = protocol.SASLCodeOK
		}
	}

	if err := c.writer.WriteFrame(frame.NewSASLFrame(&protocol.SASLOutcome{Code: code})); err != nil {
		return err
	}
	if code != protocol.SASLCodeOK {
		return &SASLError{Code: code}
	}
	return nil
}

func (c *Conn) readSASLFrame() (protocol.Performative, error) {
	f, err := c.reader.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("sasl: %w", err)
	}
	if f.Type != protocol.FrameTypeSASL {
		return nil, fmt.Errorf("sasl: %s outside a sasl frame", protocol.Name(f.Body))
	}
	return f.Body, nil
}

// parsePlain splits a PLAIN response: authzid NUL authcid NUL passwd
func parsePlain(resp []byte) (user, pass string, ok bool) {
	parts := bytes.Split(resp, []byte{0})
	if len(parts) != 3 {
		return "", "", false
	}
	return string(parts[1]), string(parts[2]), true
}
