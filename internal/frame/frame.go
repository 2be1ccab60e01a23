package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/israelio/amqp10-go-client/internal/encoding"
	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// Frame is a decoded AMQP or SASL frame. A nil Body is an empty frame,
// which peers send as a heartbeat.
type Frame struct {
	Type    uint8
	Channel uint16
	Body    protocol.Performative
	Payload []byte
}

// NewFrame creates an AMQP frame on a channel
func NewFrame(channel uint16, body protocol.Performative) *Frame {
	return &Frame{Type: protocol.FrameTypeAMQP, Channel: channel, Body: body}
}

// NewTransferFrame creates a transfer frame carrying a payload fragment
func NewTransferFrame(channel uint16, t *protocol.Transfer, payload []byte) *Frame {
	return &Frame{Type: protocol.FrameTypeAMQP, Channel: channel, Body: t, Payload: payload}
}

// NewSASLFrame creates a SASL frame
func NewSASLFrame(body protocol.Performative) *Frame {
	return &Frame{Type: protocol.FrameTypeSASL, Body: body}
}

// NewHeartbeatFrame creates an empty frame
func NewHeartbeatFrame() *Frame {
	return &Frame{Type: protocol.FrameTypeAMQP}
}

// IsHeartbeat reports whether the frame has no body
func (f *Frame) IsHeartbeat() bool {
	return f.Body == nil
}

// String returns a short description for logs
func (f *Frame) String() string {
	return fmt.Sprintf("frame{type=%d channel=%d body=%s payload=%d}", f.Type, f.Channel, protocol.Name(f.Body), len(f.Payload))
}

// isSASLBody reports whether a performative belongs to the SASL layer
func isSASLBody(p protocol.Performative) bool {
	switch p.(type) {
	case *protocol.SASLMechanisms, *protocol.SASLInit, *protocol.SASLChallenge,
		*protocol.SASLResponse, *protocol.SASLOutcome:
		return true
	}
	return false
}

// Encode serializes a frame into its wire form
func Encode(f *Frame) ([]byte, error) {
	e := encoding.NewEncoder(64)
	// header is filled in once the size is known
	buf := make([]byte, protocol.FrameHeaderSize, protocol.FrameHeaderSize+64+len(f.Payload))

	if f.Body != nil {
		if err := f.Body.MarshalAMQP(e); err != nil {
			return nil, fmt.Errorf("encode %s: %w", protocol.Name(f.Body), err)
		}
		buf = append(buf, e.Bytes()...)
		buf = append(buf, f.Payload...)
	} else if len(f.Payload) > 0 {
		return nil, errors.New("empty frame with payload")
	}

	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	buf[4] = protocol.FrameMinDataOffset
	buf[5] = f.Type
	binary.BigEndian.PutUint16(buf[6:8], f.Channel)
	return buf, nil
}

// Decode parses a complete frame, header included
func Decode(b []byte, strict bool) (*Frame, error) {
	if len(b) < protocol.FrameHeaderSize {
		return nil, &FramingError{Reason: "frame shorter than header", Size: uint32(len(b))}
	}
	size := binary.BigEndian.Uint32(b[0:4])
	if int(size) != len(b) {
		return nil, &FramingError{Reason: "frame size does not match buffer", Size: size}
	}
	doff := int(b[4])
	if doff < protocol.FrameMinDataOffset || doff*4 > len(b) {
		return nil, &FramingError{Reason: fmt.Sprintf("invalid data offset %d", doff), Size: size}
	}
	f := &Frame{
		Type:    b[5],
		Channel: binary.BigEndian.Uint16(b[6:8]),
	}
	if f.Type != protocol.FrameTypeAMQP && f.Type != protocol.FrameTypeSASL {
		return nil, &FramingError{Reason: fmt.Sprintf("unknown frame type 0x%02x", f.Type), Size: size}
	}

	body := b[doff*4:]
	if len(body) == 0 {
		if f.Type == protocol.FrameTypeSASL {
			return nil, &FramingError{Reason: "empty sasl frame", Size: size}
		}
		return f, nil
	}

	d := encoding.NewDecoder(body)
	d.SetStrict(strict)
	v, err := d.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode frame body: %w", err)
	}
	if f.Body, err = protocol.DecodePerformative(v); err != nil {
		return nil, fmt.Errorf("decode frame body: %w", err)
	}
	sasl := isSASLBody(f.Body)
	if sasl != (f.Type == protocol.FrameTypeSASL) {
		return nil, &FramingError{Reason: fmt.Sprintf("%s in frame type 0x%02x", protocol.Name(f.Body), f.Type), Size: size}
	}

	if rest := d.Remaining(); len(rest) > 0 {
		if _, ok := f.Body.(*protocol.Transfer); !ok {
			return nil, &FramingError{Reason: fmt.Sprintf("%d trailing bytes after %s", len(rest), protocol.Name(f.Body)), Size: size}
		}
		f.Payload = rest
	}
	return f, nil
}
