package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// Reader reads AMQP frames from a connection
type Reader struct {
	r         *bufio.Reader
	maxFrame  uint32
	strict    bool
	headerBuf [protocol.FrameHeaderSize]byte
}

// NewReader creates a new frame reader that rejects frames above maxFrameSize
func NewReader(r io.Reader, maxFrameSize uint32) *Reader {
	if maxFrameSize < protocol.MinMaxFrameSize {
		maxFrameSize = protocol.MinMaxFrameSize
	}

	return &Reader{
		r:        bufio.NewReaderSize(r, 4096),
		maxFrame: maxFrameSize,
	}
}

// ReadFrame reads a single frame. A clean end of stream between frames
// returns io.EOF; a stream that ends mid-frame returns a FramingError
// wrapping io.ErrUnexpectedEOF.
func (fr *Reader) ReadFrame() (*Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.headerBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &FramingError{Reason: "truncated frame header", Err: unexpected(err)}
	}

	size := binary.BigEndian.Uint32(fr.headerBuf[0:4])
	if size < protocol.FrameHeaderSize {
		return nil, &FramingError{Reason: "frame size below header size", Size: size}
	}
	if size > fr.maxFrame {
		return nil, &FramingError{Reason: "frame exceeds max frame size", Size: size, Max: fr.maxFrame}
	}
	doff := fr.headerBuf[4]
	if doff < protocol.FrameMinDataOffset || uint32(doff)*4 > size {
		return nil, &FramingError{Reason: fmt.Sprintf("invalid data offset %d", doff), Size: size}
	}

	buf := make([]byte, size)
	copy(buf, fr.headerBuf[:])
	if _, err := io.ReadFull(fr.r, buf[protocol.FrameHeaderSize:]); err != nil {
		return nil, &FramingError{Reason: "truncated frame body", Size: size, Err: unexpected(err)}
	}

	return Decode(buf, fr.strict)
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadProtocolHeader reads the 8 byte protocol header
func (fr *Reader) ReadProtocolHeader() (ProtocolHeader, error) {
	var b [8]byte
	if _, err := io.ReadFull(fr.r, b[:]); err != nil {
		return ProtocolHeader{}, fmt.Errorf("read protocol header: %w", err)
	}
	return ParseProtocolHeader(b[:])
}

// SetMaxFrameSize updates the maximum accepted frame size
func (fr *Reader) SetMaxFrameSize(size uint32) {
	if size >= protocol.MinMaxFrameSize {
		fr.maxFrame = size
	}
}

// SetStrict makes the reader reject unregistered descriptors
func (fr *Reader) SetStrict(strict bool) {
	fr.strict = strict
}
