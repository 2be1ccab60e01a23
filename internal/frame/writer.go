package frame

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// Writer writes AMQP frames to a connection. Each frame is written whole
// under a lock, so frames from concurrent callers never interleave.
type Writer struct {
	w        *bufio.Writer
	mu       sync.Mutex
	maxFrame uint32
}

// NewWriter creates a new frame writer bounded by the peer's max frame size
func NewWriter(w io.Writer, maxFrameSize uint32) *Writer {
	if maxFrameSize < protocol.MinMaxFrameSize {
		maxFrameSize = protocol.MinMaxFrameSize
	}

	return &Writer{
		w:        bufio.NewWriterSize(w, 4096),
		maxFrame: maxFrameSize,
	}
}

// WriteFrame writes a single frame to the connection
func (fw *Writer) WriteFrame(frame *Frame) error {
	buf, err := Encode(frame)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if uint32(len(buf)) > fw.maxFrame {
		return &FramingError{Reason: "frame exceeds peer max frame size", Size: uint32(len(buf)), Max: fw.maxFrame}
	}
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := fw.w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}

	return nil
}

// WriteProtocolHeader writes a protocol header
func (fw *Writer) WriteProtocolHeader(h ProtocolHeader) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(h.Bytes()); err != nil {
		return fmt.Errorf("write protocol header: %w", err)
	}

	if err := fw.w.Flush(); err != nil {
		return fmt.Errorf("flush protocol header: %w", err)
	}

	return nil
}

// SetMaxFrameSize updates the maximum frame size
func (fw *Writer) SetMaxFrameSize(size uint32) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if size >= protocol.MinMaxFrameSize {
		fw.maxFrame = size
	}
}

// MaxFrameSize returns the current maximum frame size
func (fw *Writer) MaxFrameSize() uint32 {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	return fw.maxFrame
}

// Overhead returns the encoded size of a frame without its payload
func Overhead(channel uint16, t *protocol.Transfer) (int, error) {
	buf, err := Encode(NewTransferFrame(channel, t, nil))
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}
