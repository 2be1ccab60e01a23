package frame

import (
	"bytes"
	"fmt"

	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// ProtocolHeader is the 8 byte preamble that opens each protocol layer
type ProtocolHeader struct {
	ID       uint8
	Major    uint8
	Minor    uint8
	Revision uint8
}

// Protocol headers for the AMQP and SASL layers
var (
	HeaderAMQP = ProtocolHeader{ID: protocol.ProtocolIDAMQP, Major: protocol.ProtocolVersionMajor, Minor: protocol.ProtocolVersionMinor, Revision: protocol.ProtocolVersionRevision}
	HeaderSASL = ProtocolHeader{ID: protocol.ProtocolIDSASL, Major: protocol.ProtocolVersionMajor, Minor: protocol.ProtocolVersionMinor, Revision: protocol.ProtocolVersionRevision}
)

// Bytes returns the wire form of the header
func (h ProtocolHeader) Bytes() []byte {
	return []byte{'A', 'M', 'Q', 'P', h.ID, h.Major, h.Minor, h.Revision}
}

// String returns a string representation of the header
func (h ProtocolHeader) String() string {
	return fmt.Sprintf("AMQP-%d-%d.%d.%d", h.ID, h.Major, h.Minor, h.Revision)
}

// ParseProtocolHeader parses an 8 byte protocol header
func ParseProtocolHeader(b []byte) (ProtocolHeader, error) {
	if len(b) != 8 || !bytes.Equal(b[:4], []byte("AMQP")) {
		return ProtocolHeader{}, &FramingError{Reason: fmt.Sprintf("invalid protocol header %q", b)}
	}
	return ProtocolHeader{ID: b[4], Major: b[5], Minor: b[6], Revision: b[7]}, nil
}
