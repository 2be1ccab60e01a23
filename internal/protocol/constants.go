package protocol

import "github.com/israelio/amqp10-go-client/internal/encoding"

// AMQP protocol version
const (
	ProtocolVersionMajor    = 1
	ProtocolVersionMinor    = 0
	ProtocolVersionRevision = 0
)

// Protocol ids carried in the protocol header
const (
	ProtocolIDAMQP = 0
	ProtocolIDTLS  = 2
	ProtocolIDSASL = 3
)

// Frame types
const (
	FrameTypeAMQP = 0x00
	FrameTypeSASL = 0x01
)

// Frame limits
const (
	FrameHeaderSize     = 8
	FrameMinDataOffset  = 2
	MinMaxFrameSize     = 512
	DefaultMaxFrameSize = 65536
	DefaultChannelMax   = 65535
	DefaultHandleMax    = 4294967295
)

// Default ports
const (
	DefaultPort       = 5672
	DefaultSecurePort = 5671
)

// MaxDeliveryTagSize is the largest delivery-tag in bytes
const MaxDeliveryTagSize = 32

// MessageFormat is the message-format value for standard AMQP messages
const MessageFormat uint32 = 0

// Performative descriptors
const (
	DescriptorOpen        uint64 = 0x10
	DescriptorBegin       uint64 = 0x11
	DescriptorAttach      uint64 = 0x12
	DescriptorFlow        uint64 = 0x13
	DescriptorTransfer    uint64 = 0x14
	DescriptorDisposition uint64 = 0x15
	DescriptorDetach      uint64 = 0x16
	DescriptorEnd         uint64 = 0x17
	DescriptorClose       uint64 = 0x18
)

// Definition, delivery state and terminus descriptors
const (
	DescriptorError    uint64 = 0x1d
	DescriptorReceived uint64 = 0x23
	DescriptorAccepted uint64 = 0x24
	DescriptorRejected uint64 = 0x25
	DescriptorReleased uint64 = 0x26
	DescriptorModified uint64 = 0x27
	DescriptorSource   uint64 = 0x28
	DescriptorTarget   uint64 = 0x29

	DescriptorDeleteOnClose             uint64 = 0x2b
	DescriptorDeleteOnNoLinks           uint64 = 0x2c
	DescriptorDeleteOnNoMessages        uint64 = 0x2d
	DescriptorDeleteOnNoLinksOrMessages uint64 = 0x2e
)

// Message section descriptors
const (
	DescriptorHeader                uint64 = 0x70
	DescriptorDeliveryAnnotations   uint64 = 0x71
	DescriptorMessageAnnotations    uint64 = 0x72
	DescriptorProperties            uint64 = 0x73
	DescriptorApplicationProperties uint64 = 0x74
	DescriptorData                  uint64 = 0x75
	DescriptorAMQPSequence          uint64 = 0x76
	DescriptorAMQPValue             uint64 = 0x77
	DescriptorFooter                uint64 = 0x78
)

// SASL frame descriptors
const (
	DescriptorSASLMechanisms uint64 = 0x40
	DescriptorSASLInit       uint64 = 0x41
	DescriptorSASLChallenge  uint64 = 0x42
	DescriptorSASLResponse   uint64 = 0x43
	DescriptorSASLOutcome    uint64 = 0x44
)

func init() {
	for code, name := range map[uint64]encoding.Symbol{
		DescriptorOpen:        "amqp:open:list",
		DescriptorBegin:       "amqp:begin:list",
		DescriptorAttach:      "amqp:attach:list",
		DescriptorFlow:        "amqp:flow:list",
		DescriptorTransfer:    "amqp:transfer:list",
		DescriptorDisposition: "amqp:disposition:list",
		DescriptorDetach:      "amqp:detach:list",
		DescriptorEnd:         "amqp:end:list",
		DescriptorClose:       "amqp:close:list",

		DescriptorError:    "amqp:error:list",
		DescriptorReceived: "amqp:received:list",
		DescriptorAccepted: "amqp:accepted:list",
		DescriptorRejected: "amqp:rejected:list",
		DescriptorReleased: "amqp:released:list",
		DescriptorModified: "amqp:modified:list",
		DescriptorSource:   "amqp:source:list",
		DescriptorTarget:   "amqp:target:list",

		DescriptorDeleteOnClose:             "amqp:delete-on-close:list",
		DescriptorDeleteOnNoLinks:           "amqp:delete-on-no-links:list",
		DescriptorDeleteOnNoMessages:        "amqp:delete-on-no-messages:list",
		DescriptorDeleteOnNoLinksOrMessages: "amqp:delete-on-no-links-or-messages:list",

		DescriptorHeader:                "amqp:header:list",
		DescriptorDeliveryAnnotations:   "amqp:delivery-annotations:map",
		DescriptorMessageAnnotations:    "amqp:message-annotations:map",
		DescriptorProperties:            "amqp:properties:list",
		DescriptorApplicationProperties: "amqp:application-properties:map",
		DescriptorData:                  "amqp:data:binary",
		DescriptorAMQPSequence:          "amqp:amqp-sequence:list",
		DescriptorAMQPValue:             "amqp:amqp-value:*",
		DescriptorFooter:                "amqp:footer:map",

		DescriptorSASLMechanisms: "amqp:sasl-mechanisms:list",
		DescriptorSASLInit:       "amqp:sasl-init:list",
		DescriptorSASLChallenge:  "amqp:sasl-challenge:list",
		DescriptorSASLResponse:   "amqp:sasl-response:list",
		DescriptorSASLOutcome:    "amqp:sasl-outcome:list",
	} {
		encoding.RegisterDescriptor(code, name)
	}
}
