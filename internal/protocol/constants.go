package protocol

// Node address space. Identifiers are a single byte: 0 is the gateway,
// 1-254 are sensor nodes, 0xFF is never a real node.
const (
	GatewayAddress byte = 0x00

	// BroadcastAddress is the wire destination for one-hop broadcasts.
	// IDUnassigned is the identity sentinel for a node that has not been
	// assigned an identifier yet. They share a value but mean different
	// things; keep them separate so the code says which one it means.
	BroadcastAddress byte = 0xFF
	IDUnassigned     byte = 0xFF

	// NodeSensorID addresses the node itself rather than one of its
	// attached child sensors.
	NodeSensorID byte = 0xFF
)

// Radio pipes. The transceiver listens for unicast traffic on one pipe
// and for broadcasts on another.
const (
	WritePipe       byte = 0
	CurrentNodePipe byte = 1
	BroadcastPipe   byte = 2
)

// Frame sizing. MTU is the transceiver's maximum transfer unit; it is
// sized for nRF24-class radios but everything below derives from it.
const (
	MTU            = 32
	HeaderSize     = 7
	ChecksumSize   = 1
	MaxPayloadSize = MTU - HeaderSize - ChecksumSize
)

// Message types.
const (
	TypePresentation byte = 0
	TypeSet          byte = 1
	TypeRequest      byte = 2
	TypeInternal     byte = 3
	TypeStream       byte = 4
)

// Internal message subtypes. These carry the protocol's own control
// traffic: identity assignment, parent discovery, time and config
// distribution, node metadata.
const (
	InternalBatteryLevel       byte = 0
	InternalTime               byte = 1
	InternalVersion            byte = 2
	InternalIDRequest          byte = 3
	InternalIDResponse         byte = 4
	InternalConfig             byte = 6
	InternalFindParent         byte = 7
	InternalFindParentResponse byte = 8
	InternalSketchName         byte = 11
	InternalSketchVersion      byte = 12
)

// Flag bits (envelope byte 6).
const (
	flagAckRequested byte = 1 << 0
	flagIsAck        byte = 1 << 1
)
