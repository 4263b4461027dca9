package protocol

// PacketType is the leading byte of every datagram exchanged with the
// DarkAges server.
type PacketType = uint8

const (
	PacketTypeClientInput        PacketType = 1
	PacketTypeServerSnapshot     PacketType = 2
	PacketTypeConnectionRequest  PacketType = 3
	PacketTypeConnectionResponse PacketType = 4
	PacketTypeEvent              PacketType = 5
	PacketTypeServerCorrection   PacketType = 6
)

// ProtocolVersion must match SharedConstants::PROTOCOL_VERSION on the server.
const ProtocolVersion uint32 = 1

// Fixed wire sizes of the packets this tool builds or parses. Snapshots,
// corrections and events carry a variable entity payload after their header
// which is only length-counted, never parsed.
const (
	ConnectionRequestSize  = 13
	ConnectionResponseSize = 18
	ClientInputSize        = 20
	SnapshotHeaderSize     = 17
)

// InputFlags is the single-byte bitmask of the ClientInput packet.
type InputFlags uint8

const (
	InputForward  InputFlags = 0x01
	InputBackward InputFlags = 0x02
	InputLeft     InputFlags = 0x04
	InputRight    InputFlags = 0x08
	InputJump     InputFlags = 0x10
	InputAttack   InputFlags = 0x20
	InputBlock    InputFlags = 0x40
	InputSprint   InputFlags = 0x80
)

// Has reports whether all bits of flag are set.
func (f InputFlags) Has(flag InputFlags) bool {
	return f&flag == flag
}

// ConnectionRequest is the handshake packet a client sends once per session.
// Layout: [type:u8=3][protocolVersion:u32][playerID:u64], little endian.
type ConnectionRequest struct {
	ProtocolVersion uint32
	PlayerID        uint64
}

// ConnectionResponse is the server's answer to a ConnectionRequest.
// Layout: [type:u8=4][success:u8][connectionID:u32][entityID:u32][serverTick:u32][serverTimeMs:u32].
type ConnectionResponse struct {
	Success      bool
	ConnectionID uint32
	EntityID     uint32
	ServerTick   uint32
	ServerTimeMs uint32
}

// ClientInput carries one tick of player intent. Yaw and Pitch are radians
// and are quantized to fixed-point i16 on the wire.
// Layout: [type:u8=1][sequence:u32][timestampMs:u32][inputFlags:u8][yawQ:i16][pitchQ:i16][pad:2][targetEntity:u32].
type ClientInput struct {
	Sequence     uint32
	TimestampMs  uint32
	Flags        InputFlags
	Yaw          float64
	Pitch        float64
	TargetEntity uint32
}

// SnapshotHeader is the fixed prefix of a ServerSnapshot packet. The entity
// payload that follows is outside the scope of this tool.
// Layout: [type:u8=2][serverTick:u32][baselineTick:u32][serverTimeMs:u32][lastProcessedInput:u32].
type SnapshotHeader struct {
	ServerTick         uint32
	BaselineTick       uint32
	ServerTimeMs       uint32
	LastProcessedInput uint32
}
