package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when a decode is attempted on a buffer shorter
// than the minimum size of the packet. Callers should treat it as a malformed
// inbound datagram, never as a fatal condition.
var ErrShortBuffer = errors.New("buffer too short")

// ErrPacketType is returned when the leading type byte does not match the
// packet a decode function expects.
var ErrPacketType = errors.New("unexpected packet type")

const angleScale = 10000.0

// QuantizeYaw converts yaw in radians to the wrapping fixed-point
// representation of the wire format: round(yaw * 10000) mod 65536,
// reinterpreted as a signed 16-bit value.
func QuantizeYaw(yaw float64) int16 {
	q := int64(math.Round(yaw*angleScale)) % 65536
	if q < 0 {
		q += 65536
	}
	if q > 32767 {
		q -= 65536
	}
	return int16(q)
}

// QuantizePitch converts pitch in radians to fixed-point i16 without the
// modulo wrap applied to yaw. Pitch has a bounded physical range on the
// server, so the wire schema truncates instead of wrapping; the asymmetry
// is intentional and must be preserved.
func QuantizePitch(pitch float64) int16 {
	return int16(int64(math.Round(pitch * angleScale)))
}

// DequantizeAngle recovers radians from the fixed-point wire value.
func DequantizeAngle(q int16) float64 {
	return float64(q) / angleScale
}

// EncodeConnectionRequest builds the 13-byte handshake packet.
func EncodeConnectionRequest(req ConnectionRequest) []byte {
	buf := make([]byte, ConnectionRequestSize)
	buf[0] = PacketTypeConnectionRequest
	binary.LittleEndian.PutUint32(buf[1:5], req.ProtocolVersion)
	binary.LittleEndian.PutUint64(buf[5:13], req.PlayerID)
	return buf
}

// DecodeConnectionRequest parses a handshake packet. Used by the loopback
// test server; real clients only ever encode this packet.
func DecodeConnectionRequest(data []byte) (ConnectionRequest, error) {
	if len(data) < ConnectionRequestSize {
		return ConnectionRequest{}, fmt.Errorf("connection request: %w (%d bytes)", ErrShortBuffer, len(data))
	}
	if data[0] != PacketTypeConnectionRequest {
		return ConnectionRequest{}, fmt.Errorf("connection request: %w (type %d)", ErrPacketType, data[0])
	}
	return ConnectionRequest{
		ProtocolVersion: binary.LittleEndian.Uint32(data[1:5]),
		PlayerID:        binary.LittleEndian.Uint64(data[5:13]),
	}, nil
}

// EncodeConnectionResponse builds the 18-byte handshake answer.
func EncodeConnectionResponse(resp ConnectionResponse) []byte {
	buf := make([]byte, ConnectionResponseSize)
	buf[0] = PacketTypeConnectionResponse
	if resp.Success {
		buf[1] = 1
	}
	binary.LittleEndian.PutUint32(buf[2:6], resp.ConnectionID)
	binary.LittleEndian.PutUint32(buf[6:10], resp.EntityID)
	binary.LittleEndian.PutUint32(buf[10:14], resp.ServerTick)
	binary.LittleEndian.PutUint32(buf[14:18], resp.ServerTimeMs)
	return buf
}

// DecodeConnectionResponse parses the server's handshake answer.
func DecodeConnectionResponse(data []byte) (ConnectionResponse, error) {
	if len(data) < ConnectionResponseSize {
		return ConnectionResponse{}, fmt.Errorf("connection response: %w (%d bytes)", ErrShortBuffer, len(data))
	}
	if data[0] != PacketTypeConnectionResponse {
		return ConnectionResponse{}, fmt.Errorf("connection response: %w (type %d)", ErrPacketType, data[0])
	}
	return ConnectionResponse{
		Success:      data[1] != 0,
		ConnectionID: binary.LittleEndian.Uint32(data[2:6]),
		EntityID:     binary.LittleEndian.Uint32(data[6:10]),
		ServerTick:   binary.LittleEndian.Uint32(data[10:14]),
		ServerTimeMs: binary.LittleEndian.Uint32(data[14:18]),
	}, nil
}

// EncodeClientInput builds the 20-byte input packet, quantizing yaw and
// pitch to the fixed-point wire representation.
func EncodeClientInput(in ClientInput) []byte {
	buf := make([]byte, ClientInputSize)
	buf[0] = PacketTypeClientInput
	binary.LittleEndian.PutUint32(buf[1:5], in.Sequence)
	binary.LittleEndian.PutUint32(buf[5:9], in.TimestampMs)
	buf[9] = uint8(in.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(QuantizeYaw(in.Yaw)))
	binary.LittleEndian.PutUint16(buf[12:14], uint16(QuantizePitch(in.Pitch)))
	// Bytes 14:16 are alignment padding; targetEntity sits at offset 16.
	binary.LittleEndian.PutUint32(buf[16:20], in.TargetEntity)
	return buf
}

// DecodeClientInput parses an input packet. Yaw and Pitch come back as the
// dequantized radians, accurate to one quantization unit (0.0001 rad).
func DecodeClientInput(data []byte) (ClientInput, error) {
	if len(data) < ClientInputSize {
		return ClientInput{}, fmt.Errorf("client input: %w (%d bytes)", ErrShortBuffer, len(data))
	}
	if data[0] != PacketTypeClientInput {
		return ClientInput{}, fmt.Errorf("client input: %w (type %d)", ErrPacketType, data[0])
	}
	return ClientInput{
		Sequence:     binary.LittleEndian.Uint32(data[1:5]),
		TimestampMs:  binary.LittleEndian.Uint32(data[5:9]),
		Flags:        InputFlags(data[9]),
		Yaw:          DequantizeAngle(int16(binary.LittleEndian.Uint16(data[10:12]))),
		Pitch:        DequantizeAngle(int16(binary.LittleEndian.Uint16(data[12:14]))),
		TargetEntity: binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}

// EncodeSnapshotHeader builds the 17-byte snapshot header. Only the loopback
// test server uses this; a real server appends the entity payload.
func EncodeSnapshotHeader(h SnapshotHeader) []byte {
	buf := make([]byte, SnapshotHeaderSize)
	buf[0] = PacketTypeServerSnapshot
	binary.LittleEndian.PutUint32(buf[1:5], h.ServerTick)
	binary.LittleEndian.PutUint32(buf[5:9], h.BaselineTick)
	binary.LittleEndian.PutUint32(buf[9:13], h.ServerTimeMs)
	binary.LittleEndian.PutUint32(buf[13:17], h.LastProcessedInput)
	return buf
}

// DecodeSnapshotHeader parses the fixed snapshot prefix and ignores the
// variable entity payload that may follow.
func DecodeSnapshotHeader(data []byte) (SnapshotHeader, error) {
	if len(data) < SnapshotHeaderSize {
		return SnapshotHeader{}, fmt.Errorf("snapshot header: %w (%d bytes)", ErrShortBuffer, len(data))
	}
	if data[0] != PacketTypeServerSnapshot {
		return SnapshotHeader{}, fmt.Errorf("snapshot header: %w (type %d)", ErrPacketType, data[0])
	}
	return SnapshotHeader{
		ServerTick:         binary.LittleEndian.Uint32(data[1:5]),
		BaselineTick:       binary.LittleEndian.Uint32(data[5:9]),
		ServerTimeMs:       binary.LittleEndian.Uint32(data[9:13]),
		LastProcessedInput: binary.LittleEndian.Uint32(data[13:17]),
	}, nil
}
