package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeConnectionRequestSize(t *testing.T) {
	data := EncodeConnectionRequest(ConnectionRequest{
		ProtocolVersion: ProtocolVersion,
		PlayerID:        0xDEADBEEFCAFEBABE,
	})
	assert.Len(t, data, ConnectionRequestSize)
	assert.Equal(t, PacketTypeConnectionRequest, data[0])
}

func TestConnectionRequestRoundTrip(t *testing.T) {
	original := ConnectionRequest{ProtocolVersion: 1, PlayerID: 42}
	decoded, err := DecodeConnectionRequest(EncodeConnectionRequest(original))
	assert.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestConnectionResponseRoundTrip(t *testing.T) {
	original := ConnectionResponse{
		Success:      true,
		ConnectionID: 7,
		EntityID:     1001,
		ServerTick:   123456,
		ServerTimeMs: 789,
	}
	data := EncodeConnectionResponse(original)
	assert.Len(t, data, ConnectionResponseSize)

	decoded, err := DecodeConnectionResponse(data)
	assert.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestConnectionResponseRejection(t *testing.T) {
	decoded, err := DecodeConnectionResponse(EncodeConnectionResponse(ConnectionResponse{Success: false}))
	assert.NoError(t, err)
	assert.False(t, decoded.Success)
}

func TestEncodeClientInputSize(t *testing.T) {
	inputs := []ClientInput{
		{},
		{Sequence: math.MaxUint32, TimestampMs: math.MaxUint32, Flags: 0xFF,
			Yaw: 2 * math.Pi, Pitch: -math.Pi / 2, TargetEntity: math.MaxUint32},
		{Yaw: -100, Pitch: 100},
	}
	for _, in := range inputs {
		assert.Len(t, EncodeClientInput(in), ClientInputSize)
	}
}

func TestClientInputRoundTrip(t *testing.T) {
	original := ClientInput{
		Sequence:     99,
		TimestampMs:  123456,
		Flags:        InputForward | InputSprint | InputJump,
		Yaw:          1.2345,
		Pitch:        -0.4321,
		TargetEntity: 314,
	}
	decoded, err := DecodeClientInput(EncodeClientInput(original))
	assert.NoError(t, err)

	assert.Equal(t, original.Sequence, decoded.Sequence)
	assert.Equal(t, original.TimestampMs, decoded.TimestampMs)
	assert.Equal(t, original.Flags, decoded.Flags)
	assert.Equal(t, original.TargetEntity, decoded.TargetEntity)
	assert.InDelta(t, original.Yaw, decoded.Yaw, 0.0001)
	assert.InDelta(t, original.Pitch, decoded.Pitch, 0.0001)
}

func TestInputFlagsRoundTrip(t *testing.T) {
	all := []InputFlags{
		InputForward, InputBackward, InputLeft, InputRight,
		InputJump, InputAttack, InputBlock, InputSprint,
	}
	for _, flag := range all {
		decoded, err := DecodeClientInput(EncodeClientInput(ClientInput{Flags: flag}))
		assert.NoError(t, err)
		assert.True(t, decoded.Flags.Has(flag))
	}
}

// Yaw just below the wrap point and just above zero must decode to nearly
// the same heading, not to values a full turn apart.
func TestYawQuantizationWraparound(t *testing.T) {
	below, err := DecodeClientInput(EncodeClientInput(ClientInput{Yaw: 2*math.Pi - 0.0001}))
	assert.NoError(t, err)
	above, err := DecodeClientInput(EncodeClientInput(ClientInput{Yaw: 0.0001}))
	assert.NoError(t, err)

	diff := math.Abs((below.Yaw - 2*math.Pi) - above.Yaw)
	assert.Less(t, diff, 0.001,
		"wrapped yaw values should decode to nearly the same heading")
}

func TestQuantizeYawWraps(t *testing.T) {
	// 4.0 rad * 10000 = 40000, above the signed 16-bit range; the wire
	// format wraps it to 40000 - 65536.
	assert.Equal(t, int16(40000-65536), QuantizeYaw(4.0))
	assert.Equal(t, int16(10000), QuantizeYaw(1.0))
	assert.Equal(t, int16(0), QuantizeYaw(0))
}

func TestQuantizePitchDoesNotWrap(t *testing.T) {
	// Pitch stays within ±π/2 in practice; the schema truncates rather
	// than wrapping, so in-range values survive untouched.
	assert.Equal(t, int16(15708), QuantizePitch(math.Pi/2))
	assert.Equal(t, int16(-15708), QuantizePitch(-math.Pi/2))
}

func TestSnapshotHeaderRoundTrip(t *testing.T) {
	original := SnapshotHeader{
		ServerTick:         1000,
		BaselineTick:       980,
		ServerTimeMs:       16666,
		LastProcessedInput: 555,
	}
	data := EncodeSnapshotHeader(original)
	assert.Len(t, data, SnapshotHeaderSize)

	decoded, err := DecodeSnapshotHeader(data)
	assert.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestSnapshotHeaderIgnoresEntityPayload(t *testing.T) {
	data := EncodeSnapshotHeader(SnapshotHeader{ServerTick: 5})
	data = append(data, make([]byte, 200)...)

	decoded, err := DecodeSnapshotHeader(data)
	assert.NoError(t, err)
	assert.Equal(t, uint32(5), decoded.ServerTick)
}

func TestDecodeShortBuffers(t *testing.T) {
	cases := []struct {
		name   string
		size   int
		decode func([]byte) error
	}{
		{"connectionRequest", ConnectionRequestSize,
			func(b []byte) error { _, err := DecodeConnectionRequest(b); return err }},
		{"connectionResponse", ConnectionResponseSize,
			func(b []byte) error { _, err := DecodeConnectionResponse(b); return err }},
		{"clientInput", ClientInputSize,
			func(b []byte) error { _, err := DecodeClientInput(b); return err }},
		{"snapshotHeader", SnapshotHeaderSize,
			func(b []byte) error { _, err := DecodeSnapshotHeader(b); return err }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for n := 0; n < tc.size; n++ {
				err := tc.decode(make([]byte, n))
				assert.ErrorIs(t, err, ErrShortBuffer, "length %d should be rejected", n)
			}
		})
	}
}

func TestDecodeWrongTypeByte(t *testing.T) {
	data := EncodeConnectionResponse(ConnectionResponse{Success: true})
	data[0] = PacketTypeEvent

	_, err := DecodeConnectionResponse(data)
	assert.ErrorIs(t, err, ErrPacketType)
}
