package bot

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkages-swarm/protocol"
	"darkages-swarm/util"
)

// fakeServer is a minimal loopback game server: it answers handshakes and
// optionally echoes traffic back for every input packet it receives.
type fakeServer struct {
	conn   *net.UDPConn
	accept bool
	// onInput, when set, is invoked with the sender address for every
	// ClientInput datagram, after the input counter is bumped.
	onInput func(s *fakeServer, addr *net.UDPAddr)

	inputsReceived atomic.Uint64
}

func newFakeServer(t *testing.T, accept bool) *fakeServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	s := &fakeServer{conn: conn, accept: accept}
	go s.serve()
	t.Cleanup(func() { _ = conn.Close() })
	return s
}

func (s *fakeServer) port() uint {
	return uint(s.conn.LocalAddr().(*net.UDPAddr).Port)
}

func (s *fakeServer) serve() {
	buffer := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		switch buffer[0] {
		case protocol.PacketTypeConnectionRequest:
			req, err := protocol.DecodeConnectionRequest(buffer[:n])
			if err != nil {
				continue
			}
			resp := protocol.EncodeConnectionResponse(protocol.ConnectionResponse{
				Success:      s.accept,
				ConnectionID: uint32(req.PlayerID),
				EntityID:     uint32(req.PlayerID) + 1000,
				ServerTick:   42,
				ServerTimeMs: 700,
			})
			_, _ = s.conn.WriteToUDP(resp, addr)
		case protocol.PacketTypeClientInput:
			s.inputsReceived.Add(1)
			if s.onInput != nil {
				s.onInput(s, addr)
			}
		}
	}
}

func newTestBot(port uint, timeout time.Duration) *Bot {
	return New(Config{
		ServerHost:     "127.0.0.1",
		ServerPort:     port,
		ClientID:       7,
		InputRateHz:    100,
		ConnectTimeout: timeout,
	})
}

func TestConnectSuccess(t *testing.T) {
	server := newFakeServer(t, true)
	b := newTestBot(server.port(), time.Second)
	defer b.Disconnect()

	err := b.Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateConnected, b.State())
	assert.Equal(t, uint32(7), b.Session().ConnectionID)
	assert.Equal(t, uint32(1007), b.Session().EntityID)
	assert.Equal(t, uint32(42), b.Session().ServerTick)
}

func TestConnectRejected(t *testing.T) {
	server := newFakeServer(t, false)
	b := newTestBot(server.port(), time.Second)

	err := b.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectRejected)
	assert.Equal(t, StateDisconnected, b.State())
}

func TestConnectTimeout(t *testing.T) {
	// A free port with nothing listening on it.
	port, err := util.GetFreeUdpPort()
	require.NoError(t, err)

	b := newTestBot(port, 200*time.Millisecond)

	start := time.Now()
	err = b.Connect(context.Background())
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Equal(t, StateDisconnected, b.State())
	assert.Less(t, elapsed, 2*time.Second, "timeout should fire close to the configured bound")
}

func TestConnectCancelledByContext(t *testing.T) {
	port, err := util.GetFreeUdpPort()
	require.NoError(t, err)

	b := newTestBot(port, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = b.Connect(ctx)
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Equal(t, StateDisconnected, b.State())
}

func TestConnectFromConnectedFails(t *testing.T) {
	server := newFakeServer(t, true)
	b := newTestBot(server.port(), time.Second)
	defer b.Disconnect()

	require.NoError(t, b.Connect(context.Background()))

	err := b.Connect(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRunRequiresConnected(t *testing.T) {
	b := newTestBot(9999, time.Second)
	err := b.Run(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRunSendsInputsAndCountsSnapshots(t *testing.T) {
	server := newFakeServer(t, true)
	server.onInput = func(s *fakeServer, addr *net.UDPAddr) {
		snapshot := protocol.EncodeSnapshotHeader(protocol.SnapshotHeader{
			ServerTick:         100,
			BaselineTick:       95,
			ServerTimeMs:       1234,
			LastProcessedInput: uint32(s.inputsReceived.Load()),
		})
		_, _ = s.conn.WriteToUDP(snapshot, addr)
	}

	b := newTestBot(server.port(), time.Second)
	defer b.Disconnect()
	require.NoError(t, b.Connect(context.Background()))

	err := b.Run(context.Background(), 500*time.Millisecond)
	require.NoError(t, err)

	c := b.Counters()
	assert.Greater(t, c.PacketsSent, uint64(10), "100 Hz for 500ms should send dozens of inputs")
	inputs := c.PacketsSent - 1 // minus the handshake request
	assert.Equal(t, inputs*protocol.ClientInputSize+protocol.ConnectionRequestSize, c.BytesSent)
	assert.Greater(t, c.SnapshotsReceived, uint64(0))
	assert.Greater(t, c.LastProcessedInput, uint32(0))
}

func TestRunDropsMalformedAndCountsByType(t *testing.T) {
	server := newFakeServer(t, true)
	server.onInput = func(s *fakeServer, addr *net.UDPAddr) {
		// A truncated snapshot, a correction, an event and an unknown type.
		_, _ = s.conn.WriteToUDP([]byte{protocol.PacketTypeServerSnapshot, 1, 2, 3}, addr)
		_, _ = s.conn.WriteToUDP([]byte{protocol.PacketTypeServerCorrection, 0, 0, 0, 0}, addr)
		_, _ = s.conn.WriteToUDP([]byte{protocol.PacketTypeEvent, 0, 0, 0, 0}, addr)
		_, _ = s.conn.WriteToUDP([]byte{0xAA, 0xBB}, addr)
	}

	b := newTestBot(server.port(), time.Second)
	defer b.Disconnect()
	require.NoError(t, b.Connect(context.Background()))

	err := b.Run(context.Background(), 300*time.Millisecond)
	require.NoError(t, err, "malformed inbound packets must not abort the run")

	c := b.Counters()
	assert.Greater(t, c.MalformedReceived, uint64(0))
	assert.Greater(t, c.CorrectionsReceived, uint64(0))
	assert.Greater(t, c.EventsReceived, uint64(0))
	assert.Zero(t, c.SnapshotsReceived)
}

func TestRunStopsAfterDuration(t *testing.T) {
	server := newFakeServer(t, true)
	b := newTestBot(server.port(), time.Second)
	defer b.Disconnect()
	require.NoError(t, b.Connect(context.Background()))

	start := time.Now()
	require.NoError(t, b.Run(context.Background(), 300*time.Millisecond))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestDisconnectDuringRunStopsLoops(t *testing.T) {
	server := newFakeServer(t, true)
	b := newTestBot(server.port(), time.Second)
	require.NoError(t, b.Connect(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- b.Run(context.Background(), 10*time.Second)
	}()

	time.Sleep(100 * time.Millisecond)
	b.Disconnect()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after disconnect")
	}
	assert.Equal(t, StateDisconnected, b.State())
}

func TestDisconnectIdempotent(t *testing.T) {
	server := newFakeServer(t, true)
	b := newTestBot(server.port(), time.Second)
	require.NoError(t, b.Connect(context.Background()))

	b.Disconnect()
	b.Disconnect()
	assert.Equal(t, StateDisconnected, b.State())
}

func TestDisconnectBeforeConnect(t *testing.T) {
	b := newTestBot(9999, time.Second)
	b.Disconnect()
	assert.Equal(t, StateDisconnected, b.State())

	// The bot is torn down; a later connect attempt must fail cleanly.
	err := b.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, b.State())
}

func TestDisconnectAbortsPendingConnect(t *testing.T) {
	// Listener that never answers, so Connect sits in its response wait.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	b := newTestBot(uint(conn.LocalAddr().(*net.UDPAddr).Port), 10*time.Second)

	done := make(chan error, 1)
	go func() {
		done <- b.Connect(context.Background())
	}()

	time.Sleep(100 * time.Millisecond)
	b.Disconnect()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not observe the closed socket")
	}
	assert.Equal(t, StateDisconnected, b.State())
}

func TestSequenceAdvancesPerInput(t *testing.T) {
	server := newFakeServer(t, true)
	b := newTestBot(server.port(), time.Second)
	defer b.Disconnect()
	require.NoError(t, b.Connect(context.Background()))

	require.NoError(t, b.Run(context.Background(), 200*time.Millisecond))

	// PacketsSent includes the handshake request, which carries no sequence.
	c := b.Counters()
	assert.Equal(t, uint32(c.PacketsSent-1), b.sequence,
		"sequence counter should advance once per input packet")
}
