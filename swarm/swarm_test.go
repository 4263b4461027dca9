package swarm

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkages-swarm/movement"
	"darkages-swarm/protocol"
)

// selectiveServer accepts handshakes for player IDs up to acceptUpTo and
// rejects the rest, so a test can dial in an exact connection rate.
type selectiveServer struct {
	conn       *net.UDPConn
	acceptUpTo uint64
}

func newSelectiveServer(t *testing.T, acceptUpTo uint64) *selectiveServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	s := &selectiveServer{conn: conn, acceptUpTo: acceptUpTo}
	go s.serve()
	t.Cleanup(func() { _ = conn.Close() })
	return s
}

func (s *selectiveServer) port() uint {
	return uint(s.conn.LocalAddr().(*net.UDPAddr).Port)
}

func (s *selectiveServer) serve() {
	buffer := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			return
		}
		if n == 0 || buffer[0] != protocol.PacketTypeConnectionRequest {
			continue
		}
		req, err := protocol.DecodeConnectionRequest(buffer[:n])
		if err != nil {
			continue
		}
		resp := protocol.EncodeConnectionResponse(protocol.ConnectionResponse{
			Success:      req.PlayerID <= s.acceptUpTo,
			ConnectionID: uint32(req.PlayerID),
			EntityID:     uint32(req.PlayerID) + 1000,
			ServerTick:   1,
		})
		_, _ = s.conn.WriteToUDP(resp, addr)
	}
}

func testConfig(port uint, bots int) Config {
	return Config{
		ServerHost:        "127.0.0.1",
		ServerPort:        port,
		BotCount:          bots,
		Duration:          300 * time.Millisecond,
		InputRateHz:       50,
		ConnectBatchSize:  25,
		ConnectBatchPause: 10 * time.Millisecond,
		ConnectTimeout:    time.Second,
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(testConfig(1, 0))
	assert.Error(t, err)

	cfg := testConfig(1, 10)
	cfg.Duration = 0
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = testConfig(1, 10)
	cfg.AcceptanceRate = 1.5
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestPatternsRotateWhenUnset(t *testing.T) {
	o, err := New(testConfig(1, 6))
	require.NoError(t, err)

	assert.Equal(t, movement.PatternRandom, o.patterns[0])
	assert.Equal(t, movement.PatternCircle, o.patterns[1])
	assert.Equal(t, movement.PatternLinear, o.patterns[2])
	assert.Equal(t, movement.PatternStationary, o.patterns[3])
	assert.Equal(t, movement.PatternRandom, o.patterns[4])
}

func TestFixedPatternAppliesToAllBots(t *testing.T) {
	cfg := testConfig(1, 4)
	cfg.Pattern = movement.PatternCircle
	o, err := New(cfg)
	require.NoError(t, err)

	for _, p := range o.patterns {
		assert.Equal(t, movement.PatternCircle, p)
	}
}

func TestSwarmViableAboveAcceptanceThreshold(t *testing.T) {
	// 44 of 50 bots connect, an 88% rate against an 80% threshold.
	server := newSelectiveServer(t, 44)

	cfg := testConfig(server.port(), 50)
	cfg.AcceptanceRate = 0.80

	o, err := New(cfg)
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 50, result.Configured)
	assert.Equal(t, 44, result.Connected)
	assert.Len(t, result.ConnectedBots(), 44)
	assert.Greater(t, result.Duration, time.Duration(0), "run phase must have happened")
	assert.Greater(t, result.Totals.PacketsSent, uint64(44), "connected bots should have sent inputs")
}

func TestSwarmInsufficientBelowAcceptanceThreshold(t *testing.T) {
	server := newSelectiveServer(t, 44)

	cfg := testConfig(server.port(), 50)
	cfg.AcceptanceRate = 0.90

	o, err := New(cfg)
	require.NoError(t, err)

	result, err := o.Run(context.Background())

	var insufficient *InsufficientConnectionsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 44, insufficient.Connected)
	assert.Equal(t, 50, insufficient.Configured)

	assert.Equal(t, 44, result.Connected)
	assert.Zero(t, result.Duration, "run phase must be skipped")
}

func TestSwarmNoConnections(t *testing.T) {
	server := newSelectiveServer(t, 0)

	o, err := New(testConfig(server.port(), 10))
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoConnections)
	assert.Equal(t, 0, result.Connected)

	for _, b := range result.Bots {
		assert.False(t, b.Connected)
		assert.Error(t, b.ConnectErr)
	}
}

func TestRejectedBotsCarryTypedError(t *testing.T) {
	server := newSelectiveServer(t, 5)

	cfg := testConfig(server.port(), 10)
	cfg.AcceptanceRate = 0.5

	o, err := New(cfg)
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	rejected := 0
	for _, b := range result.Bots {
		if b.ConnectErr != nil {
			rejected++
		}
	}
	assert.Equal(t, 5, rejected)
}

func TestTeardownLeavesAllBotsDisconnected(t *testing.T) {
	server := newSelectiveServer(t, 100)

	o, err := New(testConfig(server.port(), 8))
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	for _, b := range o.bots {
		assert.Equal(t, "disconnected", b.State().String())
	}
}

type recordingSink struct {
	mu      sync.Mutex
	samples []LiveStats
}

func (r *recordingSink) Publish(s LiveStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func TestStatsSinkReceivesLiveSamples(t *testing.T) {
	server := newSelectiveServer(t, 100)
	sink := &recordingSink{}

	cfg := testConfig(server.port(), 4)
	cfg.Duration = 500 * time.Millisecond
	cfg.Stats = sink
	cfg.StatsInterval = 100 * time.Millisecond

	o, err := New(cfg)
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, sink.count(), 2)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	last := sink.samples[len(sink.samples)-1]
	assert.Equal(t, 4, last.BotsConnected)
	assert.Greater(t, last.Totals.PacketsSent, uint64(0))
}

func TestRunCancelledBeforeConnect(t *testing.T) {
	server := newSelectiveServer(t, 100)

	o, err := New(testConfig(server.port(), 5))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, runErr := o.Run(ctx)
	assert.ErrorIs(t, runErr, ErrNoConnections)
	assert.NotNil(t, result)
	assert.Equal(t, 0, result.Connected)
}
