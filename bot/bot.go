// Package bot implements a single simulated game client: one UDP socket, one
// connection handshake, and an input/receive loop pair driven by a movement
// pattern. A Bot is owned and driven by the swarm orchestrator; nothing in
// here is shared between bots.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"darkages-swarm/applog"
	"darkages-swarm/movement"
	"darkages-swarm/protocol"
	"darkages-swarm/trace"

	"go.uber.org/zap"
)

// State is the connection state of a bot. Transitions are monotonic:
// Disconnected -> Connecting -> Connected -> Disconnected (terminal).
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrConnectTimeout  = errors.New("connection timed out")
	ErrConnectRejected = errors.New("connection rejected by server")
	ErrNotConnected    = errors.New("bot is not connected")
	ErrInvalidState    = errors.New("invalid state transition")
)

const (
	// DefaultConnectTimeout bounds the wait for a ConnectionResponse.
	DefaultConnectTimeout = 5 * time.Second

	// Poll slices for the non-blocking reads. Short enough that a cancelled
	// context or a Disconnect is observed promptly, long enough not to spin.
	connectPollInterval = 10 * time.Millisecond
	receivePollInterval = time.Millisecond

	receiveBufferSize = 2048
)

// Config is immutable once a bot is constructed.
type Config struct {
	ServerHost     string
	ServerPort     uint
	ClientID       uint64
	Pattern        movement.Pattern
	InputRateHz    float64
	ConnectTimeout time.Duration
	Trace          *trace.Recorder
}

// Session is assigned once from a successful ConnectionResponse and never
// changes for the lifetime of the connection.
type Session struct {
	ConnectionID uint32
	EntityID     uint32
	ServerTick   uint32
	ServerTimeMs uint32
}

type Bot struct {
	cfg Config
	gen *movement.Generator

	state atomic.Int32

	// connMu guards conn assignment and the closed flag; the read and write
	// paths use the conn without locking once Connect has published it.
	connMu sync.Mutex
	conn   *net.UDPConn
	closed bool

	session    Session
	sequence   uint32
	counters   counters
	runStarted time.Time
}

// New builds a bot from its immutable configuration. The movement generator
// is seeded from the client ID so a re-run with the same swarm layout
// reproduces the same steering decisions.
func New(cfg Config) *Bot {
	if cfg.InputRateHz <= 0 {
		cfg.InputRateHz = 60
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Pattern == "" {
		cfg.Pattern = movement.PatternRandom
	}
	return &Bot{
		cfg: cfg,
		gen: movement.NewGenerator(cfg.Pattern, int64(cfg.ClientID)),
	}
}

func (b *Bot) ClientID() uint64 { return b.cfg.ClientID }

func (b *Bot) State() State { return State(b.state.Load()) }

// Session returns the identity assigned by the server. Valid only after a
// successful Connect.
func (b *Bot) Session() Session { return b.session }

// Counters returns a snapshot of the bot's traffic statistics. Safe to call
// from other goroutines while the bot is running.
func (b *Bot) Counters() Counters { return b.counters.snapshot() }

// Connect performs the single connection handshake: open the socket, send
// one ConnectionRequest and wait for the ConnectionResponse. Callers must
// not invoke Connect concurrently on the same bot.
func (b *Bot) Connect(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("connect from %s: %w", b.State(), ErrInvalidState)
	}

	conn, err := b.dial()
	if err != nil {
		b.state.Store(int32(StateDisconnected))
		return fmt.Errorf("dial %s:%d: %w", b.cfg.ServerHost, b.cfg.ServerPort, err)
	}

	request := protocol.EncodeConnectionRequest(protocol.ConnectionRequest{
		ProtocolVersion: protocol.ProtocolVersion,
		PlayerID:        b.cfg.ClientID,
	})
	if err = b.send(conn, request); err != nil {
		b.Disconnect()
		return fmt.Errorf("send connection request: %w", err)
	}

	resp, err := b.awaitConnectionResponse(ctx, conn)
	if err != nil {
		b.Disconnect()
		return err
	}

	b.session = Session{
		ConnectionID: resp.ConnectionID,
		EntityID:     resp.EntityID,
		ServerTick:   resp.ServerTick,
		ServerTimeMs: resp.ServerTimeMs,
	}
	b.state.Store(int32(StateConnected))

	applog.FromContext(ctx).Debug("Bot connected",
		zap.Uint64("clientId", b.cfg.ClientID),
		zap.Uint32("connectionId", resp.ConnectionID),
		zap.Uint32("entityId", resp.EntityID),
		zap.Uint32("serverTick", resp.ServerTick),
	)
	return nil
}

func (b *Bot) dial() (*net.UDPConn, error) {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bot already torn down: %w", ErrInvalidState)
	}

	addr, err := net.ResolveUDPAddr("udp",
		net.JoinHostPort(b.cfg.ServerHost, strconv.Itoa(int(b.cfg.ServerPort))))
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	b.conn = conn
	return conn, nil
}

// awaitConnectionResponse polls the socket in short deadline slices until a
// ConnectionResponse arrives, the timeout fires, the context is cancelled or
// the socket is closed by Disconnect. Exactly one of those resolves; the
// poll never leaks a goroutine.
func (b *Bot) awaitConnectionResponse(ctx context.Context, conn *net.UDPConn) (protocol.ConnectionResponse, error) {
	deadline := time.Now().Add(b.cfg.ConnectTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	buffer := make([]byte, receiveBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return protocol.ConnectionResponse{}, fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		if time.Now().After(deadline) {
			return protocol.ConnectionResponse{}, ErrConnectTimeout
		}

		_ = conn.SetReadDeadline(time.Now().Add(connectPollInterval))
		n, err := conn.Read(buffer)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return protocol.ConnectionResponse{}, fmt.Errorf("%w: socket closed", ErrConnectTimeout)
			}
			// A connected UDP socket surfaces ICMP port-unreachable as
			// ECONNREFUSED; the server may simply not be up yet, so keep
			// waiting and let the timeout decide.
			if errors.Is(err, syscall.ECONNREFUSED) {
				continue
			}
			return protocol.ConnectionResponse{}, fmt.Errorf("read connection response: %w", err)
		}

		data := buffer[:n]
		b.counters.packetsReceived.Add(1)
		b.counters.bytesReceived.Add(uint64(n))
		b.record(trace.DirectionReceived, data)

		if n == 0 || data[0] != protocol.PacketTypeConnectionResponse {
			continue
		}

		resp, err := protocol.DecodeConnectionResponse(data)
		if err != nil {
			b.counters.malformedReceived.Add(1)
			continue
		}
		if !resp.Success {
			return protocol.ConnectionResponse{}, ErrConnectRejected
		}
		return resp, nil
	}
}

// Run drives the input-send and receive loops for the given duration. It is
// only valid from Connected. A socket error mid-run tears the bot down and
// is returned; malformed inbound packets are counted and dropped, never
// fatal.
func (b *Bot) Run(ctx context.Context, duration time.Duration) error {
	if b.State() != StateConnected {
		return ErrNotConnected
	}

	conn := b.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	b.runStarted = time.Now()

	var wg sync.WaitGroup
	var sendErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr = b.sendLoop(runCtx, conn)
		if sendErr != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		b.receiveLoop(runCtx, conn)
	}()
	wg.Wait()

	if sendErr != nil {
		b.Disconnect()
		return sendErr
	}
	return nil
}

func (b *Bot) sendLoop(ctx context.Context, conn *net.UDPConn) error {
	interval := time.Duration(float64(time.Second) / b.cfg.InputRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if b.State() != StateConnected {
			return nil
		}

		intent := b.gen.Next(time.Since(b.runStarted))
		packet := protocol.EncodeClientInput(protocol.ClientInput{
			Sequence:     b.sequence,
			TimestampMs:  uint32(time.Now().UnixMilli() % 0xFFFFFFFF),
			Flags:        intent.Flags(),
			Yaw:          intent.Yaw,
			Pitch:        intent.Pitch,
			TargetEntity: intent.TargetEntity,
		})
		b.sequence++

		if err := b.send(conn, packet); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("send input: %w", err)
		}
	}
}

func (b *Bot) receiveLoop(ctx context.Context, conn *net.UDPConn) {
	buffer := make([]byte, receiveBufferSize)
	for ctx.Err() == nil {
		if b.State() != StateConnected {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(receivePollInterval))
		n, err := conn.Read(buffer)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			applog.Debug("Bot read error",
				zap.Uint64("clientId", b.cfg.ClientID),
				zap.Error(err))
			continue
		}
		b.handleInbound(buffer[:n])
	}
}

// handleInbound dispatches one datagram by its leading type byte. Anything
// unparsable is counted as malformed and dropped.
func (b *Bot) handleInbound(data []byte) {
	b.counters.packetsReceived.Add(1)
	b.counters.bytesReceived.Add(uint64(len(data)))
	b.record(trace.DirectionReceived, data)

	if len(data) == 0 {
		b.counters.malformedReceived.Add(1)
		return
	}

	switch data[0] {
	case protocol.PacketTypeServerSnapshot:
		header, err := protocol.DecodeSnapshotHeader(data)
		if err != nil {
			b.counters.malformedReceived.Add(1)
			return
		}
		b.counters.snapshotsReceived.Add(1)
		b.counters.lastProcessedInput.Store(header.LastProcessedInput)
	case protocol.PacketTypeServerCorrection:
		b.counters.correctionsReceived.Add(1)
	case protocol.PacketTypeEvent:
		b.counters.eventsReceived.Add(1)
	default:
		// Unknown types are counted as traffic but otherwise ignored.
	}
}

// Disconnect closes the socket and forces the terminal state. Idempotent and
// safe from any state, including while Connect is still waiting (the wait
// observes the closed socket and gives up).
func (b *Bot) Disconnect() {
	b.connMu.Lock()
	if !b.closed {
		b.closed = true
		if b.conn != nil {
			_ = b.conn.Close()
		}
	}
	b.connMu.Unlock()

	b.state.Store(int32(StateDisconnected))
}

func (b *Bot) currentConn() *net.UDPConn {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	return b.conn
}

func (b *Bot) send(conn *net.UDPConn, data []byte) error {
	n, err := conn.Write(data)
	if err != nil {
		return err
	}
	b.counters.packetsSent.Add(1)
	b.counters.bytesSent.Add(uint64(n))
	b.record(trace.DirectionSent, data)
	return nil
}

func (b *Bot) record(dir trace.Direction, data []byte) {
	if b.cfg.Trace == nil {
		return
	}
	if err := b.cfg.Trace.Record(dir, b.cfg.ClientID, data); err != nil {
		applog.Debug("Packet trace write failed",
			zap.Uint64("clientId", b.cfg.ClientID),
			zap.Error(err))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
