// Package trace records the packets a swarm exchanges with the server as a
// zstd-compressed text capture, one line per datagram. Captures from long
// soak runs compress extremely well because input packets are near-identical.
package trace

import (
	"fmt"
	"os"
	"sync"
	"time"

	"darkages-swarm/protocol"
	"darkages-swarm/util"

	"github.com/klauspost/compress/zstd"
)

type Direction = string

const (
	DirectionSent     Direction = "OUT"
	DirectionReceived Direction = "IN"
)

// Recorder is safe for concurrent use by every bot of a swarm.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	zw      *zstd.Encoder
	started time.Time
	closed  bool
}

func NewRecorder(filename string) (*Recorder, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	zw, err := zstd.NewWriter(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	r := &Recorder{file: file, zw: zw, started: time.Now()}

	header := "" +
		"--------+-----+--------------------+-------+-------+-----------\n" +
		"Elapsed | Dir | Type               | Bot   | Len   | Data      \n" +
		"--------+-----+--------------------+-------+-------+-----------\n"
	if _, err = zw.Write([]byte(header)); err != nil {
		_ = zw.Close()
		_ = file.Close()
		return nil, err
	}

	return r, nil
}

// Record appends one datagram to the capture. Unparsable data is still
// recorded; the capture is for diagnosing protocol trouble, not hiding it.
func (r *Recorder) Record(dir Direction, clientID uint64, data []byte) error {
	line := fmt.Sprintf("%7.3f | %3s | %-18s | %-5d | %-5d | %s\n",
		time.Since(r.started).Seconds(),
		dir,
		packetTypeToString(data),
		clientID,
		len(data),
		util.DataToHex(data),
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder is closed")
	}
	_, err := r.zw.Write([]byte(line))
	return err
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.zw.Close(); err != nil {
		_ = r.file.Close()
		return err
	}
	return r.file.Close()
}

func packetTypeToString(data []byte) string {
	if len(data) == 0 {
		return "EMPTY"
	}
	switch data[0] {
	case protocol.PacketTypeClientInput:
		return "CLIENT_INPUT"
	case protocol.PacketTypeServerSnapshot:
		return "SERVER_SNAPSHOT"
	case protocol.PacketTypeConnectionRequest:
		return "CONNECTION_REQUEST"
	case protocol.PacketTypeConnectionResponse:
		return "CONNECTION_RESPONSE"
	case protocol.PacketTypeEvent:
		return "EVENT"
	case protocol.PacketTypeServerCorrection:
		return "SERVER_CORRECTION"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", data[0])
	}
}
