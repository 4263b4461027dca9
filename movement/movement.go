package movement

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"darkages-swarm/protocol"
)

// Pattern selects how a bot steers itself during a run.
type Pattern string

const (
	PatternRandom     Pattern = "random"
	PatternCircle     Pattern = "circle"
	PatternLinear     Pattern = "linear"
	PatternStationary Pattern = "stationary"
)

// Patterns lists all known patterns in the order used when distributing
// them round-robin across a swarm.
var Patterns = []Pattern{PatternRandom, PatternCircle, PatternLinear, PatternStationary}

// ParsePattern validates a user-supplied pattern name.
func ParsePattern(s string) (Pattern, error) {
	switch Pattern(s) {
	case PatternRandom, PatternCircle, PatternLinear, PatternStationary:
		return Pattern(s), nil
	}
	return "", fmt.Errorf("unknown movement pattern %q", s)
}

const twoPi = 2 * math.Pi

// Intent is one tick of simulated player input.
type Intent struct {
	Forward      bool
	Backward     bool
	Left         bool
	Right        bool
	Jump         bool
	Attack       bool
	Block        bool
	Sprint       bool
	Yaw          float64
	Pitch        float64
	TargetEntity uint32
}

// Flags packs the boolean intent fields into the wire bitmask.
func (i Intent) Flags() protocol.InputFlags {
	var f protocol.InputFlags
	if i.Forward {
		f |= protocol.InputForward
	}
	if i.Backward {
		f |= protocol.InputBackward
	}
	if i.Left {
		f |= protocol.InputLeft
	}
	if i.Right {
		f |= protocol.InputRight
	}
	if i.Jump {
		f |= protocol.InputJump
	}
	if i.Attack {
		f |= protocol.InputAttack
	}
	if i.Block {
		f |= protocol.InputBlock
	}
	if i.Sprint {
		f |= protocol.InputSprint
	}
	return f
}

// Generator produces per-tick input intents for a single bot. Each bot owns
// its own Generator, so there is no shared mutable state between bots; the
// zero-seed convenience of the global rand is deliberately avoided.
type Generator struct {
	pattern Pattern
	rng     *rand.Rand
	yaw     float64
	pitch   float64
}

// NewGenerator creates a generator with its own deterministic random source.
// The initial heading is randomized so a swarm does not march in lockstep.
func NewGenerator(pattern Pattern, seed int64) *Generator {
	rng := rand.New(rand.NewSource(seed))
	return &Generator{
		pattern: pattern,
		rng:     rng,
		yaw:     rng.Float64() * twoPi,
	}
}

// Next computes the input intent for the current tick given the elapsed
// run time.
func (g *Generator) Next(elapsed time.Duration) Intent {
	switch g.pattern {
	case PatternRandom:
		return g.nextRandom()
	case PatternCircle:
		return g.nextCircle()
	case PatternLinear:
		return g.nextLinear(elapsed)
	default:
		return Intent{Yaw: g.yaw, Pitch: g.pitch}
	}
}

// nextRandom wanders with momentum: rare heading changes, mostly forward,
// occasional strafe, sprint and jump.
func (g *Generator) nextRandom() Intent {
	if g.rng.Float64() < 0.05 {
		g.yaw += g.rng.Float64()*2 - 1
		g.yaw = wrapYaw(g.yaw)
	}

	intent := Intent{Yaw: g.yaw, Pitch: g.pitch}
	intent.Forward = g.rng.Float64() > 0.3

	if g.rng.Float64() < 0.1 {
		if g.rng.Float64() < 0.5 {
			intent.Left = true
		} else {
			intent.Right = true
		}
	}

	if intent.Forward {
		intent.Sprint = g.rng.Float64() > 0.7
	}

	intent.Jump = g.rng.Float64() < 0.05
	return intent
}

// nextCircle turns by a small fixed increment every tick, producing a
// continuous circle at walking speed.
func (g *Generator) nextCircle() Intent {
	g.yaw = wrapYaw(g.yaw + 0.03)
	return Intent{Forward: true, Yaw: g.yaw, Pitch: g.pitch}
}

// nextLinear walks back and forth on a 10 second period, 5 seconds each way.
func (g *Generator) nextLinear(elapsed time.Duration) Intent {
	cycle := math.Mod(elapsed.Seconds(), 10) / 5.0
	if cycle > 1 {
		g.yaw = math.Pi
	} else {
		g.yaw = 0
	}
	return Intent{
		Forward: true,
		Sprint:  g.rng.Float64() > 0.8,
		Yaw:     g.yaw,
		Pitch:   g.pitch,
	}
}

func wrapYaw(yaw float64) float64 {
	yaw = math.Mod(yaw, twoPi)
	if yaw < 0 {
		yaw += twoPi
	}
	return yaw
}
