package actuator

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/pursuit/internal/command"
	"github.com/banshee-data/pursuit/internal/monitoring"
	"github.com/banshee-data/pursuit/internal/timeutil"
)

// DefaultStepRate matches the firmware's stepper speed limit in steps per
// second.
const DefaultStepRate = 40

// SimulatorState is the dead-reckoned pose of the simulated rover.
type SimulatorState struct {
	Odometer int64 // net forward units
	Heading  int64 // net clockwise rotation units
	Shots    int64
	Busy     bool
	Rejected int64
}

type pendingReceipt struct {
	b       byte
	readyAt time.Time
}

// Simulator stands in for the controller board in dev mode. It implements
// SerialPorter: written lines are parsed as commands, "executed" for as long
// as the real steppers or launcher would take, and acknowledged with a single
// 'y' (or 'n' for lines it cannot parse).
type Simulator struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	stepRate float64

	line     bytes.Buffer
	receipts []pendingReceipt
	freeAt   time.Time
	state    SimulatorState
	closed   bool
}

// NewSimulator creates a simulator. stepRate <= 0 uses DefaultStepRate.
func NewSimulator(clock timeutil.Clock, stepRate float64) *Simulator {
	if stepRate <= 0 {
		stepRate = DefaultStepRate
	}
	return &Simulator{clock: clock, stepRate: stepRate}
}

// Duration is how long the controller takes to execute cmd.
func (s *Simulator) Duration(cmd command.Command) time.Duration {
	if cmd.Opcode == command.OpFire {
		return time.Duration(cmd.Magnitude) * time.Second
	}
	return time.Duration(float64(cmd.Magnitude) / s.stepRate * float64(time.Second))
}

// Write buffers input and schedules a receipt for each complete line.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("simulator closed")
	}
	s.line.Write(p)
	for {
		line, err := s.line.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			s.line.Reset()
			s.line.WriteString(line)
			break
		}
		s.execute(line)
	}
	return len(p), nil
}

func (s *Simulator) execute(line string) {
	now := s.clock.Now()
	start := now
	if s.freeAt.After(start) {
		start = s.freeAt
	}

	cmd, err := command.Parse(line)
	if err != nil {
		monitoring.Warnf("simulator rejected %q: %v", line, err)
		s.state.Rejected++
		s.receipts = append(s.receipts, pendingReceipt{b: command.ReceiptRejected, readyAt: start})
		return
	}

	switch cmd.Opcode {
	case command.OpAdvance:
		s.state.Odometer += int64(cmd.Magnitude)
	case command.OpRetreat:
		s.state.Odometer -= int64(cmd.Magnitude)
	case command.OpRotateCW:
		s.state.Heading += int64(cmd.Magnitude)
	case command.OpRotateCCW:
		s.state.Heading -= int64(cmd.Magnitude)
	case command.OpFire:
		s.state.Shots++
	}

	s.freeAt = start.Add(s.Duration(cmd))
	s.receipts = append(s.receipts, pendingReceipt{b: command.ReceiptDone, readyAt: s.freeAt})
}

// Read returns receipts whose command has finished. It never blocks.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("simulator closed")
	}
	now := s.clock.Now()
	n := 0
	for n < len(p) && len(s.receipts) > 0 && !s.receipts[0].readyAt.After(now) {
		p[n] = s.receipts[0].b
		s.receipts = s.receipts[1:]
		n++
	}
	return n, nil
}

// SetReadTimeout implements TimeoutSerialPorter. Reads are always
// non-blocking.
func (s *Simulator) SetReadTimeout(time.Duration) error {
	return nil
}

// Close stops the simulator.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// State returns the simulated pose.
func (s *Simulator) State() SimulatorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Busy = s.freeAt.After(s.clock.Now())
	return st
}
