// Package engage runs the perceive, decide and act loop that drives the rover.
//
// The loop alternates between two states. While Perceiving it takes one frame,
// plans an action and writes the command to the actuator link. It then sits in
// AwaitingAck until the controller sends back a receipt byte. While waiting it
// keeps draining frames from the camera so the next decision is made on a
// fresh image, but it never plans on them: at most one command is outstanding
// at any time.
package engage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/pursuit/internal/actuator"
	"github.com/banshee-data/pursuit/internal/command"
	"github.com/banshee-data/pursuit/internal/monitoring"
	"github.com/banshee-data/pursuit/internal/perception"
	"github.com/banshee-data/pursuit/internal/planner"
	"github.com/banshee-data/pursuit/internal/timeutil"
)

// State is the loop phase.
type State int

const (
	// Perceiving: no command outstanding, the next iteration decides.
	Perceiving State = iota
	// AwaitingAck: a command was sent and has not been acknowledged.
	AwaitingAck
)

func (s State) String() string {
	switch s {
	case Perceiving:
		return "perceiving"
	case AwaitingAck:
		return "awaiting_ack"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome describes what a single Step did.
type Outcome int

const (
	// OutcomeCommandSent: a frame was planned on and a command written.
	OutcomeCommandSent Outcome = iota + 1
	// OutcomeNoCommand: a frame was planned on but the action encoded to
	// nothing, so the loop stays in Perceiving.
	OutcomeNoCommand
	// OutcomeAcknowledged: a receipt byte was consumed; no decision was made.
	OutcomeAcknowledged
	// OutcomeWaiting: no receipt yet; one frame was drained and discarded.
	OutcomeWaiting
	// OutcomeAckTimedOut: the optional ack timeout expired.
	OutcomeAckTimedOut
	// OutcomeAborted: the cycle was abandoned (perception failure, invalid
	// frame, or write failure) without a state change.
	OutcomeAborted
)

var outcomeNames = map[Outcome]string{
	OutcomeCommandSent:  "command_sent",
	OutcomeNoCommand:    "no_command",
	OutcomeAcknowledged: "acknowledged",
	OutcomeWaiting:      "waiting",
	OutcomeAckTimedOut:  "ack_timed_out",
	OutcomeAborted:      "aborted",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Journal records loop activity. Failures are logged and never affect
// control flow.
type Journal interface {
	RecordCommand(cmd command.Command, d planner.Decision, at time.Time) (int64, error)
	RecordAck(commandID int64, receipt byte, at time.Time, latency time.Duration) error
	RecordMissedAck(commandID int64, at time.Time, waited time.Duration) error
}

// Config holds loop settings.
type Config struct {
	Policy planner.Policy

	// AckTimeout, when positive, abandons an outstanding command after this
	// long without a receipt and returns to Perceiving. Zero waits forever.
	AckTimeout time.Duration

	// PollInterval is slept after each unacknowledged poll. Zero lets the
	// camera read pace the loop.
	PollInterval time.Duration
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces the real clock.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithJournal records commands and receipts to j.
func WithJournal(j Journal) Option {
	return func(c *Controller) { c.journal = j }
}

type outstanding struct {
	cmd    command.Command
	id     int64
	sentAt time.Time
}

// Controller is the engagement loop. Step and Run must be called from a
// single goroutine; Stats and State are safe to call from anywhere.
type Controller struct {
	source  perception.Source
	link    actuator.Link
	cfg     Config
	clock   timeutil.Clock
	journal Journal

	state   State
	pending outstanding

	mu    sync.Mutex
	stats Stats
}

// New creates a controller in the Perceiving state.
func New(source perception.Source, link actuator.Link, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		source: source,
		link:   link,
		cfg:    cfg,
		clock:  timeutil.RealClock{},
		state:  Perceiving,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stats.State = c.state.String()
	c.stats.Actions = make(map[string]int64)
	return c
}

// State returns the current loop phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.stats.State = s.String()
	c.mu.Unlock()
}

func (c *Controller) update(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

// Run steps the loop until ctx is cancelled. Step errors are logged and the
// loop carries on; it has no terminal state of its own.
func (c *Controller) Run(ctx context.Context) error {
	monitoring.Logf("engagement loop started (ack timeout %s)", c.cfg.AckTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := c.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Warnf("engagement cycle %s: %v", outcome, err)
		}
	}
}

// Step runs exactly one iteration of the loop.
func (c *Controller) Step(ctx context.Context) (Outcome, error) {
	if c.state == AwaitingAck {
		return c.awaitAck(ctx)
	}
	return c.perceive(ctx)
}

func (c *Controller) abort(err error) (Outcome, error) {
	c.update(func(s *Stats) { s.Aborted++ })
	return OutcomeAborted, err
}

func (c *Controller) perceive(ctx context.Context) (Outcome, error) {
	frame, err := c.source.NextFrame(ctx)
	if err != nil {
		return c.abort(fmt.Errorf("failed to read frame: %w", err))
	}
	c.update(func(s *Stats) { s.Frames++ })

	if err := frame.Validate(); err != nil {
		return c.abort(err)
	}

	d := planner.PlanFrame(frame, c.cfg.Policy)
	c.update(func(s *Stats) {
		s.Decisions++
		s.LastAction = d.Action.String()
	})

	wire := command.Encode(d.Action)
	if len(wire) == 0 {
		monitoring.Warnf("%v encodes to no command; staying in %s", d.Action, Perceiving)
		c.update(func(s *Stats) { s.NoCommand++ })
		return OutcomeNoCommand, nil
	}
	cmd, _ := command.FromAction(d.Action)

	if err := c.link.Write(wire); err != nil {
		c.update(func(s *Stats) { s.WriteErrors++ })
		return c.abort(fmt.Errorf("failed to send %q: %w", wire, err))
	}

	now := c.clock.Now()
	c.pending = outstanding{cmd: cmd, sentAt: now}
	c.setState(AwaitingAck)

	if d.HasTarget {
		monitoring.Logf("target %v %s (delta %+.0f): %v -> %q",
			d.Target, d.Classification.Alignment, d.Classification.Delta, d.Action, wire)
	} else {
		monitoring.Logf("no target: %v -> %q", d.Action, wire)
	}

	if c.journal != nil {
		id, err := c.journal.RecordCommand(cmd, d, now)
		if err != nil {
			monitoring.Warnf("failed to journal command: %v", err)
		}
		c.pending.id = id
	}

	c.update(func(s *Stats) {
		s.Commands++
		s.Actions[d.Action.Kind.String()]++
		s.LastCommandAt = now
	})
	return OutcomeCommandSent, nil
}

func (c *Controller) awaitAck(ctx context.Context) (Outcome, error) {
	b, ok, err := c.link.PollByte()
	if err != nil {
		monitoring.Debugf("receipt poll failed: %v", err)
		ok = false
	}

	if command.Decode(ok).Received {
		now := c.clock.Now()
		latency := now.Sub(c.pending.sentAt)
		c.setState(Perceiving)
		if c.journal != nil && c.pending.id != 0 {
			if err := c.journal.RecordAck(c.pending.id, b, now, latency); err != nil {
				monitoring.Warnf("failed to journal receipt: %v", err)
			}
		}
		monitoring.Debugf("%q acknowledged after %s", c.pending.cmd.String(), latency)
		c.update(func(s *Stats) {
			s.Acks++
			s.LastAckLatency = latency
		})
		return OutcomeAcknowledged, nil
	}

	if c.cfg.AckTimeout > 0 {
		if waited := c.clock.Since(c.pending.sentAt); waited >= c.cfg.AckTimeout {
			c.setState(Perceiving)
			monitoring.Warnf("no receipt for %q after %s; resuming perception", c.pending.cmd.String(), waited)
			if c.journal != nil && c.pending.id != 0 {
				if err := c.journal.RecordMissedAck(c.pending.id, c.clock.Now(), waited); err != nil {
					monitoring.Warnf("failed to journal missed receipt: %v", err)
				}
			}
			c.update(func(s *Stats) { s.MissedAcks++ })
			return OutcomeAckTimedOut, nil
		}
	}

	if err := c.drain(ctx); err != nil {
		if isContextErr(err) {
			return OutcomeWaiting, err
		}
		monitoring.Debugf("failed to drain frame: %v", err)
		c.update(func(s *Stats) { s.DrainErrors++ })
	} else {
		c.update(func(s *Stats) { s.FramesDrained++ })
	}

	if err := timeutil.SleepContext(ctx, c.clock, c.cfg.PollInterval); err != nil {
		return OutcomeWaiting, err
	}
	return OutcomeWaiting, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// drain pulls one frame from the source and throws it away.
func (c *Controller) drain(ctx context.Context) error {
	if s, ok := c.source.(perception.Skipper); ok {
		return s.Skip(ctx)
	}
	_, err := c.source.NextFrame(ctx)
	return err
}
