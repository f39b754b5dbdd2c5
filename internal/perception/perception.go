// Package perception provides frame sources for the engagement loop. The
// detector behind a source is opaque to the loop: all it sees is the set of
// bounding boxes found in each frame.
package perception

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/pursuit/internal/targeting"
	"github.com/banshee-data/pursuit/internal/timeutil"
)

// ErrNoFrames is returned when a replay fixture contains no frames.
var ErrNoFrames = errors.New("no frames in fixture")

// DefaultFrameInterval paces a replay like a 30fps camera.
const DefaultFrameInterval = 33 * time.Millisecond

// Source yields one frame per call. Implementations may block briefly while
// the camera delivers the next image.
type Source interface {
	NextFrame(ctx context.Context) (targeting.Frame, error)
}

// Skipper is implemented by sources that can discard a frame more cheaply
// than detecting on it.
type Skipper interface {
	Skip(ctx context.Context) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (targeting.Frame, error)

// NextFrame calls f.
func (f SourceFunc) NextFrame(ctx context.Context) (targeting.Frame, error) {
	return f(ctx)
}

// Replay plays back recorded frames in order, wrapping to the start when it
// reaches the end. Each fixture line is a JSON array of [x, y, w, h] boxes;
// "[]" is a frame with nothing detected. Blank lines and lines starting with
// '#' are ignored.
//
// Every NextFrame and Skip waits one frame interval, so a replay paces the
// loop the way a camera does. Skip does not move through the recording: each
// recorded frame is decided on exactly once, in order, however long the
// actuator takes to acknowledge.
type Replay struct {
	clock    timeutil.Clock
	interval time.Duration

	mu      sync.Mutex
	frames  []targeting.Frame
	next    int
	served  int
	skipped int
}

// ReplayOption customises a Replay.
type ReplayOption func(*Replay)

// WithFrameInterval sets the time each frame takes to arrive. Zero serves
// frames as fast as they are asked for.
func WithFrameInterval(d time.Duration) ReplayOption {
	return func(r *Replay) { r.interval = d }
}

// WithReplayClock replaces the real clock used for pacing.
func WithReplayClock(clock timeutil.Clock) ReplayOption {
	return func(r *Replay) { r.clock = clock }
}

// NewReplay parses fixture lines from r.
func NewReplay(r io.Reader, opts ...ReplayOption) (*Replay, error) {
	var frames []targeting.Frame
	scan := bufio.NewScanner(r)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		frame, err := parseFrame(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		frames = append(frames, frame)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	replay := &Replay{
		clock:    timeutil.RealClock{},
		interval: DefaultFrameInterval,
		frames:   frames,
	}
	for _, opt := range opts {
		opt(replay)
	}
	return replay, nil
}

// LoadReplay opens a fixture file.
func LoadReplay(path string, opts ...ReplayOption) (*Replay, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures: %w", err)
	}
	defer f.Close()
	return NewReplay(f, opts...)
}

func parseFrame(line string) (targeting.Frame, error) {
	var boxes [][]int
	if err := json.Unmarshal([]byte(line), &boxes); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	frame := make(targeting.Frame, 0, len(boxes))
	for i, b := range boxes {
		if len(b) != 4 {
			return nil, fmt.Errorf("box %d: expected [x, y, w, h], got %d values", i, len(b))
		}
		frame = append(frame, targeting.Region{X: b[0], Y: b[1], Width: b[2], Height: b[3]})
	}
	return frame, nil
}

// NextFrame waits one frame interval and returns the next recorded frame.
func (r *Replay) NextFrame(ctx context.Context) (targeting.Frame, error) {
	if err := timeutil.SleepContext(ctx, r.clock, r.interval); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.frames[r.next]
	r.next = (r.next + 1) % len(r.frames)
	r.served++
	out := make(targeting.Frame, len(f))
	copy(out, f)
	return out, nil
}

// Skip waits one frame interval and leaves the playback position unchanged.
func (r *Replay) Skip(ctx context.Context) error {
	if err := timeutil.SleepContext(ctx, r.clock, r.interval); err != nil {
		return err
	}
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
	return nil
}

// Len returns the number of distinct frames in the fixture.
func (r *Replay) Len() int {
	return len(r.frames)
}

// Served returns how many frames have been handed out.
func (r *Replay) Served() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.served
}

// Skipped returns how many frames have been discarded with Skip.
func (r *Replay) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}
