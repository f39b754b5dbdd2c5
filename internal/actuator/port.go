// Package actuator is the half-duplex link to the motor and launcher
// controller. Commands go out as text lines; the controller answers each one
// with a single receipt byte when it has finished executing it.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pursuit/internal/command"
	"github.com/banshee-data/pursuit/internal/monitoring"
	"github.com/banshee-data/pursuit/internal/timeutil"
)

// ErrWriteFailed is returned when the port accepts fewer bytes than written.
var ErrWriteFailed = errors.New("failed to write to serial port")

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is implemented by ports whose reads can be made
// non-blocking. go.bug.st/serial returns (0, nil) from Read once the timeout
// elapses, and a zero timeout turns Read into a poll.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// drainer is implemented by ports that can block until queued output has
// been transmitted.
type drainer interface {
	Drain() error
}

// inputResetter is implemented by ports that can discard unread input.
type inputResetter interface {
	ResetInputBuffer() error
}

// Link is what the control loop needs from the actuator: a fire-and-forget
// write and a non-blocking check-and-consume of one receipt byte.
type Link interface {
	Write(p []byte) error
	PollByte() (b byte, ok bool, err error)
}

// Stats is a snapshot of link traffic counters.
type Stats struct {
	BytesWritten int64     `json:"bytes_written"`
	Writes       int64     `json:"writes"`
	WriteErrors  int64     `json:"write_errors"`
	Receipts     int64     `json:"receipts"`
	Rejections   int64     `json:"rejections"`
	LastReceipt  byte      `json:"last_receipt"`
	LastWriteAt  time.Time `json:"last_write_at"`
}

// SerialLink implements Link on top of a serial port. It is owned by a single
// goroutine; only the counters may be read concurrently.
type SerialLink[T SerialPorter] struct {
	port T
	buf  [1]byte

	bytesWritten atomic.Int64
	writes       atomic.Int64
	writeErrors  atomic.Int64
	receipts     atomic.Int64
	rejections   atomic.Int64
	lastReceipt  atomic.Uint32
	lastWriteAt  atomic.Int64
}

// NewSerialLink wraps port. Ports that support read timeouts are switched to
// non-blocking reads so PollByte never stalls the loop.
func NewSerialLink[T SerialPorter](port T) (*SerialLink[T], error) {
	if tp, ok := any(port).(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(0); err != nil {
			return nil, fmt.Errorf("failed to set non-blocking read: %w", err)
		}
	}
	return &SerialLink[T]{port: port}, nil
}

// Port returns the underlying port.
func (l *SerialLink[T]) Port() T {
	return l.port
}

// Write sends p in full and waits for it to leave the output buffer when the
// port supports it.
func (l *SerialLink[T]) Write(p []byte) error {
	n, err := l.port.Write(p)
	if err != nil {
		l.writeErrors.Add(1)
		return err
	}
	if n != len(p) {
		l.writeErrors.Add(1)
		return ErrWriteFailed
	}
	// Without a drain the controller sometimes never sees the command.
	if d, ok := any(l.port).(drainer); ok {
		if err := d.Drain(); err != nil {
			l.writeErrors.Add(1)
			return fmt.Errorf("failed to drain serial output: %w", err)
		}
	}
	l.bytesWritten.Add(int64(n))
	l.writes.Add(1)
	l.lastWriteAt.Store(time.Now().UnixNano())
	return nil
}

// PollByte consumes at most one byte from the port.
func (l *SerialLink[T]) PollByte() (byte, bool, error) {
	n, err := l.port.Read(l.buf[:])
	if n == 1 {
		b := l.buf[0]
		l.receipts.Add(1)
		l.lastReceipt.Store(uint32(b))
		if b == command.ReceiptRejected {
			l.rejections.Add(1)
		}
		return b, true, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, false, err
	}
	return 0, false, nil
}

// Settle waits for the controller to leave its bootloader after the port is
// opened and then discards anything it printed meanwhile. Cancelling ctx
// ends the wait early.
func (l *SerialLink[T]) Settle(ctx context.Context, clock timeutil.Clock, delay time.Duration) error {
	if delay > 0 {
		monitoring.Logf("waiting %s for actuator controller to settle", delay)
	}
	if err := timeutil.SleepContext(ctx, clock, delay); err != nil {
		return err
	}
	if err := l.discardInput(); err != nil {
		return err
	}
	l.receipts.Store(0)
	l.rejections.Store(0)
	return nil
}

func (l *SerialLink[T]) discardInput() error {
	if r, ok := any(l.port).(inputResetter); ok {
		return r.ResetInputBuffer()
	}
	// Fall back to polling out whatever is buffered.
	for i := 0; i < 4096; i++ {
		_, ok, err := l.PollByte()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

// Stats returns a snapshot of the traffic counters.
func (l *SerialLink[T]) Stats() Stats {
	s := Stats{
		BytesWritten: l.bytesWritten.Load(),
		Writes:       l.writes.Load(),
		WriteErrors:  l.writeErrors.Load(),
		Receipts:     l.receipts.Load(),
		Rejections:   l.rejections.Load(),
		LastReceipt:  byte(l.lastReceipt.Load()),
	}
	if ns := l.lastWriteAt.Load(); ns != 0 {
		s.LastWriteAt = time.Unix(0, ns)
	}
	return s
}

// Close closes the underlying port.
func (l *SerialLink[T]) Close() error {
	return l.port.Close()
}
