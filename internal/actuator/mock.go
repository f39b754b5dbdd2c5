package actuator

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestPort implements TimeoutSerialPorter with scriptable behaviour for tests.
// Reads never block: an empty read buffer returns (0, nil) like a serial port
// with a zero read timeout.
type TestPort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	writes   [][]byte

	// ReadError is returned by the next Read call if set.
	ReadError error
	// WriteError is returned by the next Write call if set.
	WriteError error
	// ShortWrite makes the next Write report one byte fewer than given.
	ShortWrite bool

	ReadCalls   int
	ReadTimeout time.Duration
	Closed      bool
}

// NewTestPort creates an empty TestPort.
func NewTestPort() *TestPort {
	return &TestPort{ReadTimeout: -1}
}

// Read returns buffered data or (0, nil) when nothing is pending.
func (t *TestPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.readBuf.Len() == 0 {
		return 0, nil
	}
	return t.readBuf.Read(p)
}

// Write records p as one command.
func (t *TestPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	n := len(p)
	if t.ShortWrite {
		t.ShortWrite = false
		n--
	}
	t.writeBuf.Write(p[:n])
	t.writes = append(t.writes, append([]byte(nil), p[:n]...))
	return n, nil
}

// Close marks the port as closed.
func (t *TestPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return nil
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// AddReadData queues bytes to be returned by subsequent reads.
func (t *TestPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuf.Write(data)
}

// Pending returns the number of unread bytes.
func (t *TestPort) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readBuf.Len()
}

// Written returns everything written so far.
func (t *TestPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuf.String()
}

// Writes returns each Write call's payload.
func (t *TestPort) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.writes))
	for i, w := range t.writes {
		out[i] = string(w)
	}
	return out
}
