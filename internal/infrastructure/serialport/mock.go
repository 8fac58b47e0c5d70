package serialport

import (
	"bytes"
	"sync"
	"time"
)

// Write is one recorded MockPort write.
type Write struct {
	At   time.Time
	Data []byte
}

// MockPort is an in-memory Port with injectable failures.
// An empty read buffer behaves like a read timeout (0, nil).
type MockPort struct {
	mu sync.Mutex

	now func() time.Time

	readBuf *bytes.Buffer
	writes  []Write

	// WriteError is returned by every Write while set.
	WriteError error
	// ReadError is returned by every Read while set.
	ReadError error
	// CloseError is returned by Close.
	CloseError error

	closed      bool
	closeCalls  int
	readCalls   int
	readTimeout time.Duration
}

// NewMockPort returns an open mock port. now stamps recorded writes; nil
// means time.Now.
func NewMockPort(now func() time.Time) *MockPort {
	if now == nil {
		now = time.Now
	}
	return &MockPort{now: now, readBuf: bytes.NewBuffer(nil)}
}

// Read implements Port.
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	if m.closed {
		return 0, ErrClosed
	}
	if m.ReadError != nil {
		return 0, m.ReadError
	}
	if m.readBuf.Len() == 0 {
		return 0, nil
	}
	return m.readBuf.Read(p)
}

// Write implements Port.
func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.writes = append(m.writes, Write{At: m.now(), Data: append([]byte(nil), p...)})
	return len(p), nil
}

// Close implements Port.
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.closeCalls++
	return m.CloseError
}

// SetReadTimeout implements Port.
func (m *MockPort) SetReadTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = timeout
	return nil
}

// FailWrites makes subsequent writes return err. nil clears the failure.
func (m *MockPort) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteError = err
}

// FailReads makes subsequent reads return err. nil clears the failure.
func (m *MockPort) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadError = err
}

// AddReadData queues bytes for later reads.
func (m *MockPort) AddReadData(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuf.Write(data)
}

// Writes returns a copy of every successful write.
func (m *MockPort) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// Closed reports whether Close has been called.
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ReadCalls returns the number of Read calls.
func (m *MockPort) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// ReadTimeout returns the last timeout set.
func (m *MockPort) ReadTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readTimeout
}

// MockOpener hands out MockPorts. Each Open creates a fresh port unless
// OpenError is set.
type MockOpener struct {
	mu sync.Mutex

	now   func() time.Time
	ports []*MockPort
	paths []string
	opts  []Options

	// OpenError is returned by Open while set.
	OpenError error
}

// NewMockOpener returns an opener whose ports stamp writes with now.
func NewMockOpener(now func() time.Time) *MockOpener {
	return &MockOpener{now: now}
}

// Open implements Opener.
func (o *MockOpener) Open(path string, opts Options) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paths = append(o.paths, path)
	o.opts = append(o.opts, opts)
	if o.OpenError != nil {
		return nil, o.OpenError
	}
	p := NewMockPort(o.now)
	o.ports = append(o.ports, p)
	return p, nil
}

// FailOpens makes subsequent opens return err. nil clears the failure.
func (o *MockOpener) FailOpens(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OpenError = err
}

// Attempts returns the number of Open calls, successful or not.
func (o *MockOpener) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.paths)
}

// Ports returns every port opened so far, oldest first.
func (o *MockOpener) Ports() []*MockPort {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*MockPort, len(o.ports))
	copy(out, o.ports)
	return out
}

// Last returns the most recently opened port, or nil.
func (o *MockOpener) Last() *MockPort {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.ports) == 0 {
		return nil
	}
	return o.ports[len(o.ports)-1]
}

// Writes returns the writes of every port in open order.
func (o *MockOpener) Writes() []Write {
	var all []Write
	for _, p := range o.Ports() {
		all = append(all, p.Writes()...)
	}
	return all
}
