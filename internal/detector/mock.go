package detector

import "sync"

// MockBackend is a test implementation of the Backend interface.
// It allows tests to control inference results call by call.
type MockBackend struct {
	spec InputSpec
	kind OutputKind

	mu     sync.Mutex
	output Output
	err    error
	fn     func(call int, req Request) (Output, error)
	calls  int
	closed bool
}

// NewMockBackend creates a MockBackend with the given input spec and
// output convention.
func NewMockBackend(spec InputSpec, kind OutputKind) *MockBackend {
	return &MockBackend{spec: spec, kind: kind}
}

// SetOutput sets the output returned by every Invoke.
func (m *MockBackend) SetOutput(out Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.output = out
}

// SetError sets the error returned by every Invoke.
func (m *MockBackend) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetFunc scripts Invoke per call; call numbers start at 0. It takes
// precedence over SetOutput and SetError.
func (m *MockBackend) SetFunc(fn func(call int, req Request) (Output, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

func (m *MockBackend) Spec() InputSpec  { return m.spec }
func (m *MockBackend) Kind() OutputKind { return m.kind }

// Invoke returns the scripted output or error.
func (m *MockBackend) Invoke(req Request) (Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.calls
	m.calls++

	if m.fn != nil {
		return m.fn(call, req)
	}
	if m.err != nil {
		return Output{}, m.err
	}
	return m.output, nil
}

// Calls returns the number of Invoke calls so far.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockBackend) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
