package gpio

import "sync"

// Mock is an in-memory backend for development machines and tests.
// Pins start low and remember whatever level was last written.
type Mock struct {
	mu   sync.Mutex
	pins map[int]bool

	// FailSet, when non-nil, is returned by every SetPin call.
	// Tests use this to exercise retry and failure paths.
	FailSet error

	// writes counts SetPin invocations, including failed ones.
	writes int
}

// NewMock creates a mock backend with all pins low.
func NewMock() *Mock {
	return &Mock{pins: make(map[int]bool)}
}

func (m *Mock) Name() string {
	return "mock"
}

func (m *Mock) SetPin(pin int, high bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if m.FailSet != nil {
		return m.FailSet
	}
	m.pins[pin] = high
	return nil
}

func (m *Mock) GetPin(pin int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins[pin], nil
}

func (m *Mock) Close() error {
	return nil
}

// Writes returns the number of SetPin calls made so far.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// SetFailure makes all subsequent SetPin calls return err.
// Pass nil to restore normal behaviour.
func (m *Mock) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailSet = err
}
