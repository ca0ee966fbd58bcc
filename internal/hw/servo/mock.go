package servo

import (
	"sync"

	"github.com/cjeanneret/OttoGo/internal/debug"
)

// Mock is an in-memory Service used for development on a PC and in tests.
// It remembers the last width written to each pin and counts writes.
type Mock struct {
	log *debug.Logger

	mu      sync.Mutex
	widths  map[int]int
	history map[int][]int
	writes  int
	batches int
	fail    error
	closed  int
}

// NewMock returns an empty mock service.
func NewMock(log *debug.Logger) *Mock {
	return &Mock{
		log:     log,
		widths:  make(map[int]int),
		history: make(map[int][]int),
	}
}

func (m *Mock) SetPulse(pin, widthUs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.log.Pulse("SetPulse", pin, widthUs)
	m.widths[pin] = widthUs
	m.history[pin] = append(m.history[pin], widthUs)
	m.writes++
	return nil
}

// SetPulses records one batch, so tests can tell synchronized ticks apart.
func (m *Mock) SetPulses(pins, widthsUs []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for i, pin := range pins {
		m.log.Pulse("SetPulses", pin, widthsUs[i])
		m.widths[pin] = widthsUs[i]
		m.history[pin] = append(m.history[pin], widthsUs[i])
		m.writes++
	}
	m.batches++
	return nil
}

func (m *Mock) Disable(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.log.Pulse("Disable", pin, 0)
	m.widths[pin] = 0
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// Fail makes every following call return err; nil restores normal behavior.
func (m *Mock) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Width returns the last width written to pin (0 if limp or never set).
func (m *Mock) Width(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.widths[pin]
}

// History returns every width written to pin, in order.
func (m *Mock) History(pin int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.history[pin]...)
}

// Writes returns the number of individual pulse writes.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Batches returns the number of SetPulses calls.
func (m *Mock) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

// Closed returns how many times Close was called.
func (m *Mock) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
