package gpio

import (
	"sync"
	"time"

	"github.com/cjeanneret/OttoGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool, log *debug.Logger) (Driver, error) {
	if mock {
		log.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(log), nil
	}
	return NewRPiDriver(log)
}

// MockDriver logs every action and can simulate an ultrasonic echo so that
// the range sensor works on a development machine.
type MockDriver struct {
	log *debug.Logger

	mu        sync.Mutex
	levels    map[int]Level
	echo      *echoSim
	echoStart time.Time
}

type echoSim struct {
	trigger, echo int
	roundTrip     time.Duration
}

// NewMockDriver returns a mock driver with all pins low.
func NewMockDriver(log *debug.Logger) *MockDriver {
	return &MockDriver{log: log, levels: make(map[int]Level)}
}

// SimulateEcho makes echoPin read High for roundTrip right after triggerPin
// falls, the way an HC-SR04 answers a trigger pulse.
func (m *MockDriver) SimulateEcho(triggerPin, echoPin int, roundTrip time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echo = &echoSim{trigger: triggerPin, echo: echoPin, roundTrip: roundTrip}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	m.log.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	m.log.GPIO("WritePin", pin, level)

	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.levels[pin]
	m.levels[pin] = level
	if m.echo != nil && pin == m.echo.trigger && prev == High && level == Low {
		m.echoStart = time.Now()
	}
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.log.GPIO("ReadPin", pin, nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.echo != nil && pin == m.echo.echo && !m.echoStart.IsZero() {
		if time.Since(m.echoStart) < m.echo.roundTrip {
			return High, nil
		}
		return Low, nil
	}
	return m.levels[pin], nil
}

func (m *MockDriver) Close() error {
	m.log.Trace("GPIO Close (mock)")
	return nil
}
