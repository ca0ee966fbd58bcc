package servo

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/cjeanneret/OttoGo/internal/debug"
)

// Pololu Maestro compact protocol commands.
const (
	maestroSetTarget          = 0x84
	maestroSetMultipleTargets = 0x9f
)

// Maestro drives servos through a Pololu Maestro USB servo controller. Pins
// are Maestro channel numbers; targets are sent in quarter-microseconds.
type Maestro struct {
	log *debug.Logger

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// OpenMaestro opens the Maestro command port (e.g. /dev/ttyACM0).
func OpenMaestro(portName string, baud int, log *debug.Logger) (*Maestro, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", portName, err)
	}
	log.Verbose("opened Maestro on %s (%d baud)", portName, baud)
	return newMaestro(port, log), nil
}

func newMaestro(port io.ReadWriteCloser, log *debug.Logger) *Maestro {
	return &Maestro{port: port, log: log}
}

func lo7(x uint16) byte { return byte(x & 0x7f) }
func hi7(x uint16) byte { return byte((x >> 7) & 0x7f) }

func quarterMicros(widthUs int) uint16 {
	if widthUs <= 0 {
		return 0
	}
	return uint16(widthUs * 4)
}

func (m *Maestro) SetPulse(pin, widthUs int) error {
	m.log.Pulse("SetPulse", pin, widthUs)
	t := quarterMicros(widthUs)
	return m.write([]byte{maestroSetTarget, byte(pin), lo7(t), hi7(t)})
}

// Disable sends a zero target, which stops pulses on the channel.
func (m *Maestro) Disable(pin int) error {
	m.log.Pulse("Disable", pin, 0)
	return m.write([]byte{maestroSetTarget, byte(pin), 0, 0})
}

// SetPulses uses Set Multiple Targets when the pins are consecutive
// channels, and one Set Target per channel otherwise.
func (m *Maestro) SetPulses(pins, widthsUs []int) error {
	if len(pins) == 0 {
		return nil
	}
	if !consecutive(pins) {
		for i, pin := range pins {
			if err := m.SetPulse(pin, widthsUs[i]); err != nil {
				return err
			}
		}
		return nil
	}

	cmd := make([]byte, 0, 3+2*len(pins))
	cmd = append(cmd, maestroSetMultipleTargets, byte(len(pins)), byte(pins[0]))
	for i, w := range widthsUs {
		m.log.Pulse("SetPulses", pins[i], w)
		t := quarterMicros(w)
		cmd = append(cmd, lo7(t), hi7(t))
	}
	return m.write(cmd)
}

func consecutive(pins []int) bool {
	for i := 1; i < len(pins); i++ {
		if pins[i] != pins[i-1]+1 {
			return false
		}
	}
	return true
}

func (m *Maestro) write(cmd []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.port.Write(cmd); err != nil {
		return fmt.Errorf("%w: maestro write: %v", ErrServiceLost, err)
	}
	return nil
}

func (m *Maestro) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port.Close()
}
