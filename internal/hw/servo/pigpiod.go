package servo

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cjeanneret/OttoGo/internal/debug"
)

// pigpiod socket command numbers.
const (
	pigpioCmdModes = 0
	pigpioCmdServo = 8

	pigpioModeOutput = 1

	pigpioTimeout = time.Second
)

// Pigpiod drives servos through the pigpio daemon socket interface
// (default port 8888). Each request and response is four little-endian
// uint32 words: cmd, p1, p2, p3/result.
type Pigpiod struct {
	log *debug.Logger

	mu   sync.Mutex
	conn net.Conn
	buf  [16]byte
}

// DialPigpiod connects to a running pigpiod and puts pins in output mode.
func DialPigpiod(addr string, pins []int, log *debug.Logger) (*Pigpiod, error) {
	conn, err := net.DialTimeout("tcp", addr, pigpioTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial pigpiod %s: %w", addr, err)
	}
	log.Verbose("connected to pigpiod at %s", addr)

	p := newPigpiod(conn, log)
	for _, pin := range pins {
		if err := p.SetOutput(pin); err != nil {
			conn.Close()
			return nil, fmt.Errorf("gpio %d output mode: %w", pin, err)
		}
	}
	return p, nil
}

func newPigpiod(conn net.Conn, log *debug.Logger) *Pigpiod {
	return &Pigpiod{conn: conn, log: log}
}

// SetPulse starts servo pulses of widthUs on pin (500..2500, 0 = off).
func (p *Pigpiod) SetPulse(pin, widthUs int) error {
	p.log.Pulse("SetPulse", pin, widthUs)
	_, err := p.command(pigpioCmdServo, uint32(pin), uint32(widthUs))
	return err
}

// Disable stops servo pulses on pin.
func (p *Pigpiod) Disable(pin int) error {
	p.log.Pulse("Disable", pin, 0)
	_, err := p.command(pigpioCmdServo, uint32(pin), 0)
	return err
}

// SetOutput puts pin in output mode.
func (p *Pigpiod) SetOutput(pin int) error {
	p.log.GPIO("SetOutput", pin, pigpioModeOutput)
	_, err := p.command(pigpioCmdModes, uint32(pin), pigpioModeOutput)
	return err
}

func (p *Pigpiod) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}

// command sends one request and waits for its response. Transport failures
// wrap ErrServiceLost; a negative daemon result is an ordinary error.
func (p *Pigpiod) command(cmd, p1, p2 uint32) (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	binary.LittleEndian.PutUint32(p.buf[0:], cmd)
	binary.LittleEndian.PutUint32(p.buf[4:], p1)
	binary.LittleEndian.PutUint32(p.buf[8:], p2)
	binary.LittleEndian.PutUint32(p.buf[12:], 0)

	_ = p.conn.SetDeadline(time.Now().Add(pigpioTimeout))
	if _, err := p.conn.Write(p.buf[:]); err != nil {
		return 0, fmt.Errorf("%w: write: %v", ErrServiceLost, err)
	}
	if _, err := io.ReadFull(p.conn, p.buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read: %v", ErrServiceLost, err)
	}

	res := int32(binary.LittleEndian.Uint32(p.buf[12:]))
	if res < 0 {
		return res, fmt.Errorf("pigpiod cmd %d gpio %d: error %d", cmd, p1, res)
	}
	return res, nil
}
