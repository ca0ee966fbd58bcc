// Package servo talks to the pulse-width service that drives the leg servos.
// Every backend implements Service; a Handle records whether the process
// created the service and therefore has to release it.
package servo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/OttoGo/internal/debug"
)

// ErrServiceLost reports that the connection to the pulse-width service is
// gone. It is fatal to the driver.
var ErrServiceLost = errors.New("pulse-width service lost")

// Service sets servo pulse widths in microseconds. A width of 0 means
// "no pulse" (servo limp).
type Service interface {
	SetPulse(pin, widthUs int) error
	Disable(pin int) error
	Close() error
}

// MultiSetter is implemented by services able to update several channels in
// one transaction.
type MultiSetter interface {
	SetPulses(pins, widthsUs []int) error
}

// Handle is a Service together with its ownership.
type Handle struct {
	Service Service
	Owned   bool

	once sync.Once
	err  error
}

// Owned wraps a service the caller created and must release.
func Owned(s Service) *Handle { return &Handle{Service: s, Owned: true} }

// Borrowed wraps a service supplied from outside; Release leaves it open.
func Borrowed(s Service) *Handle { return &Handle{Service: s} }

// Release closes the service if it is owned. Only the first call has an
// effect.
func (h *Handle) Release() error {
	h.once.Do(func() {
		if h.Owned {
			h.err = h.Service.Close()
		}
	})
	return h.err
}

// Options selects and parameterizes a backend.
type Options struct {
	Backend  string // "mock", "pigpiod", "maestro", "feetech"
	Address  string // pigpiod host:port
	Port     string // serial device
	BaudRate int
	Pins     [4]int
}

// Open connects to the backend named in opts. The returned handle is owned.
func Open(opts Options, log *debug.Logger) (*Handle, error) {
	var (
		s   Service
		err error
	)
	switch opts.Backend {
	case "mock", "":
		s = NewMock(log)
	case "pigpiod":
		s, err = DialPigpiod(opts.Address, opts.Pins[:], log)
	case "maestro":
		s, err = OpenMaestro(opts.Port, opts.BaudRate, log)
	case "feetech":
		s, err = OpenFeetech(opts.Port, opts.BaudRate, opts.Pins[:], log)
	default:
		return nil, fmt.Errorf("unsupported service backend: %s", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s service: %w", opts.Backend, err)
	}
	log.Info("pulse-width service: %s", opts.Backend)
	return Owned(s), nil
}
