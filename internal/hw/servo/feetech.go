package servo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/cjeanneret/OttoGo/internal/debug"
)

const (
	feetechTimeout = 200 * time.Millisecond

	// STS servos count 4096 steps per turn; a hobby servo covers 180 degrees
	// over 2000us around a 1500us center.
	feetechCenter     = 2048
	feetechPulseSpan  = 2000
	feetechStepsSpan  = 2048
	feetechPulseMidUs = 1500
)

// Feetech emulates a pulse-width service on Feetech STS bus servos. Pins are
// servo bus ids; pulse widths are mapped onto positions so the rest of the
// robot keeps thinking in microseconds.
type Feetech struct {
	log *debug.Logger

	mu    sync.Mutex
	bus   *feetech.Bus
	group *feetech.ServoGroup
	limp  map[int]bool
}

// OpenFeetech opens the bus on portName and groups the given servo ids.
func OpenFeetech(portName string, baud int, ids []int, log *debug.Logger) (*Feetech, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     portName,
		BaudRate: baud,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	log.Verbose("opened Feetech bus on %s, ids %v", portName, ids)

	return &Feetech{
		log:   log,
		bus:   bus,
		group: feetech.NewServoGroupByIDs(bus, ids...),
		limp:  make(map[int]bool),
	}, nil
}

// PulseToPosition maps a pulse width (us) to an STS position step.
func PulseToPosition(widthUs int) int {
	pos := feetechCenter + (widthUs-feetechPulseMidUs)*feetechStepsSpan/feetechPulseSpan
	return min(max(pos, 0), 4095)
}

func (f *Feetech) SetPulse(pin, widthUs int) error {
	return f.SetPulses([]int{pin}, []int{widthUs})
}

// SetPulses writes all positions with one sync write.
func (f *Feetech) SetPulses(pins, widthsUs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), feetechTimeout)
	defer cancel()

	positions := make(feetech.PositionMap, len(pins))
	for i, id := range pins {
		if widthsUs[i] <= 0 {
			continue
		}
		if f.limp[id] {
			if err := feetech.NewServo(f.bus, id, nil).Enable(ctx); err != nil {
				return fmt.Errorf("enable servo %d: %w", id, err)
			}
			delete(f.limp, id)
		}
		f.log.Pulse("SetPulses", id, widthsUs[i])
		positions[id] = PulseToPosition(widthsUs[i])
	}
	if len(positions) == 0 {
		return nil
	}
	if err := f.group.SetPositions(ctx, positions); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

// Disable turns torque off so the servo goes limp.
func (f *Feetech) Disable(pin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), feetechTimeout)
	defer cancel()

	f.log.Pulse("Disable", pin, 0)
	if err := feetech.NewServo(f.bus, pin, nil).Disable(ctx); err != nil {
		return fmt.Errorf("disable servo %d: %w", pin, err)
	}
	f.limp[pin] = true
	return nil
}

func (f *Feetech) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bus.Close()
}
