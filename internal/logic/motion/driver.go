// Package motion moves the four leg servos together. It is the only layer
// that writes pulse widths: everything above it speaks in poses.
package motion

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/OttoGo/internal/debug"
	"github.com/cjeanneret/OttoGo/internal/hw/servo"
)

// OffsetUnit is the pulse width (us) of one pose offset unit.
const OffsetUnit = 10

// Channel describes one actuator.
type Channel struct {
	Pin     int
	Home    int // us
	Min     int // us
	Max     int // us
	Current int // last width written (us)
}

// Clamp limits us to the channel bounds.
func (c Channel) Clamp(us int) int {
	return min(max(us, c.Min), c.Max)
}

// Config tunes the interpolation.
type Config struct {
	Tick   time.Duration // delay between two micro-updates
	StepUs int           // default width change per tick on the widest channel
}

// Driver moves all channels from their current widths to new targets so
// that they start and finish together. Only one goroutine may move at a
// time; readers may query positions concurrently.
type Driver struct {
	log   *debug.Logger
	svc   servo.Service
	multi servo.MultiSetter
	tick  time.Duration
	step  int

	mu  sync.RWMutex
	ch  [4]Channel
	pin []int
}

// NewDriver builds a driver over svc. Channel Current values are taken as
// the starting point; a zero Current starts at Home.
func NewDriver(svc servo.Service, channels [4]Channel, cfg Config, log *debug.Logger) *Driver {
	d := &Driver{
		log:  log,
		svc:  svc,
		tick: cfg.Tick,
		step: cfg.StepUs,
		pin:  make([]int, 4),
	}
	if m, ok := svc.(servo.MultiSetter); ok {
		d.multi = m
	}
	if d.step <= 0 {
		d.step = 25
	}
	for i, c := range channels {
		if c.Current == 0 {
			c.Current = c.Home
		}
		c.Current = c.Clamp(c.Current)
		d.ch[i] = c
		d.pin[i] = c.Pin
	}
	return d
}

// errAbandoned marks a move stopped by a transient write error.
var errAbandoned = errors.New("move abandoned")

// MoveTo drives every channel to target (us). speed is the width change per
// tick on the channel with the largest delta; 0 selects the default. With
// quiet set, the target is written in one update without pacing.
//
// Only a lost service is returned as an error. Other write errors are
// logged and leave the channels wherever the last good update put them.
func (d *Driver) MoveTo(target [4]int, speed int, quiet bool) error {
	d.mu.RLock()
	var start [4]int
	for i, c := range d.ch {
		start[i] = c.Current
		if t := c.Clamp(target[i]); t != target[i] {
			metricClamped.Inc()
			target[i] = t
		}
	}
	d.mu.RUnlock()

	metricMoves.Inc()
	d.log.Verbose("move %v -> %v (v=%d q=%t)", start, target, speed, quiet)

	if quiet {
		return d.finish(d.write(target))
	}

	step := speed
	if step <= 0 {
		step = d.step
	}
	maxDelta := 0
	var delta [4]int
	for i := range target {
		delta[i] = target[i] - start[i]
		maxDelta = max(maxDelta, abs(delta[i]))
	}
	if maxDelta == 0 {
		return nil
	}
	n := (maxDelta + step - 1) / step

	for i := 1; i <= n; i++ {
		var v [4]int
		for c := range v {
			v[c] = start[c] + delta[c]*i/n
		}
		if err := d.write(v); err != nil {
			return d.finish(err)
		}
		if i < n {
			time.Sleep(d.tick)
		}
	}
	return nil
}

func (d *Driver) finish(err error) error {
	if errors.Is(err, errAbandoned) {
		return nil
	}
	return err
}

// write sends one synchronized update and records it.
func (d *Driver) write(v [4]int) error {
	metricTicks.Inc()

	var err error
	if d.multi != nil {
		err = d.multi.SetPulses(d.pin, v[:])
	} else {
		for i, w := range v {
			if err = d.svc.SetPulse(d.pin[i], w); err != nil {
				break
			}
		}
	}
	if err != nil {
		metricWriteErrors.Inc()
		if errors.Is(err, servo.ErrServiceLost) {
			return err
		}
		d.log.Errorf("pulse write failed, move abandoned: %v", err)
		return errAbandoned
	}

	d.mu.Lock()
	for i := range d.ch {
		d.ch[i].Current = v[i]
	}
	d.mu.Unlock()
	return nil
}

// MoveOffsets moves to home + offset*OffsetUnit on every channel.
func (d *Driver) MoveOffsets(offsets [4]int, speed int, quiet bool) error {
	d.mu.RLock()
	var target [4]int
	for i, c := range d.ch {
		target[i] = c.Home + offsets[i]*OffsetUnit
	}
	d.mu.RUnlock()
	return d.MoveTo(target, speed, quiet)
}

// Home moves every channel to its home width.
func (d *Driver) Home(speed int, quiet bool) error {
	return d.MoveOffsets([4]int{}, speed, quiet)
}

// Off stops the pulses so the servos go limp.
func (d *Driver) Off() error {
	d.log.Live("servos off")
	var errs error
	for _, pin := range d.pin {
		errs = multierr.Append(errs, d.svc.Disable(pin))
	}
	return errs
}

// Position returns the current offsets from home, in offset units.
func (d *Driver) Position() [4]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var p [4]int
	for i, c := range d.ch {
		p[i] = (c.Current - c.Home) / OffsetUnit
	}
	return p
}

// Pulses returns the current widths (us).
func (d *Driver) Pulses() [4]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var p [4]int
	for i, c := range d.ch {
		p[i] = c.Current
	}
	return p
}

// Homes returns the home widths (us).
func (d *Driver) Homes() [4]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var p [4]int
	for i, c := range d.ch {
		p[i] = c.Home
	}
	return p
}

// SetHome changes the home width of channel ch, clamped to its bounds, and
// returns the value kept.
func (d *Driver) SetHome(ch, us int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ch[ch].Home = d.ch[ch].Clamp(us)
	return d.ch[ch].Home
}

// Channels returns a snapshot of the channel set.
func (d *Driver) Channels() [4]Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ch
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
