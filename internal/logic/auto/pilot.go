// Package auto drives the robot on its own: when enabled it keeps choosing
// commands and handing them to the controller, one at a time.
package auto

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjeanneret/OttoGo/internal/command"
	"github.com/cjeanneret/OttoGo/internal/debug"
	"github.com/cjeanneret/OttoGo/internal/hw/ranger"
)

// ErrEnded is returned by Exec once End has been called.
var ErrEnded = errors.New("autopilot ended")

// Target receives the commands the pilot issues.
type Target interface {
	Submit(cmd command.Command, interrupt bool) bool
}

// Options tunes the policy.
type Options struct {
	Interval   time.Duration // minimum time between two autonomous commands
	ObstacleMm int           // closer than this, back off and turn
	StrideMm   int
}

// Telemetry is reported for relayed commands.
type Telemetry struct {
	DistanceMM int `json:"distance_mm"`
	Steps      int `json:"steps"`
	ObstacleMM int `json:"obstacle_mm,omitempty"`
}

// relayed kinds may be sent through the pilot as auto_<name>.
var relayed = map[command.Kind]bool{
	command.Forward:    true,
	command.Backward:   true,
	command.TurnLeft:   true,
	command.TurnRight:  true,
	command.SlideLeft:  true,
	command.SlideRight: true,
	command.Happy:      true,
	command.Ojigi:      true,
	command.Home:       true,
	command.Position:   true,
}

// choice is one weighted entry of the wandering policy.
type choice struct {
	kind   command.Kind
	weight int
}

var wander = []choice{
	{command.Forward, 50},
	{command.TurnLeft, 15},
	{command.TurnRight, 15},
	{command.SlideLeft, 5},
	{command.SlideRight, 5},
	{command.Happy, 5},
	{command.Ojigi, 5},
}

// Pilot is the autonomous loop.
type Pilot struct {
	log     *debug.Logger
	target  Target
	sensor  ranger.Sensor
	opts    Options
	limiter *rate.Limiter

	enabled atomic.Bool
	wake    chan struct{}

	// gate serializes submissions against End and against switching off:
	// once either holds it exclusively, no autonomous command goes out.
	gate  sync.RWMutex
	ended bool

	mu      sync.Mutex
	last    Telemetry
	pending []command.Kind

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	endOnce   sync.Once
}

// New builds a pilot. sensor may be nil.
func New(target Target, sensor ranger.Sensor, opts Options, log *debug.Logger) *Pilot {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pilot{
		log:     log,
		target:  target,
		sensor:  sensor,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.Interval), 1),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the loop. It idles until the pilot is switched on.
func (p *Pilot) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// Enabled reports whether the pilot is choosing commands.
func (p *Pilot) Enabled() bool {
	return p.enabled.Load()
}

// Last returns the telemetry of the last completed command.
func (p *Pilot) Last() Telemetry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Handles reports whether name (without the auto_ prefix) is a pilot
// command.
func (p *Pilot) Handles(name string) bool {
	if name == command.AutoOn.String() || name == command.AutoOff.String() {
		return true
	}
	k, _, ok := command.Lookup(name)
	return ok && relayed[k]
}

// Exec runs a pilot command: "on" and "off" switch the loop, relayed names
// are forwarded to the target and their telemetry returned once done.
// c carries the parsed arguments.
func (p *Pilot) Exec(ctx context.Context, name string, c command.Command) (Telemetry, error) {
	switch name {
	case command.AutoOn.String():
		return Telemetry{}, p.switchOn()
	case command.AutoOff.String():
		p.switchOff()
		return Telemetry{}, nil
	}

	k, ch, ok := command.Lookup(name)
	if !ok || !relayed[k] {
		return Telemetry{}, fmt.Errorf("not an autopilot command: %q", name)
	}
	c.Kind, c.Channel = k, ch
	return p.dispatch(ctx, c, c.Interrupt, false)
}

func (p *Pilot) switchOn() error {
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.ended {
		return ErrEnded
	}
	if !p.enabled.Swap(true) {
		p.log.Info("autopilot on")
		metricEnabled.Set(1)
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// switchOff returns once no autonomous submission is in progress. The
// command already handed to the target keeps running.
func (p *Pilot) switchOff() {
	p.gate.Lock()
	defer p.gate.Unlock()
	if p.enabled.Swap(false) {
		p.log.Info("autopilot off")
		metricEnabled.Set(0)
	}
}

// End switches the pilot off for good and waits for the loop to exit. No
// command is submitted after End returns. It is idempotent.
func (p *Pilot) End() {
	p.endOnce.Do(func() {
		p.gate.Lock()
		p.ended = true
		p.enabled.Store(false)
		p.gate.Unlock()
		metricEnabled.Set(0)

		p.cancel()
		p.wg.Wait()
		p.log.Info("autopilot ended")
	})
}

func (p *Pilot) run() {
	defer p.wg.Done()
	for {
		if !p.enabled.Load() {
			select {
			case <-p.ctx.Done():
				return
			case <-p.wake:
				continue
			}
		}

		if err := p.limiter.Wait(p.ctx); err != nil {
			return
		}
		cmd := command.Command{Kind: p.choose(p.ctx), Count: 1}
		t, err := p.dispatch(p.ctx, cmd, false, true)
		switch {
		case errors.Is(err, ErrEnded), p.ctx.Err() != nil:
			return
		case errors.Is(err, errOff):
			continue
		case err != nil:
			p.log.Warn("autopilot %s: %v", cmd.Name(), err)
		default:
			p.log.Live("autopilot %s: %+v", cmd.Name(), t)
		}
	}
}

// errOff means the pilot was switched off before the submission.
var errOff = errors.New("autopilot off")

// dispatch submits cmd and waits for its result. Autonomous submissions are
// dropped once the pilot is off.
func (p *Pilot) dispatch(ctx context.Context, cmd command.Command, interrupt, autonomous bool) (Telemetry, error) {
	reply := make(chan command.Result, 1)
	cmd.Reply = reply

	p.gate.RLock()
	switch {
	case p.ended:
		p.gate.RUnlock()
		return Telemetry{}, ErrEnded
	case autonomous && !p.enabled.Load():
		p.gate.RUnlock()
		return Telemetry{}, errOff
	}
	ok := p.target.Submit(cmd, interrupt)
	p.gate.RUnlock()

	if !ok {
		return Telemetry{}, fmt.Errorf("%s rejected by controller", cmd.Name())
	}
	if autonomous {
		metricDispatched.WithLabelValues(cmd.Kind.String()).Inc()
	}

	var res command.Result
	select {
	case res = <-reply:
	case <-ctx.Done():
		return Telemetry{}, ctx.Err()
	}

	t := Telemetry{DistanceMM: res.DistanceMM, Steps: res.Steps}
	if res.DistanceMM == 0 && cmd.Kind.Locomotion() {
		t.DistanceMM = res.Steps * p.opts.StrideMm
	}
	t.ObstacleMM = p.obstacle(ctx)

	p.mu.Lock()
	p.last = t
	p.mu.Unlock()
	return t, res.Err
}

// obstacle reads the range sensor; 0 means no reading.
func (p *Pilot) obstacle(ctx context.Context) int {
	if p.sensor == nil {
		return 0
	}
	d, err := p.sensor.DistanceMM(ctx)
	if err != nil {
		p.log.Verbose("range: %v", err)
		return 0
	}
	return d
}

// choose picks the next autonomous command. An obstacle in range makes the
// robot step back and then turn away.
func (p *Pilot) choose(ctx context.Context) command.Kind {
	p.mu.Lock()
	if len(p.pending) > 0 {
		k := p.pending[0]
		p.pending = p.pending[1:]
		p.mu.Unlock()
		return k
	}
	p.mu.Unlock()

	if d := p.obstacle(ctx); d > 0 && d < p.opts.ObstacleMm {
		turn := command.TurnLeft
		if rand.IntN(2) == 1 {
			turn = command.TurnRight
		}
		p.log.Live("obstacle at %dmm, backing off", d)
		p.mu.Lock()
		p.pending = append(p.pending, turn)
		p.mu.Unlock()
		return command.Backward
	}
	return pick(wander, rand.IntN(totalWeight(wander)))
}

func totalWeight(cs []choice) int {
	n := 0
	for _, c := range cs {
		n += c.weight
	}
	return n
}

// pick returns the entry covering roll in [0, totalWeight).
func pick(cs []choice, roll int) command.Kind {
	for _, c := range cs {
		if roll < c.weight {
			return c.kind
		}
		roll -= c.weight
	}
	return cs[len(cs)-1].kind
}
