// Package control runs robot commands one at a time on a single worker
// goroutine. It is the only writer of the motion driver.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/OttoGo/internal/command"
	"github.com/cjeanneret/OttoGo/internal/debug"
	"github.com/cjeanneret/OttoGo/internal/hw/servo"
)

// Result is what a handled command reports on its Reply channel.
type Result = command.Result

// ErrTerminated is reported to commands still queued when the worker stops.
var ErrTerminated = errors.New("controller terminated")

// State of the worker.
type State int

const (
	Idle State = iota
	Executing
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Executing:
		return "executing"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Driver is the motion layer the controller moves.
type Driver interface {
	MoveOffsets(offsets [4]int, speed int, quiet bool) error
	Home(speed int, quiet bool) error
	Off() error
	Position() [4]int
	Homes() [4]int
	SetHome(ch, us int) int
}

// HomeStore persists calibrated home pulses.
type HomeStore interface {
	SetHomePulses([4]int)
	Persist() error
}

// Options tunes calibration and telemetry.
type Options struct {
	HomeTrimUs int // home_up/home_down delta
	JogStep    int // move_up/move_down delta, offset units
	StrideMm   int // floor distance of one locomotion step
}

// Controller serializes commands. Submitting with interrupt cancels the
// running command and jumps the queue; without it the command waits its
// turn. A canceled command is followed by a return home.
type Controller struct {
	log      *debug.Logger
	drv      Driver
	store    HomeStore
	opts     Options
	handlers map[command.Kind]handler

	mu      sync.Mutex
	queue   []command.Command
	cancel  context.CancelFunc
	current *command.Command
	state   State
	closing bool
	err     error

	wake      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	endOnce   sync.Once
}

// New builds a controller. Call Start to run its worker.
func New(drv Driver, store HomeStore, opts Options, log *debug.Logger) *Controller {
	if opts.HomeTrimUs <= 0 {
		opts.HomeTrimUs = 10
	}
	if opts.JogStep <= 0 {
		opts.JogStep = 5
	}
	c := &Controller{
		log:   log,
		drv:   drv,
		store: store,
		opts:  opts,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	c.handlers = c.newHandlers()
	return c
}

// Start launches the worker goroutine. Only the first call has an effect.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		c.log.Verbose("controller worker started")
		go c.run()
	})
}

// Handles reports whether kind has a registered handler.
func (c *Controller) Handles(kind command.Kind) bool {
	_, ok := c.handlers[kind]
	return ok
}

// Submit queues cmd. It returns false when the kind has no handler or the
// controller is ending; an accepted command is never dropped while the
// controller lives. Stop cancels the running command and queues nothing.
func (c *Controller) Submit(cmd command.Command, interrupt bool) bool {
	if !c.Handles(cmd.Kind) {
		metricRejected.Inc()
		c.log.Live("rejected %s", cmd.Name())
		return false
	}
	cmd.Interrupt = interrupt

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || c.state == Terminated {
		metricRejected.Inc()
		return false
	}

	if cmd.Kind == command.Stop {
		c.log.Live("stop requested")
		c.cancelLocked()
		reply(cmd, Result{Kind: command.Stop, Position: c.drv.Position()})
		return true
	}
	if cmd.Kind == command.End {
		c.closing = true
	}

	if interrupt {
		c.cancelLocked()
		c.queue = append([]command.Command{cmd}, c.queue...)
	} else {
		c.queue = append(c.queue, cmd)
	}
	metricQueueDepth.Set(float64(len(c.queue)))
	c.log.Verbose("queued %s (interrupt=%t, depth %d)", cmd, interrupt, len(c.queue))

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Controller) cancelLocked() {
	if c.cancel == nil {
		return
	}
	metricPreemptions.Inc()
	c.cancel()
	c.cancel = nil
	if c.state == Executing {
		c.state = Stopping
	}
}

// Stop cancels the running command.
func (c *Controller) Stop() {
	c.Submit(command.Command{Kind: command.Stop}, true)
}

// End stops the running command, returns home, powers the servos off and
// terminates the worker. It is idempotent and also powers off a controller
// that already died.
func (c *Controller) End() error {
	c.endOnce.Do(func() {
		c.log.Info("ending controller")
		c.Start()
		if !c.Submit(command.Command{Kind: command.End}, true) {
			if err := c.drv.Off(); err != nil {
				c.log.Errorf("power off: %v", err)
			}
		}
		<-c.done
	})
	return c.Err()
}

// State returns the worker state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that terminated the worker, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the worker has terminated.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Current returns the command being executed.
func (c *Controller) Current() (command.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return command.Command{}, false
	}
	return *c.current, true
}

// QueueLen returns the number of commands waiting.
func (c *Controller) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Position returns the current pose offsets.
func (c *Controller) Position() [4]int {
	return c.drv.Position()
}

func (c *Controller) run() {
	for {
		cmd, ctx, cancel := c.next()

		metricCommands.WithLabelValues(cmd.Kind.String()).Inc()
		c.log.Live("executing %s", cmd)

		res, err := c.execute(ctx, cmd)

		// Interrupts from here on find nothing to cancel, so the command
		// counts as canceled only if one got in before this point.
		c.mu.Lock()
		c.cancel = nil
		canceled := ctx.Err() != nil
		c.mu.Unlock()
		cancel()

		if canceled && errors.Is(err, context.Canceled) {
			err = nil
		}
		res.Kind = cmd.Kind
		res.Canceled = canceled

		if err == nil && canceled && cmd.Kind != command.End {
			c.setState(Stopping)
			c.log.Live("%s canceled after %d steps, returning home", cmd.Name(), res.Steps)
			err = c.drv.Home(0, false)
		}
		res.Position = c.drv.Position()
		res.Err = err

		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()

		if fatal(err) {
			c.log.Errorf("%s: %v", cmd.Name(), err)
			if errors.Is(err, servo.ErrServiceLost) {
				if offErr := c.drv.Off(); offErr != nil {
					c.log.Errorf("power off: %v", offErr)
				}
			}
			reply(cmd, res)
			c.terminate(err)
			return
		}
		if err != nil {
			c.log.Errorf("%s: %v", cmd.Name(), err)
		}
		reply(cmd, res)

		if cmd.Kind == command.End {
			c.terminate(nil)
			return
		}
		c.setState(Idle)
	}
}

// next blocks until a command is queued, pops it and makes it current
// together with its cancellation context.
func (c *Controller) next() (command.Command, context.Context, context.CancelFunc) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			cmd := c.queue[0]
			c.queue[0] = command.Command{}
			c.queue = c.queue[1:]
			metricQueueDepth.Set(float64(len(c.queue)))

			ctx, cancel := context.WithCancel(context.Background())
			c.cancel = cancel
			c.current = &cmd
			c.state = Executing
			c.mu.Unlock()
			return cmd, ctx, cancel
		}
		c.mu.Unlock()
		<-c.wake
	}
}

// errPanic marks a handler that panicked.
var errPanic = errors.New("command handler panicked")

func (c *Controller) execute(ctx context.Context, cmd command.Command) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", errPanic, cmd.Name(), r)
		}
	}()
	return c.handlers[cmd.Kind](ctx, cmd)
}

func fatal(err error) bool {
	return errors.Is(err, servo.ErrServiceLost) || errors.Is(err, errPanic)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) terminate(err error) {
	c.mu.Lock()
	c.state = Terminated
	c.closing = true
	c.err = err
	dropped := c.queue
	c.queue = nil
	c.mu.Unlock()

	metricQueueDepth.Set(0)
	metricTerminations.Inc()
	for _, cmd := range dropped {
		reply(cmd, Result{Kind: cmd.Kind, Err: ErrTerminated})
	}
	if err != nil {
		c.log.Errorf("controller terminated: %v", err)
	} else {
		c.log.Info("controller terminated")
	}
	close(c.done)
}

func reply(cmd command.Command, res Result) {
	if cmd.Reply == nil {
		return
	}
	select {
	case cmd.Reply <- res:
	default:
	}
}
