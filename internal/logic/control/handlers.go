package control

import (
	"context"
	"fmt"

	"github.com/cjeanneret/OttoGo/internal/command"
	"github.com/cjeanneret/OttoGo/internal/logic/gait"
)

// handler runs one command. It must return promptly once ctx is canceled,
// checking between motion units only.
type handler func(ctx context.Context, cmd command.Command) (Result, error)

func (c *Controller) newHandlers() map[command.Kind]handler {
	return map[command.Kind]handler{
		command.Forward:    c.walk(gait.Forwards),
		command.Backward:   c.walk(gait.Backwards),
		command.TurnLeft:   c.stepping(func() gait.Sequence { return gait.Turn(gait.Left, 0) }),
		command.TurnRight:  c.stepping(func() gait.Sequence { return gait.Turn(gait.Right, 0) }),
		command.SlideLeft:  c.stepping(func() gait.Sequence { return gait.Slide(gait.Left, 0) }),
		command.SlideRight: c.stepping(func() gait.Sequence { return gait.Slide(gait.Right, 0) }),
		command.Happy:      c.gesture(gait.Happy(0)),
		command.Ojigi:      c.gesture(gait.Ojigi(gait.DefaultOjigiInterval)),
		command.Home:       c.home,
		command.HomeUp:     c.trimHome(+1),
		command.HomeDown:   c.trimHome(-1),
		command.MoveUp:     c.jog(+1),
		command.MoveDown:   c.jog(-1),
		command.Position:   c.position,
		command.Stop:       c.position, // handled in Submit, never queued
		command.End:        c.end,
	}
}

// repeat runs one n times, or until canceled when n is 0. It returns the
// number of completed repetitions.
func repeat(ctx context.Context, n int, one func() error) (int, error) {
	done := 0
	for n == 0 || done < n {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := one(); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (c *Controller) distance(steps int) int {
	return steps * c.opts.StrideMm
}

// walk alternates legs, starting on a random side, and ends with both feet
// back home.
func (c *Controller) walk(dir gait.Direction) handler {
	return func(ctx context.Context, cmd command.Command) (Result, error) {
		side := gait.RandomSide()
		c.log.Verbose("walk: first leg %s", side)

		if err := gait.Play(ctx, c.drv, gait.Settle(gait.WalkSettle), cmd.Speed, cmd.Quiet); err != nil {
			return Result{}, err
		}
		steps, err := repeat(ctx, cmd.Count, func() error {
			if err := gait.Play(ctx, c.drv, gait.Walk(dir, side), cmd.Speed, cmd.Quiet); err != nil {
				return err
			}
			side = side.Other()
			return nil
		})
		res := Result{Steps: steps, DistanceMM: c.distance(steps)}
		if err != nil {
			return res, err
		}
		return res, gait.Play(ctx, c.drv, gait.WalkEnd(side), cmd.Speed, cmd.Quiet)
	}
}

// stepping repeats a self-contained locomotion sequence.
func (c *Controller) stepping(seq func() gait.Sequence) handler {
	return func(ctx context.Context, cmd command.Command) (Result, error) {
		steps, err := repeat(ctx, cmd.Count, func() error {
			return gait.Play(ctx, c.drv, seq(), cmd.Speed, cmd.Quiet)
		})
		return Result{Steps: steps, DistanceMM: c.distance(steps)}, err
	}
}

// gesture settles at home, then repeats seq in place.
func (c *Controller) gesture(seq gait.Sequence) handler {
	return func(ctx context.Context, cmd command.Command) (Result, error) {
		if err := gait.Play(ctx, c.drv, gait.Settle(gait.GestureSettle), cmd.Speed, cmd.Quiet); err != nil {
			return Result{}, err
		}
		steps, err := repeat(ctx, cmd.Count, func() error {
			return gait.Play(ctx, c.drv, seq, cmd.Speed, cmd.Quiet)
		})
		return Result{Steps: steps}, err
	}
}

func (c *Controller) home(_ context.Context, cmd command.Command) (Result, error) {
	return Result{}, c.drv.Home(cmd.Speed, cmd.Quiet)
}

// trimHome shifts the home pulse of one channel, persists it and re-homes.
func (c *Controller) trimHome(sign int) handler {
	return func(_ context.Context, cmd command.Command) (Result, error) {
		homes := c.drv.Homes()
		kept := c.drv.SetHome(cmd.Channel, homes[cmd.Channel]+sign*c.opts.HomeTrimUs)
		c.log.Live("home[%d]: %d -> %d", cmd.Channel, homes[cmd.Channel], kept)

		var persistErr error
		if c.store != nil {
			c.store.SetHomePulses(c.drv.Homes())
			if persistErr = c.store.Persist(); persistErr != nil {
				persistErr = fmt.Errorf("persist home pulses: %w", persistErr)
			}
		}
		if err := c.drv.Home(cmd.Speed, cmd.Quiet); err != nil {
			return Result{}, err
		}
		return Result{}, persistErr
	}
}

// jog nudges one channel from the current position.
func (c *Controller) jog(sign int) handler {
	return func(_ context.Context, cmd command.Command) (Result, error) {
		pos := c.drv.Position()
		pos[cmd.Channel] += sign * c.opts.JogStep
		c.log.Verbose("jog %d -> %v", cmd.Channel, pos)
		return Result{}, c.drv.MoveOffsets(pos, cmd.Speed, cmd.Quiet)
	}
}

func (c *Controller) position(context.Context, command.Command) (Result, error) {
	return Result{}, nil
}

func (c *Controller) end(_ context.Context, cmd command.Command) (Result, error) {
	if err := c.drv.Home(cmd.Speed, false); err != nil {
		return Result{}, err
	}
	return Result{}, c.drv.Off()
}
