// Package gait holds the pre-authored pose sequences of the robot and
// replays them on a Mover.
//
// Channel order is right hip, right ankle, left ankle, left hip. Offsets are
// in units of 10us relative to the home pose.
package gait

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pose is a target offset for the four channels.
type Pose [4]int

// Step is one pose of a sequence followed by a pause.
type Step struct {
	Pose  Pose
	Delay time.Duration
}

// Sequence is an ordered list of steps.
type Sequence []Step

// Mover is what a sequence is replayed on.
type Mover interface {
	MoveOffsets(offsets [4]int, speed int, quiet bool) error
}

// Play issues one synchronized move per step and sleeps each step's
// delay. A move is never interrupted; cancellation is seen during the
// pauses and reported as ctx.Err().
func Play(ctx context.Context, m Mover, seq Sequence, speed int, quiet bool) error {
	for _, s := range seq {
		if err := m.MoveOffsets(s.Pose, speed, quiet); err != nil {
			return err
		}
		if err := Sleep(ctx, s.Delay); err != nil {
			return err
		}
	}
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Side selects the leg that leads a step.
type Side int

const (
	Right Side = iota
	Left
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == Left {
		return Right
	}
	return Left
}

// RandomSide picks a side.
func RandomSide() Side {
	return Side(rand.IntN(2))
}

// Direction of a walking step.
type Direction int

const (
	Forwards Direction = iota
	Backwards
)

// Home is the neutral pose.
var Home = Pose{}

// Pauses used around gestures.
const (
	WalkSettle    = 500 * time.Millisecond
	GestureSettle = 300 * time.Millisecond
	liftPause     = 100 * time.Millisecond

	// DefaultOjigiInterval is the pause after each bow.
	DefaultOjigiInterval = time.Second
	ojigiHold            = 500 * time.Millisecond
)

// Settle returns home and waits d.
func Settle(d time.Duration) Sequence {
	return Sequence{{Pose: Home, Delay: d}}
}

// walk poses
const (
	hipLift   = 65
	hipCarry  = 35
	ankleKick = 40
)

// lift returns the pose shifting weight onto the leading leg.
func lift(side Side, dir Direction, ending bool) Pose {
	kick := 0
	if dir == Forwards || ending {
		kick = ankleKick / 2
	}
	if side == Left {
		return Pose{-hipCarry, 0, -kick, -hipLift}
	}
	return Pose{hipLift, kick, 0, hipCarry}
}

// Walk is one walking step led by side.
func Walk(dir Direction, side Side) Sequence {
	swing := ankleKick
	if (side == Left) == (dir == Forwards) {
		swing = -ankleKick
	}
	return Sequence{
		{Pose: lift(side, dir, false), Delay: liftPause},
		{Pose: Pose{0, swing, swing, 0}},
	}
}

// WalkEnd closes a walk: the leading leg lifts once more and the robot
// returns home.
func WalkEnd(side Side) Sequence {
	return Sequence{
		{Pose: lift(side, Forwards, true), Delay: liftPause},
		{Pose: Home},
	}
}

// Turn is one turning step toward side. interval is paused before and
// after every pose.
func Turn(side Side, interval time.Duration) Sequence {
	const hip, carry, ankle = 65, 35, 30
	var poses []Pose
	if side == Left {
		poses = []Pose{
			{hip, ankle, ankle, carry},
			{0, -ankle, ankle, carry / 2},
			{0, -ankle, ankle, 0},
			{-carry, 0, 0, -hip},
			Home,
		}
	} else {
		poses = []Pose{
			{-carry, -ankle, -ankle, -hip},
			{-carry / 2, -ankle, ankle, 0},
			{0, -ankle, ankle, 0},
			{hip, 0, 0, carry},
			Home,
		}
	}
	return withPrelude(poses, interval)
}

// Slide is one sideways step toward side.
func Slide(side Side, interval time.Duration) Sequence {
	var poses []Pose
	if side == Left {
		poses = []Pose{{80, 0, 0, 30}, {-10, 0, 0, -60}, Home}
	} else {
		poses = []Pose{{-30, 0, 0, -80}, {60, 0, 0, 10}, Home}
	}
	return withPrelude(poses, interval)
}

func withPrelude(poses []Pose, interval time.Duration) Sequence {
	seq := make(Sequence, 0, len(poses)+1)
	seq = append(seq, Step{Pose: Home, Delay: interval})
	for _, p := range poses {
		seq = append(seq, Step{Pose: p, Delay: interval})
	}
	return seq
}

// Happy is one hip wiggle.
func Happy(interval time.Duration) Sequence {
	return Sequence{
		{Pose: Pose{70, 0, 0, -10}},
		{Pose: Home},
		{Pose: Pose{10, 0, 0, -70}},
		{Pose: Home, Delay: interval},
	}
}

// Ojigi is one bow, followed by interval.
func Ojigi(interval time.Duration) Sequence {
	return Sequence{
		{Pose: Pose{-10, -90, 0, 0}},
		{Pose: Pose{-10, -90, 90, 10}},
		{Pose: Pose{-25, -90, 90, 25}, Delay: ojigiHold},
		{Pose: Pose{-15, -90, 90, 25}, Delay: ojigiHold},
		{Pose: Pose{-10, -90, 0, 0}},
		{Pose: Home, Delay: interval},
	}
}
