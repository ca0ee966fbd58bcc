// Package command defines the robot command set as an enumerated kind with
// the wire tokens that map to it.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a command. The zero value is Invalid.
type Kind int

const (
	Invalid Kind = iota

	// Locomotion and gestures.
	Forward
	Backward
	TurnLeft
	TurnRight
	SlideLeft
	SlideRight
	Happy
	Ojigi
	Home

	// Calibration and manual jog, addressed to one channel.
	HomeUp
	HomeDown
	MoveUp
	MoveDown

	// Queries and lifecycle.
	Position
	Stop
	End

	// Autopilot switches.
	AutoOn
	AutoOff

	numKinds
)

// Kinds returns every valid kind, in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds-1)
	for k := Invalid + 1; k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

var names = [numKinds]string{
	Invalid:    "invalid",
	Forward:    "forward",
	Backward:   "backward",
	TurnLeft:   "turn_left",
	TurnRight:  "turn_right",
	SlideLeft:  "slide_left",
	SlideRight: "slide_right",
	Happy:      "happy",
	Ojigi:      "ojigi",
	Home:       "home",
	HomeUp:     "home_up",
	HomeDown:   "home_down",
	MoveUp:     "move_up",
	MoveDown:   "move_down",
	Position:   "position",
	Stop:       "stop",
	End:        "end",
	AutoOn:     "on",
	AutoOff:    "off",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return names[k]
}

// PerChannel reports whether the kind takes a channel suffix (home_up0...).
func (k Kind) PerChannel() bool {
	switch k {
	case HomeUp, HomeDown, MoveUp, MoveDown:
		return true
	}
	return false
}

// Locomotion reports whether the kind moves the robot on the floor and so
// produces distance telemetry.
func (k Kind) Locomotion() bool {
	switch k {
	case Forward, Backward, TurnLeft, TurnRight, SlideLeft, SlideRight:
		return true
	}
	return false
}

// Channels is the number of actuators a per-channel command can address.
const Channels = 4

// AutoPrefix marks word commands meant for the autopilot.
const AutoPrefix = "auto_"

// Command is one parsed request.
type Command struct {
	Kind      Kind
	Channel   int  // per-channel kinds only
	Count     int  // repetitions, 0 = until canceled
	Speed     int  // pulse change per tick (us), 0 = driver default
	Quiet     bool // unpaced moves
	Interrupt bool // preempt the running command
	Raw       string

	// Reply, if set, receives exactly one Result when the command has been
	// handled. It must be buffered or drained.
	Reply chan<- Result
}

// Name returns the wire token of the command (home_up0, forward...).
func (c Command) Name() string {
	if c.Kind.PerChannel() {
		return c.Kind.String() + strconv.Itoa(c.Channel)
	}
	return c.Kind.String()
}

func (c Command) String() string {
	return fmt.Sprintf("%s(n=%d v=%d q=%t)", c.Name(), c.Count, c.Speed, c.Quiet)
}

// Result is what a handled command reports back.
type Result struct {
	Kind       Kind
	Steps      int    // completed repetitions
	DistanceMM int    // floor distance covered, locomotion only
	Position   [4]int // offsets after the command
	Canceled   bool
	Err        error
}

// Lookup resolves a command name (no arguments) to its kind and channel.
func Lookup(name string) (Kind, int, bool) {
	for k := Invalid + 1; k < numKinds; k++ {
		if k == AutoOn || k == AutoOff {
			continue
		}
		tok := names[k]
		if !k.PerChannel() {
			if name == tok {
				return k, 0, true
			}
			continue
		}
		if !strings.HasPrefix(name, tok) {
			continue
		}
		ch, err := strconv.Atoi(name[len(tok):])
		if err != nil || ch < 0 || ch >= Channels || len(name) != len(tok)+1 {
			continue
		}
		return k, ch, true
	}
	return Invalid, 0, false
}

// ParseWord parses the body of a word command: "name [count [speed]] [q]".
// The name is returned untouched so the caller can route auto_ names.
// Count defaults to 1.
func ParseWord(body string) (name string, c Command, err error) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", c, errors.New("empty command")
	}
	name = fields[0]
	c.Count = 1
	c.Raw = body

	nums := 0
	for _, f := range fields[1:] {
		if f == "q" {
			c.Quiet = true
			continue
		}
		v, err := strconv.Atoi(f)
		if err != nil || v < 0 {
			return name, c, fmt.Errorf("bad argument %q", f)
		}
		switch nums {
		case 0:
			c.Count = v
		case 1:
			c.Speed = v
		default:
			return name, c, errors.New("too many arguments")
		}
		nums++
	}
	return name, c, nil
}
