package ranger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/OttoGo/internal/debug"
	"github.com/cjeanneret/OttoGo/internal/hw/gpio"
)

// ErrNoEcho is returned when the echo line never rises or never falls
// within the configured timeout.
var ErrNoEcho = errors.New("no echo")

// triggerPulse is the HC-SR04 minimum trigger width.
const triggerPulse = 10 * time.Microsecond

// HCSR04GPIO is a Sensor implementation for an HC-SR04 ultrasonic module
// wired to two GPIO lines:
// - TRIG: output, a 10us HIGH pulse starts a measurement
// - ECHO: input, stays HIGH for the sound round-trip time
//
// Measurement sequence:
// 1. TRIG to HIGH, wait 10us, TRIG to LOW
// 2. Wait for ECHO to rise
// 3. Time how long ECHO stays HIGH
// 4. distance = time * speed of sound / 2
type HCSR04GPIO struct {
	gpio       gpio.Driver
	log        *debug.Logger
	triggerPin int
	echoPin    int
	timeout    time.Duration
}

// NewHCSR04GPIO creates a GPIO-driven HC-SR04 sensor.
func NewHCSR04GPIO(g gpio.Driver, triggerPin, echoPin int, timeout time.Duration, log *debug.Logger) *HCSR04GPIO {
	_ = g.SetupPin(triggerPin, gpio.Output)
	_ = g.SetupPin(echoPin, gpio.Input)
	_ = g.WritePin(triggerPin, gpio.Low)

	return &HCSR04GPIO{
		gpio:       g,
		log:        log,
		triggerPin: triggerPin,
		echoPin:    echoPin,
		timeout:    timeout,
	}
}

// DistanceMM triggers one measurement and converts the echo width to
// millimeters (343 m/s, halved for the round trip).
func (h *HCSR04GPIO) DistanceMM(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.log.Verbose("Ranger: trigger (pin %d)", h.triggerPin)
	if err := h.gpio.WritePin(h.triggerPin, gpio.High); err != nil {
		return 0, fmt.Errorf("trigger high: %w", err)
	}
	time.Sleep(triggerPulse)
	if err := h.gpio.WritePin(h.triggerPin, gpio.Low); err != nil {
		return 0, fmt.Errorf("trigger low: %w", err)
	}

	deadline := time.Now().Add(h.timeout)
	rise, err := h.waitFor(gpio.High, deadline)
	if err != nil {
		return 0, err
	}
	fall, err := h.waitFor(gpio.Low, deadline)
	if err != nil {
		return 0, err
	}

	width := fall.Sub(rise)
	mm := int(width.Microseconds() * 343 / 2000)
	h.log.Verbose("Ranger: echo %v -> %d mm", width, mm)
	return mm, nil
}

func (h *HCSR04GPIO) waitFor(level gpio.Level, deadline time.Time) (time.Time, error) {
	for {
		got, err := h.gpio.ReadPin(h.echoPin)
		if err != nil {
			return time.Time{}, fmt.Errorf("read echo: %w", err)
		}
		now := time.Now()
		if got == level {
			return now, nil
		}
		if now.After(deadline) {
			return time.Time{}, fmt.Errorf("%w on pin %d", ErrNoEcho, h.echoPin)
		}
	}
}
