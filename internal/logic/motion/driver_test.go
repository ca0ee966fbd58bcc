package motion

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/OttoGo/internal/debug"
	"github.com/cjeanneret/OttoGo/internal/hw/servo"
)

var testPins = [4]int{17, 27, 22, 23}

func testChannels() [4]Channel {
	var ch [4]Channel
	homes := [4]int{1470, 1430, 1490, 1490}
	for i := range ch {
		ch[i] = Channel{Pin: testPins[i], Home: homes[i], Min: 1000, Max: 2000}
	}
	return ch
}

func newTestDriver(svc servo.Service) *Driver {
	return NewDriver(svc, testChannels(), Config{Tick: time.Microsecond, StepUs: 25}, debug.NewNop())
}

// singleSetter records SetPulse calls and does not implement MultiSetter.
type singleSetter struct {
	mu     sync.Mutex
	writes []string
	failAt int // 1-based write index that fails, 0 = never
	err    error
}

func (s *singleSetter) SetPulse(pin, us int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, fmt.Sprintf("%d=%d", pin, us))
	if s.failAt > 0 && len(s.writes) == s.failAt {
		return s.err
	}
	return nil
}

func (s *singleSetter) Disable(pin int) error { return s.SetPulse(pin, 0) }
func (s *singleSetter) Close() error          { return nil }

// ---------- Construction ----------

func TestNewDriver_StartsAtHome(t *testing.T) {
	d := newTestDriver(servo.NewMock(debug.NewNop()))
	if got := d.Pulses(); got != [4]int{1470, 1430, 1490, 1490} {
		t.Errorf("Pulses() = %v, want homes", got)
	}
	if got := d.Position(); got != [4]int{} {
		t.Errorf("Position() = %v, want zeros", got)
	}
}

// ---------- MoveTo ----------

func TestDriver_MoveToSynchronized(t *testing.T) {
	m := servo.NewMock(debug.NewNop())
	d := newTestDriver(m)

	// Channel 0 travels 200us, channel 1 travels 50us, others stay.
	target := [4]int{1670, 1480, 1490, 1490}
	if err := d.MoveTo(target, 25, false); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}

	// 200/25 = 8 synchronized updates, each carrying all four channels.
	if m.Batches() != 8 {
		t.Errorf("Batches() = %d, want 8", m.Batches())
	}
	h0 := m.History(17)
	h1 := m.History(27)
	if len(h0) != 8 || len(h1) != 8 {
		t.Fatalf("history lengths = %d, %d, want 8", len(h0), len(h1))
	}
	if h0[7] != 1670 || h1[7] != 1480 {
		t.Errorf("final widths = %d, %d, want 1670, 1480", h0[7], h1[7])
	}
	// Monotonic, no overshoot.
	for i := 1; i < 8; i++ {
		if h0[i] < h0[i-1] || h1[i] < h1[i-1] {
			t.Errorf("non-monotonic step %d: %v %v", i, h0, h1)
		}
		if h1[i] > 1480 {
			t.Errorf("overshoot on channel 1: %v", h1)
		}
	}
	if d.Pulses() != target {
		t.Errorf("Pulses() = %v, want %v", d.Pulses(), target)
	}
}

func TestDriver_MoveToDefaultSpeed(t *testing.T) {
	m := servo.NewMock(debug.NewNop())
	d := newTestDriver(m)

	if err := d.MoveTo([4]int{1570, 1430, 1490, 1490}, 0, false); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if m.Batches() != 4 { // 100us at the configured 25us per tick
		t.Errorf("Batches() = %d, want 4", m.Batches())
	}
}

func TestDriver_MoveToNoDelta(t *testing.T) {
	m := servo.NewMock(debug.NewNop())
	d := newTestDriver(m)

	if err := d.MoveTo(d.Pulses(), 0, false); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if m.Batches() != 0 {
		t.Errorf("Batches() = %d, want 0", m.Batches())
	}
}

func TestDriver_MoveToQuietSingleUpdate(t *testing.T) {
	m := servo.NewMock(debug.NewNop())
	d := newTestDriver(m)

	target := [4]int{1800, 1200, 1500, 1500}
	if err := d.MoveTo(target, 0, true); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if m.Batches() != 1 {
		t.Errorf("Batches() = %d, want 1", m.Batches())
	}
	if d.Pulses() != target {
		t.Errorf("Pulses() = %v, want %v", d.Pulses(), target)
	}
}

func TestDriver_MoveToClamps(t *testing.T) {
	m := servo.NewMock(debug.NewNop())
	d := newTestDriver(m)

	if err := d.MoveTo([4]int{5000, -300, 1999, 2001}, 100, false); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	want := [4]int{2000, 1000, 1999, 2000}
	if got := d.Pulses(); got != want {
		t.Errorf("Pulses() = %v, want %v", got, want)
	}
	for _, pin := range testPins {
		for _, w := range m.History(pin) {
			if w < 1000 || w > 2000 {
				t.Errorf("pin %d received out-of-range width %d", pin, w)
			}
		}
	}
}

func TestDriver_MoveToWithoutMultiSetter(t *testing.T) {
	s := &singleSetter{}
	d := newTestDriver(s)

	if err := d.MoveTo([4]int{1520, 1430, 1490, 1490}, 25, false); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	// 2 updates x 4 channels
	if len(s.writes) != 8 {
		t.Errorf("writes = %d, want 8: %v", len(s.writes), s.writes)
	}
	if s.writes[4] != "17=1520" {
		t.Errorf("second update starts with %s, want 17=1520", s.writes[4])
	}
}

// ---------- Errors ----------

func TestDriver_ServiceLostPropagates(t *testing.T) {
	m := servo.NewMock(debug.NewNop())
	d := newTestDriver(m)
	m.Fail(fmt.Errorf("%w: socket closed", servo.ErrServiceLost))

	err := d.Home(0, false)
	if err != nil {
		t.Fatalf("Home at home should not write, got %v", err)
	}
	err = d.MoveTo([4]int{1600, 1430, 1490, 1490}, 0, false)
	if !errors.Is(err, servo.ErrServiceLost) {
		t.Errorf("expected ErrServiceLost, got %v", err)
	}
}

func TestDriver_TransientErrorAbandonsMove(t *testing.T) {
	s := &singleSetter{failAt: 6, err: errors.New("bad pulsewidth")}
	d := newTestDriver(s)

	if err := d.MoveTo([4]int{1570, 1430, 1490, 1490}, 25, false); err != nil {
		t.Fatalf("transient error should not be returned, got %v", err)
	}
	// The first update went through, the second failed on its second write.
	if len(s.writes) != 6 {
		t.Errorf("writes = %d, want 6 (move abandoned)", len(s.writes))
	}
	if got := d.Pulses()[0]; got != 1495 {
		t.Errorf("channel 0 = %d, want 1495 (last good update)", got)
	}
}

// ---------- Home / Position ----------

func TestDriver_HomeRoundTrip(t *testing.T) {
	m := servo.NewMock(debug.NewNop())
	d := newTestDriver(m)

	if err := d.MoveOffsets([4]int{30, -20, 10, -40}, 0, false); err != nil {
		t.Fatalf("MoveOffsets: %v", err)
	}
	if got := d.Position(); got != [4]int{30, -20, 10, -40} {
		t.Errorf("Position() = %v", got)
	}

	if err := d.Home(0, false); err != nil {
		t.Fatalf("Home: %v", err)
	}
	if got := d.Position(); got != [4]int{} {
		t.Errorf("Position() after Home = %v, want zeros", got)
	}
	if got := d.Pulses(); got != d.Homes() {
		t.Errorf("Pulses() after Home = %v, want %v", got, d.Homes())
	}
}

func TestDriver_SetHomeClampsAndMovesHome(t *testing.T) {
	m := servo.NewMock(debug.NewNop())
	d := newTestDriver(m)

	if got := d.SetHome(0, 1480); got != 1480 {
		t.Errorf("SetHome = %d, want 1480", got)
	}
	if got := d.SetHome(1, 9000); got != 2000 {
		t.Errorf("SetHome out of range = %d, want 2000", got)
	}
	if err := d.Home(0, false); err != nil {
		t.Fatalf("Home: %v", err)
	}
	if got := d.Pulses(); got[0] != 1480 || got[1] != 2000 {
		t.Errorf("Pulses() = %v", got)
	}
}

func TestDriver_Off(t *testing.T) {
	m := servo.NewMock(debug.NewNop())
	d := newTestDriver(m)
	_ = d.MoveOffsets([4]int{10, 10, 10, 10}, 0, true)

	if err := d.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}
	for _, pin := range testPins {
		if m.Width(pin) != 0 {
			t.Errorf("pin %d width = %d after Off, want 0", pin, m.Width(pin))
		}
	}
}

func TestDriver_OffCombinesErrors(t *testing.T) {
	m := servo.NewMock(debug.NewNop())
	d := newTestDriver(m)
	m.Fail(errors.New("gone"))

	if err := d.Off(); err == nil {
		t.Error("expected error from Off, got nil")
	}
}
