package auto

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/OttoGo/internal/command"
	"github.com/cjeanneret/OttoGo/internal/debug"
)

// recordingTarget answers every submission at once.
type recordingTarget struct {
	mu     sync.Mutex
	cmds   []command.Command
	reject bool
}

func (r *recordingTarget) Submit(cmd command.Command, interrupt bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject {
		return false
	}
	cmd.Interrupt = interrupt
	r.cmds = append(r.cmds, cmd)
	if cmd.Reply != nil {
		cmd.Reply <- command.Result{Kind: cmd.Kind, Steps: cmd.Count}
	}
	return true
}

func (r *recordingTarget) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

func (r *recordingTarget) commands() []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Command(nil), r.cmds...)
}

// fixedSensor always reports the same range.
type fixedSensor struct {
	mm  int
	err error
}

func (s fixedSensor) DistanceMM(context.Context) (int, error) { return s.mm, s.err }

func newTestPilot(t *testing.T, target Target, sensor fixedSensor) *Pilot {
	t.Helper()
	p := New(target, sensor, Options{Interval: time.Millisecond, ObstacleMm: 150, StrideMm: 40}, debug.NewNop())
	p.Start()
	t.Cleanup(p.End)
	return p
}

func waitCount(t *testing.T, r *recordingTarget, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("target saw %d commands, want at least %d", r.count(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// ---------- Names ----------

func TestPilot_Handles(t *testing.T) {
	p := New(&recordingTarget{}, nil, Options{}, debug.NewNop())
	for _, name := range []string{"on", "off", "forward", "turn_right", "happy", "home", "position"} {
		if !p.Handles(name) {
			t.Errorf("Handles(%q) = false", name)
		}
	}
	for _, name := range []string{"home_up0", "move_down1", "stop", "end", "dance", ""} {
		if p.Handles(name) {
			t.Errorf("Handles(%q) = true", name)
		}
	}
}

// ---------- On / Off ----------

func TestPilot_OnOff(t *testing.T) {
	target := &recordingTarget{}
	p := newTestPilot(t, target, fixedSensor{})

	if p.Enabled() {
		t.Fatal("pilot must start disabled")
	}
	time.Sleep(10 * time.Millisecond)
	if target.count() != 0 {
		t.Fatalf("disabled pilot submitted %d commands", target.count())
	}

	if _, err := p.Exec(context.Background(), "on", command.Command{}); err != nil {
		t.Fatalf("Exec(on): %v", err)
	}
	if !p.Enabled() {
		t.Fatal("Enabled() = false after on")
	}
	waitCount(t, target, 3)

	if _, err := p.Exec(context.Background(), "off", command.Command{}); err != nil {
		t.Fatalf("Exec(off): %v", err)
	}
	if p.Enabled() {
		t.Fatal("Enabled() = true after off")
	}
	after := target.count()
	time.Sleep(20 * time.Millisecond)
	if target.count() != after {
		t.Errorf("pilot submitted %d commands after off", target.count()-after)
	}

	for _, c := range target.commands() {
		if c.Interrupt {
			t.Errorf("autonomous %s submitted with interrupt", c.Name())
		}
	}
}

func TestPilot_EndStopsSubmissions(t *testing.T) {
	target := &recordingTarget{}
	p := New(target, nil, Options{Interval: time.Millisecond}, debug.NewNop())
	p.Start()

	if _, err := p.Exec(context.Background(), "on", command.Command{}); err != nil {
		t.Fatalf("Exec(on): %v", err)
	}
	waitCount(t, target, 2)

	p.End()
	p.End() // idempotent
	after := target.count()
	time.Sleep(20 * time.Millisecond)
	if target.count() != after {
		t.Errorf("pilot submitted %d commands after End", target.count()-after)
	}
	if p.Enabled() {
		t.Error("Enabled() = true after End")
	}
	if _, err := p.Exec(context.Background(), "on", command.Command{}); !errors.Is(err, ErrEnded) {
		t.Errorf("Exec(on) after End = %v, want ErrEnded", err)
	}
	if _, err := p.Exec(context.Background(), "forward", command.Command{Count: 1}); !errors.Is(err, ErrEnded) {
		t.Errorf("Exec(forward) after End = %v, want ErrEnded", err)
	}
}

func TestPilot_EndWithoutStart(t *testing.T) {
	p := New(&recordingTarget{}, nil, Options{}, debug.NewNop())
	done := make(chan struct{})
	go func() {
		p.End()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("End blocked on a pilot that never started")
	}
}

// ---------- Relay ----------

func TestPilot_ExecRelaysWithTelemetry(t *testing.T) {
	target := &recordingTarget{}
	p := newTestPilot(t, target, fixedSensor{mm: 420})

	tel, err := p.Exec(context.Background(), "forward", command.Command{Count: 2, Interrupt: true})
	if err != nil {
		t.Fatalf("Exec(forward): %v", err)
	}
	want := Telemetry{DistanceMM: 80, Steps: 2, ObstacleMM: 420}
	if tel != want {
		t.Errorf("telemetry = %+v, want %+v", tel, want)
	}
	if p.Last() != want {
		t.Errorf("Last() = %+v", p.Last())
	}
	cmds := target.commands()
	if len(cmds) != 1 || cmds[0].Kind != command.Forward || !cmds[0].Interrupt {
		t.Errorf("relayed commands = %+v", cmds)
	}
}

func TestPilot_ExecUnknown(t *testing.T) {
	p := newTestPilot(t, &recordingTarget{}, fixedSensor{})
	if _, err := p.Exec(context.Background(), "home_up0", command.Command{}); err == nil {
		t.Error("expected error for non-relayed command")
	}
}

func TestPilot_ExecRejected(t *testing.T) {
	p := newTestPilot(t, &recordingTarget{reject: true}, fixedSensor{})
	if _, err := p.Exec(context.Background(), "happy", command.Command{Count: 1}); err == nil {
		t.Error("expected error when the controller rejects")
	}
}

// ---------- Policy ----------

func TestPilot_ObstacleBacksOffThenTurns(t *testing.T) {
	p := New(&recordingTarget{}, fixedSensor{mm: 80}, Options{ObstacleMm: 150}, debug.NewNop())

	if k := p.choose(context.Background()); k != command.Backward {
		t.Fatalf("first choice = %s, want backward", k)
	}
	k := p.choose(context.Background())
	if k != command.TurnLeft && k != command.TurnRight {
		t.Errorf("second choice = %s, want a turn", k)
	}
}

func TestPilot_SensorErrorIgnored(t *testing.T) {
	p := New(&recordingTarget{}, fixedSensor{err: errors.New("no echo")}, Options{ObstacleMm: 150}, debug.NewNop())
	for range 50 {
		if k := p.choose(context.Background()); k == command.Backward {
			t.Fatal("backward chosen without an obstacle")
		}
	}
}

func TestPick_Weights(t *testing.T) {
	tests := []struct {
		roll int
		want command.Kind
	}{
		{0, command.Forward},
		{49, command.Forward},
		{50, command.TurnLeft},
		{64, command.TurnLeft},
		{65, command.TurnRight},
		{80, command.SlideLeft},
		{99, command.Ojigi},
	}
	if totalWeight(wander) != 100 {
		t.Fatalf("total weight = %d, want 100", totalWeight(wander))
	}
	for _, tt := range tests {
		if got := pick(wander, tt.roll); got != tt.want {
			t.Errorf("pick(%d) = %s, want %s", tt.roll, got, tt.want)
		}
	}
}
