package main

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/cjeanneret/OttoGo/internal/client"
	"github.com/cjeanneret/OttoGo/internal/config"
	"github.com/cjeanneret/OttoGo/internal/debug"
)

// ---------- parsePort ----------

func TestParsePort(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{"none", nil, 0, false},
		{"valid", []string{"12345"}, 12345, false},
		{"max", []string{"65535"}, 65535, false},
		{"zero", []string{"0"}, 0, true},
		{"too_large", []string{"65536"}, 0, true},
		{"garbage", []string{"port"}, 0, true},
		{"too_many", []string{"1", "2"}, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parsePort(tc.args)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("port = %d, want %d", got, tc.want)
			}
		})
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	for _, input := range []string{"0", "65536", "-1", "abc", "8080.5"} {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- loadConfig ----------

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "otto.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_MissingDefaultFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "default.yaml")
	cfg, persist, err := loadConfig(path, false)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if persist != "" {
		t.Errorf("persist path = %q, want none", persist)
	}
	if cfg.Server.Port != config.DefaultPort {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadConfig_MissingExplicitFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "default.yaml")
	if _, _, err := loadConfig(path, true); err == nil {
		t.Fatal("expected error for a missing explicit config")
	}
}

func TestLoadConfig_BadPath(t *testing.T) {
	if _, _, err := loadConfig("/etc/passwd", false); err == nil {
		t.Fatal("expected path validation error")
	}
}

func TestChannels(t *testing.T) {
	cfg := config.Default()
	cfg.Servos.HomePulses = [4]int{1400, 1500, 1600, 1700}
	ch := channels(config.NewStore("", cfg), cfg)
	for i := range ch {
		if ch[i].Pin != cfg.Servos.Pins[i] || ch[i].Home != cfg.Servos.HomePulses[i] {
			t.Errorf("channel %d = %+v", i, ch[i])
		}
		if ch[i].Min != config.DefaultMinPulse || ch[i].Max != config.DefaultMaxPulse {
			t.Errorf("channel %d limits = [%d, %d]", i, ch[i].Min, ch[i].Max)
		}
	}
}

func TestNewRanger_Disabled(t *testing.T) {
	s, closeFn, err := newRanger(config.Default(), debug.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Error("disabled ranger should be a nil sensor")
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestNewRanger_MockEcho(t *testing.T) {
	cfg := config.Default()
	cfg.Defaults.MockGPIO = true
	cfg.Ranger = config.RangerConfig{Enabled: true, TriggerPin: 5, EchoPin: 6, TimeoutMs: 30}
	s, closeFn, err := newRanger(cfg, debug.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	mm, err := s.DistanceMM(context.Background())
	if err != nil {
		t.Fatalf("DistanceMM: %v", err)
	}
	if mm < 400 || mm > 600 {
		t.Errorf("distance = %dmm, want about 514", mm)
	}
}

// ---------- run ----------

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	path := writeConfig(t, "service:\n  backend: mock\nmotion:\n  tick_ms: 1\n")
	port := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, options{configPath: path, configExplicit: true, port: port}, io.Discard)
	}()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	var c *client.Client
	deadline := time.Now().Add(5 * time.Second)
	for {
		dialCtx, dialCancel := context.WithTimeout(context.Background(), time.Second)
		var err error
		c, err = client.Dial(dialCtx, addr)
		dialCancel()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon never accepted: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer c.Close()

	replies, err := c.Do(":home")
	if err != nil || len(replies) != 1 || !replies[0].Accept {
		t.Fatalf("home = %+v, %v", replies, err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "service:\n  backend: carrier_pigeon\n")
	if err := run(context.Background(), options{configPath: path, configExplicit: true}, io.Discard); err == nil {
		t.Fatal("expected error for an unsupported backend")
	}
}
