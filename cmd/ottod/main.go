package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/OttoGo/internal/config"
	"github.com/cjeanneret/OttoGo/internal/debug"
	"github.com/cjeanneret/OttoGo/internal/hw/gpio"
	"github.com/cjeanneret/OttoGo/internal/hw/ranger"
	"github.com/cjeanneret/OttoGo/internal/hw/servo"
	"github.com/cjeanneret/OttoGo/internal/logic/auto"
	"github.com/cjeanneret/OttoGo/internal/logic/control"
	"github.com/cjeanneret/OttoGo/internal/logic/motion"
	"github.com/cjeanneret/OttoGo/internal/server"
	"github.com/cjeanneret/OttoGo/internal/web"
)

// mockEchoRoundTrip is what the mock GPIO echoes back, about 50 cm.
const mockEchoRoundTrip = 3 * time.Millisecond

var defaultConfigPath = filepath.Join("configs", "default.yaml")

type options struct {
	configPath     string
	configExplicit bool
	port           int // 0 = from config
	webPort        int // 0 = from config
	debug          bool
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", defaultConfigPath, "path to config file")
	var debugMode bool
	flag.BoolVar(&debugMode, "d", false, "debug output (shorthand)")
	flag.BoolVar(&debugMode, "debug", false, "debug output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [port]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	port, err := parsePort(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ottod: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	opts := options{
		configPath: *cfgPath,
		port:       port,
		webPort:    webPort.port(),
		debug:      debugMode,
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			opts.configExplicit = true
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ottod: %v\n", err)
		os.Exit(1)
	}
}

// run wires the robot together and serves until ctx is done or the servo
// service is lost. Shutdown homes the robot and releases the hardware.
func run(ctx context.Context, opts options, stdout io.Writer) (err error) {
	cfg, persistPath, err := loadConfig(opts.configPath, opts.configExplicit)
	if err != nil {
		return err
	}
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	if opts.webPort > 0 {
		cfg.Server.WebPort = opts.webPort
	}

	level := cfg.Defaults.DebugLevel
	if opts.debug && level < debug.LevelVerbose {
		level = debug.LevelVerbose
	}
	out := stdout
	var broadcaster *web.StatusBroadcaster
	if cfg.Server.WebPort > 0 {
		broadcaster = web.NewStatusBroadcaster()
		out = io.MultiWriter(stdout, web.BroadcastWriter(broadcaster))
	}
	log := debug.New(level, out)
	defer log.Sync()

	log.Section("Initialization")
	log.Value("Config path", persistPath)
	log.Value("Debug level", level)
	log.PrintStruct("Servos", cfg.Servos)

	handle, err := servo.Open(servo.Options{
		Backend:  cfg.Service.Backend,
		Address:  cfg.Service.Address,
		Port:     cfg.Service.Port,
		BaudRate: cfg.Service.BaudRate,
		Pins:     cfg.Servos.Pins,
	}, log.Named("servo"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, handle.Release()) }()

	sensor, closeSensor, err := newRanger(cfg, log.Named("ranger"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeSensor()) }()

	store := config.NewStore(persistPath, cfg)
	drv := motion.NewDriver(handle.Service, channels(store, cfg), motion.Config{
		Tick:   cfg.Tick(),
		StepUs: cfg.Motion.StepUs,
	}, log.Named("motion"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalMu  sync.Mutex
		fatalErr error
	)
	srv := server.New(server.Options{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		NewController: func() *control.Controller {
			return control.New(drv, store, control.Options{
				HomeTrimUs: cfg.Motion.HomeTrimUs,
				JogStep:    cfg.Motion.JogStep,
				StrideMm:   cfg.Motion.StrideMm,
			}, log.Named("control"))
		},
		Ranger: sensor,
		Auto: auto.Options{
			Interval:   cfg.AutoInterval(),
			ObstacleMm: cfg.Auto.ObstacleMm,
			StrideMm:   cfg.Motion.StrideMm,
		},
		OnFatal: func(err error) {
			fatalMu.Lock()
			fatalErr = err
			fatalMu.Unlock()
			cancel()
		},
	}, log.Named("server"))
	defer func() { err = multierr.Append(err, srv.Close()) }()

	if err := srv.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if broadcaster != nil {
		webSrv, err := web.NewServer(fmt.Sprintf(":%d", cfg.Server.WebPort), broadcaster, srv, log.Named("web"))
		if err != nil {
			return err
		}
		g.Go(func() error { return webSrv.Run(gctx) })
	}

	log.Section("Running")
	runErr := g.Wait()
	log.Info("shutting down")

	fatalMu.Lock()
	defer fatalMu.Unlock()
	return multierr.Combine(runErr, fatalErr)
}

// loadConfig reads the YAML file. A missing default file falls back to the
// built-in defaults with persistence disabled; a missing explicit file is an
// error.
func loadConfig(path string, explicit bool) (*config.Config, string, error) {
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, path, nil
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return config.Default(), "", nil
	default:
		return nil, "", fmt.Errorf("load config failed: %w", err)
	}
}

func channels(store *config.Store, cfg *config.Config) [4]motion.Channel {
	pins, homes := store.Pins(), store.HomePulses()
	var ch [4]motion.Channel
	for i := range ch {
		ch[i] = motion.Channel{
			Pin:  pins[i],
			Home: homes[i],
			Min:  cfg.Servos.MinPulses[i],
			Max:  cfg.Servos.MaxPulses[i],
		}
	}
	return ch
}

// newRanger opens the range sensor when enabled. The returned sensor is a
// nil interface when disabled.
func newRanger(cfg *config.Config, log *debug.Logger) (ranger.Sensor, func() error, error) {
	if !cfg.Ranger.Enabled {
		return nil, func() error { return nil }, nil
	}
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO, log)
	if err != nil {
		return nil, nil, fmt.Errorf("init GPIO failed: %w", err)
	}
	if m, ok := g.(*gpio.MockDriver); ok {
		m.SimulateEcho(cfg.Ranger.TriggerPin, cfg.Ranger.EchoPin, mockEchoRoundTrip)
	}
	s := ranger.NewHCSR04GPIO(g, cfg.Ranger.TriggerPin, cfg.Ranger.EchoPin, cfg.RangerTimeout(), log)
	return s, g.Close, nil
}

// parsePort reads the optional positional port.
func parsePort(args []string) (int, error) {
	switch len(args) {
	case 0:
		return 0, nil
	case 1:
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 || v > 65535 {
			return 0, fmt.Errorf("port must be 1-65535, got %q", args[0])
		}
		return v, nil
	default:
		return 0, fmt.Errorf("too many arguments: %v", args)
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
