// Package server accepts operator connections and supervises the command
// controller and the autopilot they drive.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/multierr"

	"github.com/cjeanneret/OttoGo/internal/command"
	"github.com/cjeanneret/OttoGo/internal/debug"
	"github.com/cjeanneret/OttoGo/internal/hw/ranger"
	"github.com/cjeanneret/OttoGo/internal/hw/servo"
	"github.com/cjeanneret/OttoGo/internal/logic/auto"
	"github.com/cjeanneret/OttoGo/internal/logic/control"
)

// Options configures a Server.
type Options struct {
	Addr string // TCP listen address, e.g. ":12345"

	// NewController builds a fresh, unstarted controller. It is called at
	// startup and whenever the running one is found terminated.
	NewController func() *control.Controller

	Ranger ranger.Sensor // optional
	Auto   auto.Options

	// OnFatal is called once when the controller died from a lost servo
	// service. The process is expected to shut down.
	OnFatal func(error)
}

// Server owns the controller, the autopilot and the sessions.
type Server struct {
	log  *debug.Logger
	opts Options

	mu       sync.Mutex
	ctrl     *control.Controller
	restarts int
	ln       net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	pilot     *auto.Pilot
	sessions  sync.WaitGroup
	fatalOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// New starts the controller and the autopilot.
func New(opts Options, log *debug.Logger) *Server {
	s := &Server{
		log:   log,
		opts:  opts,
		conns: make(map[net.Conn]struct{}),
	}
	s.ctrl = opts.NewController()
	s.ctrl.Start()
	s.watch(s.ctrl)
	s.pilot = auto.New(s, opts.Ranger, opts.Auto, log.Named("auto"))
	s.pilot.Start()
	return s
}

// Pilot returns the autopilot.
func (s *Server) Pilot() *auto.Pilot { return s.pilot }

// Controller returns the running controller, replacing it first if it has
// terminated. A controller lost to a servo service failure is not replaced:
// the fatal hook fires instead and the dead controller is returned, so
// submissions are refused.
func (s *Server) Controller() *control.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctrl.State() != control.Terminated || s.closed {
		return s.ctrl
	}
	if err := s.ctrl.Err(); errors.Is(err, servo.ErrServiceLost) {
		s.fatalOnce.Do(func() {
			s.log.Errorf("servo service lost: %v", err)
			if s.opts.OnFatal != nil {
				go s.opts.OnFatal(err)
			}
		})
		return s.ctrl
	}

	s.log.Warn("controller terminated (%v), restarting", s.ctrl.Err())
	s.ctrl = s.opts.NewController()
	s.ctrl.Start()
	s.watch(s.ctrl)
	s.restarts++
	metricRestarts.Inc()
	return s.ctrl
}

// watch runs the supervisor as soon as ctrl dies from a lost servo service,
// so the fatal hook fires without waiting for the next message. Other
// terminations are left for the next message to replace.
func (s *Server) watch(ctrl *control.Controller) {
	go func() {
		<-ctrl.Done()
		if errors.Is(ctrl.Err(), servo.ErrServiceLost) {
			s.Controller()
		}
	}()
}

// Submit hands cmd to the current controller. The autopilot submits
// through it so that it follows controller replacements.
func (s *Server) Submit(cmd command.Command, interrupt bool) bool {
	return s.Controller().Submit(cmd, interrupt)
}

// Listen binds the TCP address. Run calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run accepts connections until ctx is canceled, then closes every session
// and waits for them.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	s.log.Info("command server listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.sessions.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn runs one telnet-style session on conn and closes it when done.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	s.serveConn(ctx, conn, true)
}

// ServeMessages runs a session on a message-framed conn such as a
// WebSocket. No telnet negotiation is sent.
func (s *Server) ServeMessages(ctx context.Context, conn net.Conn) {
	s.serveConn(ctx, conn, false)
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, telnet bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	metricSessions.Inc()
	defer func() {
		metricSessions.Dec()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	newSession(s, conn, telnet, s.log).serve(ctx)
}

// Status is a snapshot for status pages.
type Status struct {
	Controller string         `json:"controller"`
	Current    string         `json:"current,omitempty"`
	Queue      int            `json:"queue"`
	Position   [4]int         `json:"position"`
	Auto       bool           `json:"auto"`
	Last       auto.Telemetry `json:"last"`
	Restarts   int            `json:"restarts"`
	Sessions   int            `json:"sessions"`
}

// Status returns the current state without touching the supervisor.
func (s *Server) Status() Status {
	s.mu.Lock()
	ctrl := s.ctrl
	st := Status{Restarts: s.restarts, Sessions: len(s.conns)}
	s.mu.Unlock()

	st.Controller = ctrl.State().String()
	if cur, ok := ctrl.Current(); ok {
		st.Current = cur.Name()
	}
	st.Queue = ctrl.QueueLen()
	st.Position = ctrl.Position()
	st.Auto = s.pilot.Enabled()
	st.Last = s.pilot.Last()
	return st
}

// Close ends the autopilot, then the controller (home, servos off). It is
// idempotent.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		ctrl := s.ctrl
		var err error
		if s.ln != nil {
			if cerr := s.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = cerr
			}
		}
		s.mu.Unlock()

		s.pilot.End()
		s.closeErr = multierr.Combine(err, ctrl.End())
	})
	return s.closeErr
}
