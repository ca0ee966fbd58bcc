package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cjeanneret/OttoGo/internal/command"
	"github.com/cjeanneret/OttoGo/internal/debug"
)

const (
	readChunk = 512

	// CommandPrefix introduces a word command; doubled, the command does
	// not interrupt the running one.
	CommandPrefix = ':'

	msgInvalidKey  = "invalid 1-key command"
	msgInvalidWord = "invalid control/auto command"
)

// telnetLinemode is IAC DO LINEMODE.
var telnetLinemode = []byte{0xff, 0xfd, 0x22}

// Reply is one line sent back to the client.
type Reply struct {
	Cmd    string `json:"cmd"`
	Accept bool   `json:"accept"`
	Msg    any    `json:"msg"`
}

// PositionMsg is the message of a position reply.
type PositionMsg struct {
	Position [4]int `json:"position"`
}

type session struct {
	id   string
	srv  *Server
	conn net.Conn
	log  *debug.Logger

	telnet bool

	wmu     sync.Mutex
	pending sync.WaitGroup
}

func newSession(srv *Server, conn net.Conn, telnet bool, log *debug.Logger) *session {
	id := uuid.NewString()
	return &session{
		id:     id,
		srv:    srv,
		conn:   conn,
		telnet: telnet,
		log:    log.Named("session").With("id", id, "remote", conn.RemoteAddr().String()),
	}
}

func (s *session) serve(ctx context.Context) {
	s.log.Info("client connected")
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.pending.Wait()
		s.log.Info("client disconnected")
	}()

	if s.telnet {
		s.write(telnetLinemode)
	}
	s.write([]byte("#Ready\r\n"))

	buf := make([]byte, readChunk)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), ctx.Err() != nil:
			default:
				s.log.Warn("read: %v, stopping robot", err)
				s.srv.Controller().Stop()
			}
			return
		}

		chunk := buf[:n]
		if !utf8.Valid(chunk) {
			s.log.Verbose("undecodable input %q ignored", chunk)
			continue
		}
		data := stripControl(string(chunk))
		if data == "" {
			s.write([]byte("No data .. disconnect\r\n"))
			return
		}
		s.log.Live("recv %q", data)
		s.handle(ctx, data)
	}
}

func stripControl(in string) string {
	var b strings.Builder
	for _, r := range in {
		if r >= 0x20 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *session) handle(ctx context.Context, data string) {
	ctrl := s.srv.Controller()

	if data[0] == CommandPrefix {
		s.handleWord(ctx, data)
		return
	}

	for _, r := range data {
		raw := string(r)
		key, ok := command.LookupKey(r)
		if !ok {
			ctrl.Stop()
			s.reply(raw, false, msgInvalidKey)
			metricCommands.WithLabelValues("key", "false").Inc()
			continue
		}
		if key.Kind == command.AutoOn || key.Kind == command.AutoOff {
			s.execAuto(ctx, raw, key.Kind.String(), key.Command(raw))
			continue
		}
		cmd := key.Command(raw)
		s.submit(ctx, raw, cmd, "key")
	}
}

func (s *session) handleWord(ctx context.Context, data string) {
	body := data[1:]
	interrupt := true
	if strings.HasPrefix(body, string(CommandPrefix)) {
		interrupt = false
		body = body[1:]
	}

	name, cmd, err := command.ParseWord(body)
	if err != nil {
		s.reply(data, false, msgInvalidWord+": "+err.Error())
		metricCommands.WithLabelValues("word", "false").Inc()
		return
	}
	cmd.Interrupt = interrupt
	cmd.Raw = data

	if stripped, ok := strings.CutPrefix(name, command.AutoPrefix); ok && s.srv.pilot.Handles(stripped) {
		s.execAuto(ctx, data, stripped, cmd)
		return
	}

	kind, ch, ok := command.Lookup(name)
	if !ok || !s.srv.Controller().Handles(kind) {
		s.reply(data, false, msgInvalidWord)
		metricCommands.WithLabelValues("word", "false").Inc()
		return
	}
	cmd.Kind, cmd.Channel = kind, ch
	s.submit(ctx, data, cmd, "word")
}

// submit hands cmd to the controller and replies. A position query is
// answered once it has run, with the pose it read.
func (s *session) submit(ctx context.Context, raw string, cmd command.Command, route string) {
	var results chan command.Result
	if cmd.Kind == command.Position {
		results = make(chan command.Result, 1)
		cmd.Reply = results
	}

	ok := s.srv.Controller().Submit(cmd, cmd.Interrupt)
	metricCommands.WithLabelValues(route, boolLabel(ok)).Inc()
	if !ok {
		s.reply(raw, false, "rejected by controller")
		return
	}
	if results == nil {
		s.reply(raw, true, cmd.Name())
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		select {
		case res := <-results:
			if res.Err != nil {
				s.reply(raw, false, res.Err.Error())
				return
			}
			s.reply(raw, true, PositionMsg{Position: res.Position})
		case <-ctx.Done():
		}
	}()
}

// execAuto runs a pilot command. Switching is answered at once; relayed
// commands are answered with their telemetry when they complete, without
// blocking the session.
func (s *session) execAuto(ctx context.Context, raw, name string, cmd command.Command) {
	pilot := s.srv.pilot
	if name == command.AutoOn.String() || name == command.AutoOff.String() {
		_, err := pilot.Exec(ctx, name, cmd)
		metricCommands.WithLabelValues("auto", boolLabel(err == nil)).Inc()
		if err != nil {
			s.reply(raw, false, err.Error())
			return
		}
		s.reply(raw, true, command.AutoPrefix+name)
		return
	}

	metricCommands.WithLabelValues("auto", "true").Inc()
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		t, err := pilot.Exec(ctx, name, cmd)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			s.reply(raw, false, err.Error())
		default:
			s.reply(raw, true, t)
		}
	}()
}

func (s *session) reply(cmd string, accept bool, msg any) {
	data, err := json.Marshal(Reply{Cmd: cmd, Accept: accept, Msg: msg})
	if err != nil {
		s.log.Error(err)
		return
	}
	s.write(append(data, '\r', '\n'))
}

// write sends p; failures are left to the next read to notice.
func (s *session) write(p []byte) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.conn.Write(p); err != nil {
		s.log.Verbose("write: %v", err)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
