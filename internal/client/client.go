// Package client talks to the robot command server over TCP.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 12345

	defaultReplyTimeout = 10 * time.Second
	banner              = "#Ready"
	iac                 = 0xff
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("client closed")

// Reply is one reply line from the server. Msg is left raw: it is a
// string for most commands, a position object or autopilot telemetry for
// the others.
type Reply struct {
	Cmd    string          `json:"cmd"`
	Accept bool            `json:"accept"`
	Msg    json.RawMessage `json:"msg"`
}

// Text returns Msg as a string when it is one, else its JSON text.
func (r Reply) Text() string {
	var s string
	if err := json.Unmarshal(r.Msg, &s); err == nil {
		return s
	}
	return string(r.Msg)
}

// Client is a connected session.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// Dial connects to addr and waits for the server greeting.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := New(conn)
	if err := c.greeting(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established connection. The greeting is not read; Dial does
// that.
func New(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: defaultReplyTimeout,
	}
}

// WithTimeout sets the per-reply read timeout. Zero waits forever.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

func (c *Client) setDeadline() {
	if c.timeout <= 0 {
		c.conn.SetReadDeadline(time.Time{})
		return
	}
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
}

// greeting skips telnet negotiation and expects the banner line.
func (c *Client) greeting() error {
	c.setDeadline()
	for {
		b, err := c.r.Peek(1)
		if err != nil {
			return fmt.Errorf("read greeting: %w", err)
		}
		if b[0] != iac {
			break
		}
		if _, err := c.r.Discard(3); err != nil {
			return fmt.Errorf("read greeting: %w", err)
		}
	}
	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if line != banner {
		return fmt.Errorf("unexpected greeting %q", line)
	}
	return nil
}

// Send writes cmd as one chunk.
func (c *Client) Send(cmd string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	return nil
}

// Reply reads the next reply line. A "No data" notice from the server is
// returned as an error.
func (c *Client) Reply() (Reply, error) {
	c.setDeadline()
	line, err := c.readLine()
	if err != nil {
		return Reply{}, err
	}
	var r Reply
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return Reply{}, fmt.Errorf("server said %q", line)
	}
	return r, nil
}

// Do sends cmd and reads every reply it produces.
func (c *Client) Do(cmd string) ([]Reply, error) {
	n := ExpectedReplies(cmd)
	if n == 0 {
		return nil, errors.New("empty command")
	}
	if err := c.Send(cmd); err != nil {
		return nil, err
	}
	replies := make([]Reply, 0, n)
	for range n {
		r, err := c.Reply()
		if err != nil {
			return replies, err
		}
		replies = append(replies, r)
	}
	return replies, nil
}

// ExpectedReplies is the number of reply lines the server sends for cmd:
// one for a word command, one per key otherwise.
func ExpectedReplies(cmd string) int {
	cmd = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return -1
		}
		return r
	}, cmd)
	if cmd == "" {
		return 0
	}
	if cmd[0] == ':' {
		return 1
	}
	return len([]rune(cmd))
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close closes the connection. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
