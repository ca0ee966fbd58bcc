package client

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeServer greets like the robot and answers every key with a
// reply line.
func fakeServer(t *testing.T, conn net.Conn, greeting string) {
	t.Helper()
	go func() {
		defer conn.Close()
		conn.Write([]byte(greeting))
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			data := string(buf[:n])
			if strings.HasPrefix(data, ":") {
				conn.Write([]byte(`{"cmd":"` + data + `","accept":true,"msg":{"position":[0,0,0,0]}}` + "\r\n"))
				continue
			}
			for _, r := range data {
				conn.Write([]byte(`{"cmd":"` + string(r) + `","accept":` + boolText(r != 'z') + `,"msg":"k"}` + "\r\n"))
			}
		}
	}()
}

func boolText(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func newPipeClient(t *testing.T, greeting string) (*Client, error) {
	t.Helper()
	local, remote := net.Pipe()
	fakeServer(t, remote, greeting)
	c := New(local).WithTimeout(2 * time.Second)
	t.Cleanup(func() { c.Close() })
	return c, c.greeting()
}

// ---------- Greeting ----------

func TestClient_GreetingSkipsNegotiation(t *testing.T) {
	if _, err := newPipeClient(t, "\xff\xfd\x22#Ready\r\n"); err != nil {
		t.Fatalf("greeting: %v", err)
	}
}

func TestClient_GreetingWithoutNegotiation(t *testing.T) {
	if _, err := newPipeClient(t, "#Ready\r\n"); err != nil {
		t.Fatalf("greeting: %v", err)
	}
}

func TestClient_UnexpectedGreeting(t *testing.T) {
	if _, err := newPipeClient(t, "HTTP/1.1 400 Bad Request\r\n"); err == nil {
		t.Fatal("expected error for a foreign greeting")
	}
}

// ---------- Do ----------

func TestClient_DoKeys(t *testing.T) {
	c, err := newPipeClient(t, "#Ready\r\n")
	if err != nil {
		t.Fatal(err)
	}
	replies, err := c.Do("wz")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(replies))
	}
	if replies[0].Cmd != "w" || !replies[0].Accept || replies[0].Text() != "k" {
		t.Errorf("reply 0 = %+v", replies[0])
	}
	if replies[1].Accept {
		t.Errorf("reply 1 = %+v, want rejected", replies[1])
	}
}

func TestClient_DoWord(t *testing.T) {
	c, err := newPipeClient(t, "#Ready\r\n")
	if err != nil {
		t.Fatal(err)
	}
	replies, err := c.Do(":position")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(replies) != 1 || replies[0].Text() != `{"position":[0,0,0,0]}` {
		t.Errorf("replies = %+v", replies)
	}
}

func TestClient_DoEmpty(t *testing.T) {
	c, err := newPipeClient(t, "#Ready\r\n")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Do("\r\n"); err == nil {
		t.Error("expected error for an empty command")
	}
}

func TestClient_NonJSONReply(t *testing.T) {
	local, remote := net.Pipe()
	go func() {
		remote.Write([]byte("#Ready\r\n"))
		bufio.NewReader(remote).ReadByte()
		remote.Write([]byte("No data .. disconnect\r\n"))
		remote.Close()
	}()
	c := New(local).WithTimeout(2 * time.Second)
	defer c.Close()
	if err := c.greeting(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Do("w"); err == nil || !strings.Contains(err.Error(), "No data") {
		t.Errorf("err = %v, want the server notice", err)
	}
}

// ---------- Close ----------

func TestClient_CloseIdempotent(t *testing.T) {
	c, err := newPipeClient(t, "#Ready\r\n")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.Send("w"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

// ---------- Dial ----------

func TestDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fakeServer(t, conn, "\xff\xfd\x22#Ready\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if replies, err := c.Do("0"); err != nil || len(replies) != 1 {
		t.Errorf("Do = %v, %v", replies, err)
	}
}

func TestExpectedReplies(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"\r\n", 0},
		{"w", 1},
		{"wasd", 4},
		{":forward 3", 1},
		{"::home\r\n", 1},
	}
	for _, tt := range tests {
		if got := ExpectedReplies(tt.in); got != tt.want {
			t.Errorf("ExpectedReplies(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
