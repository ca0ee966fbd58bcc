package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cjeanneret/OttoGo/internal/client"
)

func main() {
	var (
		command = flag.String("c", "", "control commands; one key per character, or a single :word command")
		wait    = flag.Duration("wait", 3*time.Second, "pause after each command in -c mode")
		timeout = flag.Duration("timeout", 5*time.Second, "connect and reply timeout")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [host [port]]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	addr, err := address(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ottoctl: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	c, err := client.Dial(ctx, addr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ottoctl: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if *command != "" {
		c.WithTimeout(*timeout)
		if err := runCommands(c, os.Stdout, *command, *wait); err != nil {
			fmt.Fprintf(os.Stderr, "ottoctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	c.WithTimeout(0)
	p := tea.NewProgram(newModel(c, addr, readReplies(c)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ottoctl: %v\n", err)
		os.Exit(1)
	}
}

// address builds host:port from the positionals.
func address(args []string) (string, error) {
	host, port := client.DefaultHost, client.DefaultPort
	switch len(args) {
	case 2:
		v, err := strconv.Atoi(args[1])
		if err != nil || v <= 0 || v > 65535 {
			return "", fmt.Errorf("port must be 1-65535, got %q", args[1])
		}
		port = v
		fallthrough
	case 1:
		host = args[0]
	case 0:
	default:
		return "", fmt.Errorf("too many arguments: %v", args)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// doer is the part of the client command mode needs.
type doer interface {
	Do(cmd string) ([]client.Reply, error)
}

// runCommands sends a word command as is, or each key on its own, waiting
// after each one, then stops the robot.
func runCommands(c doer, out io.Writer, command string, wait time.Duration) error {
	var cmds []string
	if command[0] == ':' {
		cmds = []string{command}
	} else {
		for _, r := range command {
			cmds = append(cmds, string(r))
		}
	}
	cmds = append(cmds, ":stop")

	for i, cmd := range cmds {
		replies, err := c.Do(cmd)
		for _, r := range replies {
			fmt.Fprintln(out, formatReply(r))
		}
		if err != nil {
			return err
		}
		if i < len(cmds)-1 {
			time.Sleep(wait)
		}
	}
	return nil
}

func formatReply(r client.Reply) string {
	mark := "OK"
	if !r.Accept {
		mark = "NG"
	}
	return fmt.Sprintf("%s %-12q %s", mark, r.Cmd, r.Text())
}
