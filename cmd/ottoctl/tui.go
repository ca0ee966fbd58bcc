package main

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cjeanneret/OttoGo/internal/client"
	"github.com/cjeanneret/OttoGo/internal/command"
)

const maxLogs = 12

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	ngStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	inputStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

type sender interface {
	Send(cmd string) error
}

// Messages from the connection
type replyMsg client.Reply
type connErrMsg struct{ err error }
type sentMsg struct {
	cmd string
	err error
}

// readReplies forwards every reply line until the connection fails.
func readReplies(c *client.Client) <-chan tea.Msg {
	ch := make(chan tea.Msg, 16)
	go func() {
		defer close(ch)
		for {
			r, err := c.Reply()
			if err != nil {
				ch <- connErrMsg{err}
				return
			}
			ch <- replyMsg(r)
		}
	}()
	return ch
}

func waitForReply(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

type model struct {
	conn    sender
	addr    string
	replies <-chan tea.Msg

	word     bool   // typing a :word command
	input    string // word command typed so far, without the leading ':'
	logs     []string
	width    int
	lost     bool
	quitting bool
}

func newModel(conn sender, addr string, replies <-chan tea.Msg) model {
	return model{conn: conn, addr: addr, replies: replies}
}

func (m *model) addLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m model) send(cmd string) tea.Cmd {
	return func() tea.Msg {
		return sentMsg{cmd: cmd, err: m.conn.Send(cmd)}
	}
}

func (m model) Init() tea.Cmd {
	return waitForReply(m.replies)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		if m.word {
			return m.updateWord(msg)
		}
		return m.updateKeys(msg)

	case replyMsg:
		m.addLog(renderReply(client.Reply(msg)))
		return m, waitForReply(m.replies)

	case connErrMsg:
		m.lost = true
		m.addLog(ngStyle.Render("connection lost: " + msg.err.Error()))
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.addLog(ngStyle.Render(fmt.Sprintf("send %q: %v", msg.cmd, msg.err)))
		}
		return m, nil
	}
	return m, nil
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.quitting = true
		return m, tea.Quit
	case tea.KeySpace:
		return m, m.send(" ")
	case tea.KeyRunes:
		s := string(msg.Runes)
		switch s {
		case "q":
			m.quitting = true
			return m, tea.Quit
		case ":":
			m.word = true
			m.input = ""
			return m, nil
		}
		return m, m.send(s)
	}
	return m, nil
}

func (m model) updateWord(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.word = false
	case tea.KeyEnter:
		m.word = false
		if strings.TrimSpace(m.input) == "" {
			return m, nil
		}
		return m, m.send(":" + m.input)
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}
	return m, nil
}

func renderReply(r client.Reply) string {
	if r.Accept {
		return okStyle.Render("OK ") + fmt.Sprintf("%-10s %s", r.Cmd, r.Text())
	}
	return ngStyle.Render("NG ") + fmt.Sprintf("%-10s %s", r.Cmd, r.Text())
}

func (m model) View() string {
	if m.quitting {
		return "Bye.\n"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("OttoGo"))
	sb.WriteString(statusStyle.Render("  " + m.addr))
	if m.lost {
		sb.WriteString(ngStyle.Render("  [disconnected]"))
	}
	sb.WriteString("\n\n")

	sb.WriteString(boxStyle.Render(keyHelp()))
	sb.WriteString("\n")

	if m.word {
		sb.WriteString(inputStyle.Render(":" + m.input + "_"))
	} else {
		sb.WriteString(statusStyle.Render("':' word command, '::' without interrupt, 'q' quit"))
	}
	sb.WriteString("\n")

	logs := statusStyle.Render("no replies yet")
	if len(m.logs) > 0 {
		logs = strings.Join(m.logs, "\n")
	}
	style := boxStyle
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	sb.WriteString(style.Render(logs))
	sb.WriteString("\n")
	return sb.String()
}

// keyHelp renders the one-key table in columns.
func keyHelp() string {
	keys := command.KeyMap()
	runes := make([]rune, 0, len(keys))
	for r := range keys {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })

	const perLine = 4
	var sb strings.Builder
	for i, r := range runes {
		label := string(r)
		if r == ' ' {
			label = "spc"
		}
		name := keys[r].Command("").Name()
		if k := keys[r].Kind; k == command.AutoOn || k == command.AutoOff {
			name = command.AutoPrefix + k.String()
		}
		fmt.Fprintf(&sb, "%-4s %-12s", label, name)
		if (i+1)%perLine == 0 && i != len(runes)-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
