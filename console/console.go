// Package console is an interactive terminal client for a room session.
//
// Lines typed at the prompt are sent to the joined room. Lines starting with
// a slash are commands; /help lists them.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/wricardo/roomlink/eventbus"
	"github.com/wricardo/roomlink/protocol"
	"github.com/wricardo/roomlink/session"
)

const (
	maxLines     = 1000
	queryTimeout = 5 * time.Second
)

const helpText = `commands:
  /connect [address]  connect (default: the startup address)
  /join <room>        join a room by type name
  /leave              leave the joined room
  /rooms [name]       list rooms with free capacity
  /raw <text>         send text over the socket as-is
  /status             show connection and room status
  /quit               close and exit
anything else is sent to the joined room (JSON when it parses)`

// EventMsg carries a session event into the program.
type EventMsg struct{ Event eventbus.Event }

// roomsMsg delivers the result of /rooms.
type roomsMsg struct {
	name  string
	rooms []protocol.RoomAvailable
}

// Model is the console Bubble Tea model.
type Model struct {
	mgr     *session.Manager
	address string
	now     func() time.Time

	input    textinput.Model
	viewport viewport.Model
	lines    []string

	width  int
	height int
}

// New creates the console model. address is dialed on start and by a bare
// /connect.
func New(mgr *session.Manager, address string) Model {
	in := textinput.New()
	in.Placeholder = "message or /help"
	in.Prompt = "> "
	in.Focus()

	return Model{
		mgr:      mgr,
		address:  address,
		now:      time.Now,
		input:    in,
		viewport: viewport.New(80, 20),
	}
}

// Init dials the startup address.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.address != "" {
		addr := m.address
		cmds = append(cmds, func() tea.Msg {
			m.mgr.Connect(addr)
			return nil
		})
	}
	return tea.Batch(cmds...)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.mgr.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			return m.submit(line)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case EventMsg:
		m.appendEvent(msg.Event)
		return m, nil

	case roomsMsg:
		m.appendRooms(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit runs a command or sends line to the room.
func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	if !strings.HasPrefix(line, "/") {
		if !m.mgr.Joined() {
			m.appendLine(styleError.Render("not in a room, /join one first"))
			return m, nil
		}
		var data any
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			data = line
		}
		m.mgr.Send(data)
		m.appendLine(styleDimmed.Render("you: ") + styleText.Render(line))
		return m, nil
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "help":
		for _, l := range strings.Split(helpText, "\n") {
			m.appendLine(styleDimmed.Render(l))
		}

	case "connect":
		addr := arg
		if addr == "" {
			addr = m.address
		}
		if addr == "" {
			m.appendLine(styleError.Render("usage: /connect <address>"))
			break
		}
		m.appendLine(styleInfo.Render("connecting to " + addr))
		m.mgr.Connect(addr)

	case "join":
		if arg == "" {
			m.appendLine(styleError.Render("usage: /join <room>"))
			break
		}
		if !m.mgr.Connected() {
			m.appendLine(styleError.Render("not connected"))
			break
		}
		m.appendLine(styleInfo.Render("joining " + arg))
		m.mgr.JoinRoom(arg, nil)

	case "leave":
		if !m.mgr.Joined() {
			m.appendLine(styleError.Render("not in a room"))
			break
		}
		m.mgr.LeaveRoom()

	case "rooms":
		if !m.mgr.Connected() {
			m.appendLine(styleError.Render("not connected"))
			break
		}
		mgr, name := m.mgr, arg
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			defer cancel()
			return roomsMsg{name: name, rooms: mgr.AvailableRooms(ctx, name)}
		}

	case "raw":
		if !m.mgr.Connected() {
			m.appendLine(styleError.Render("not connected"))
			break
		}
		m.mgr.SendRaw(arg)
		m.appendLine(styleDimmed.Render("raw: ") + styleText.Render(arg))

	case "status":
		m.appendLine(styleInfo.Render(m.statusLine()))

	case "quit", "exit":
		m.mgr.Close()
		return m, tea.Quit

	default:
		m.appendLine(styleError.Render("unknown command /" + cmd + ", try /help"))
	}

	return m, nil
}

// View renders the console.
func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styleHeader.Render("roomlink")+"  "+m.renderStatus(),
		m.viewport.View(),
		m.input.View(),
	)
}

func (m Model) renderStatus() string {
	switch {
	case m.mgr.Joined():
		return styleOnline.Render(m.statusLine())
	case m.mgr.Connected():
		return styleInfo.Render(m.statusLine())
	default:
		return styleDimmed.Render(m.statusLine())
	}
}

func (m Model) statusLine() string {
	if !m.mgr.Connected() {
		return "disconnected"
	}
	s := "connected to " + m.mgr.Address()
	if info, ok := m.mgr.CurrentRoom(); ok {
		s += fmt.Sprintf(" | room %s (%s) as %s", info.ID, info.Name, info.SessionID)
	}
	return s
}

func (m *Model) appendEvent(ev eventbus.Event) {
	detail := session.Describe(ev.Detail)
	line := styleDimmed.Render(m.now().Format("15:04:05")) + " " +
		channelStyle(ev.Channel).Render(fmt.Sprintf("%-12s", ev.Channel))
	if detail != "" {
		line += " " + detail
	}
	m.appendLine(line)
}

func (m *Model) appendRooms(msg roomsMsg) {
	label := msg.name
	if label == "" {
		label = "all types"
	}
	if len(msg.rooms) == 0 {
		m.appendLine(styleInfo.Render("no rooms available for " + label))
		return
	}
	m.appendLine(styleInfo.Render(fmt.Sprintf("%d room(s) for %s:", len(msg.rooms), label)))
	for _, r := range msg.rooms {
		capacity := "unlimited"
		if r.MaxClients > 0 {
			capacity = fmt.Sprint(r.MaxClients)
		}
		m.appendLine(fmt.Sprintf("  %s %-12s %d/%s", r.RoomID, r.Name, r.Clients, capacity))
	}
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

// Run starts the console on the terminal and blocks until the user quits or
// ctx is done. Session events are forwarded into the program.
func Run(ctx context.Context, mgr *session.Manager, address string) error {
	p := tea.NewProgram(New(mgr, address), tea.WithContext(ctx), tea.WithAltScreen())

	var subs []eventbus.Subscription
	for _, ch := range eventbus.AllChannels() {
		if ch == eventbus.Message {
			continue
		}
		subs = append(subs, mgr.Subscribe(ch, func(ev eventbus.Event) {
			p.Send(EventMsg{Event: ev})
		}))
	}
	defer func() {
		for _, sub := range subs {
			mgr.Unsubscribe(sub)
		}
		mgr.Close()
	}()

	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
