// ABOUTME: Terminal dashboard for a running node
// ABOUTME: Shows mixer sources, UDP endpoints and TCP clients, with keys to adjust sources
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/soundcast/internal/monitor"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	refreshInterval = time.Second
	gainStep        = 0.1
)

// TUI runs the dashboard program
type TUI struct {
	program  *tea.Program
	quitChan chan struct{} // signals that the user asked to quit
}

type model struct {
	status    monitor.Status
	statusFn  func() monitor.Status
	command   func(monitor.Command) error
	selected  int
	lastErr   string
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time

func (m model) Init() tea.Cmd {
	// Refresh straight away, then once per interval
	return func() tea.Msg { return tickMsg(time.Now()) }
}

func tickEvery() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) refresh() model {
	if m.statusFn != nil {
		m.status = m.statusFn()
	}
	if n := len(m.sources()); m.selected >= n {
		m.selected = max(n-1, 0)
	}
	return m
}

func (m model) sources() []sourceRow {
	if m.status.Mixer == nil {
		return nil
	}
	rows := make([]sourceRow, 0, len(m.status.Mixer.Sources))
	for _, s := range m.status.Mixer.Sources {
		rows = append(rows, sourceRow{id: s.ID, name: s.Name, gain: s.Gain, enabled: s.Enabled})
	}
	return rows
}

type sourceRow struct {
	id      string
	name    string
	gain    float32
	enabled bool
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m.refresh(), tickEvery()
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		select {
		case m.quitChan <- struct{}{}:
		default:
		}
		return m, tea.Quit
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil
	case "down", "j":
		if m.selected < len(m.sources())-1 {
			m.selected++
		}
		return m, nil
	}

	rows := m.sources()
	if len(rows) == 0 || m.command == nil {
		return m, nil
	}
	row := rows[m.selected]

	var cmd monitor.Command
	switch msg.String() {
	case "+", "=":
		cmd = monitor.Command{Action: "set-gain", Source: row.id, Value: row.gain + gainStep}
	case "-":
		cmd = monitor.Command{Action: "set-gain", Source: row.id, Value: max(row.gain-gainStep, 0)}
	case " ":
		action := "disable"
		if !row.enabled {
			action = "enable"
		}
		cmd = monitor.Command{Action: action, Source: row.id}
	case "x":
		cmd = monitor.Command{Action: "remove", Source: row.id}
	default:
		return m, nil
	}

	m.lastErr = ""
	if err := m.command(cmd); err != nil {
		m.lastErr = err.Error()
	}
	return m.refresh(), nil
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	sectionStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	selectedStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	errStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Soundcast"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Node: "))
	b.WriteString(valueStyle.Render(m.status.Name))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n\n")

	if mx := m.status.Mixer; mx != nil {
		b.WriteString(sectionStyle.Render(fmt.Sprintf("Sources (%d)", len(mx.Sources))))
		b.WriteString(valueStyle.Render(fmt.Sprintf("  ticks %d, silent %d", mx.Stats.Ticks, mx.Stats.SilentTicks)))
		b.WriteString("\n\n")
		if len(mx.Sources) == 0 {
			b.WriteString(valueStyle.Render("  No sources"))
			b.WriteString("\n")
		}
		for i, row := range m.sources() {
			state := "on"
			if !row.enabled {
				state = "off"
			}
			line := fmt.Sprintf("  %s  gain %.1f  %s", row.name, row.gain, state)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + strings.TrimPrefix(line, "  ")))
			} else {
				b.WriteString(valueStyle.Render(line))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if udp := m.status.UDP; udp != nil {
		b.WriteString(sectionStyle.Render(fmt.Sprintf("Endpoints (%d)", len(udp.Endpoints))))
		b.WriteString(valueStyle.Render(fmt.Sprintf("  sent %d, received %d, errors %d",
			udp.Stats.PacketsSent, udp.Stats.PacketsReceived, udp.Stats.DecodeErrors)))
		b.WriteString("\n\n")
		if len(udp.Endpoints) == 0 {
			b.WriteString(valueStyle.Render("  No endpoints"))
			b.WriteString("\n")
		}
		for _, e := range udp.Endpoints {
			b.WriteString(fmt.Sprintf("  %s", e.Name))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, liveness %d)", e.Addr, e.Liveness)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if tcp := m.status.TCP; tcp != nil {
		b.WriteString(sectionStyle.Render(fmt.Sprintf("Connected Clients (%d)", len(tcp.Clients))))
		b.WriteString("\n\n")
		if len(tcp.Clients) == 0 {
			b.WriteString(valueStyle.Render("  No clients connected"))
			b.WriteString("\n")
		}
		for _, c := range tcp.Clients {
			b.WriteString(fmt.Sprintf("  %s", c.Addr))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (dropped %d)", c.Dropped)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.lastErr != "" {
		b.WriteString(errStyle.Render(m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString(lipgloss.NewStyle().Faint(true).Render("up/down select, +/- gain, space toggle, x remove, q quit"))

	return b.String()
}

// New creates a dashboard that polls statusFn and applies source edits
// through command, which may be nil for a read-only view
func New(statusFn func() monitor.Status, command func(monitor.Command) error) *TUI {
	quitChan := make(chan struct{}, 1)
	m := model{
		statusFn:  statusFn,
		command:   command,
		startTime: time.Now(),
		quitChan:  quitChan,
	}
	return &TUI{
		program:  tea.NewProgram(m, tea.WithAltScreen()),
		quitChan: quitChan,
	}
}

// Run blocks until the program exits
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Stop ends the program
func (t *TUI) Stop() {
	t.program.Quit()
}

// QuitChan returns the channel that signals when user wants to quit
func (t *TUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
