package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/op-runtime/dispatch"
	"github.com/wippyai/op-runtime/host"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/timers"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	actionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	statStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type actionKind int

const (
	actionTimeout actionKind = iota
	actionInterval
	actionClear
	actionEcho
	actionQuit
)

type actionInfo struct {
	kind        actionKind
	label       string
	prompt      string
	placeholder string
}

type modelState int

const (
	stateMenu modelState = iota
	stateInput
)

type dashModel struct {
	local *host.Local
	disp  *dispatch.Dispatcher
	sched *timers.Scheduler
	table *ops.Table

	mu     sync.Mutex
	events []string
	start  time.Time

	actions  []actionInfo
	selected int
	input    textinput.Model
	pending  actionKind
	state    modelState
	err      error
}

// pumpMsg reports one turn of the event loop: completions delivered and
// due timers drained.
type pumpMsg struct {
	err error
}

func newDashModel() (*dashModel, error) {
	local := host.NewLocal()
	if err := host.RegisterBuiltins(local); err != nil {
		return nil, err
	}
	table, err := ops.Resolve(local)
	if err != nil {
		return nil, err
	}
	disp, err := dispatch.New(local, table)
	if err != nil {
		return nil, err
	}
	if err := disp.MarkMinimal(ops.Read, ops.Write); err != nil {
		return nil, err
	}
	sched, err := timers.New(disp, table)
	if err != nil {
		return nil, err
	}

	return &dashModel{
		local: local,
		disp:  disp,
		sched: sched,
		table: table,
		start: time.Now(),
		actions: []actionInfo{
			{kind: actionTimeout, label: "set timeout", prompt: "delay ms: ", placeholder: "250"},
			{kind: actionInterval, label: "set interval", prompt: "period ms: ", placeholder: "500"},
			{kind: actionClear, label: "clear timer", prompt: "timer id: ", placeholder: "1"},
			{kind: actionEcho, label: "send echo", prompt: "message: ", placeholder: "hello"},
			{kind: actionQuit, label: "quit"},
		},
		state: stateMenu,
	}, nil
}

func (m *dashModel) Init() tea.Cmd {
	return m.pump
}

// pump runs one event-loop turn and reschedules itself through Update.
// The short await window doubles as the UI refresh cadence.
func (m *dashModel) pump() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if err := m.local.Await(ctx); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return pumpMsg{}
		}
		return pumpMsg{err: err}
	}
	if err := m.local.Deliver(); err != nil {
		return pumpMsg{err: err}
	}
	for {
		more, err := m.sched.FireNext()
		if err != nil {
			return pumpMsg{err: err}
		}
		if !more {
			break
		}
	}
	return pumpMsg{}
}

func (m *dashModel) record(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line := fmt.Sprintf("[%4dms] %s", time.Since(m.start).Milliseconds(), fmt.Sprintf(format, args...))
	m.events = append(m.events, line)
	if len(m.events) > 12 {
		m.events = m.events[len(m.events)-12:]
	}
}

func (m *dashModel) recent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

func (m *dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state == stateMenu {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateMenu && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateMenu && m.selected < len(m.actions)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateMenu:
				action := m.actions[m.selected]
				if action.kind == actionQuit {
					return m, tea.Quit
				}
				m.prepareInput(action)

			case stateInput:
				value := m.input.Value()
				m.state = stateMenu
				m.apply(value)
			}

		case "esc":
			if m.state == stateInput {
				m.state = stateMenu
			}
		}

	case pumpMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m, m.pump
	}

	if m.state == stateInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *dashModel) prepareInput(action actionInfo) {
	ti := textinput.New()
	ti.Prompt = action.prompt
	ti.Placeholder = action.placeholder
	ti.Width = 40
	ti.Focus()
	m.input = ti
	m.pending = action.kind
	m.state = stateInput
}

func (m *dashModel) apply(value string) {
	value = strings.TrimSpace(value)
	switch m.pending {
	case actionTimeout, actionInterval:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			m.record("bad delay %q", value)
			return
		}
		d := time.Duration(ms) * time.Millisecond
		if m.pending == actionTimeout {
			var id timers.TimerID
			id, err = m.sched.SetTimeout(func() {
				m.record("timer %d fired (%dms)", id, ms)
			}, d)
			if err != nil {
				m.record("set timeout: %v", err)
				return
			}
			m.record("timer %d armed for %dms", id, ms)
		} else {
			var id timers.TimerID
			id, err = m.sched.SetInterval(func() {
				m.record("interval %d tick", id)
			}, d)
			if err != nil {
				m.record("set interval: %v", err)
				return
			}
			m.record("interval %d armed every %dms", id, ms)
		}

	case actionClear:
		id, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			m.record("bad timer id %q", value)
			return
		}
		if err := m.sched.Clear(timers.TimerID(id)); err != nil {
			m.record("clear %d: %v", id, err)
			return
		}
		m.record("timer %d cleared", id)

	case actionEcho:
		echo, ok := m.table.Lookup(ops.Echo)
		if !ok {
			m.record("op %s not in table", ops.Echo)
			return
		}
		fut, err := m.disp.CallAsync(echo, map[string]any{"message": value, "defer": true}, nil)
		if err != nil {
			m.record("echo: %v", err)
			return
		}
		fut.OnResolve(func(f *dispatch.Future) {
			raw, err := f.Result()
			if err != nil {
				m.record("echo failed: %v", err)
				return
			}
			m.record("echo completed: %s", raw)
		})
		m.record("echo sent (promise %d)", fut.PromiseID())
	}
}

func (m *dashModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("oprun"))
	b.WriteString(" local host dashboard\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Protocol error: %v", m.err)))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("ctrl+c quit"))
		return b.String()
	}

	st := m.sched.Stats()
	now := m.local.Clock()
	stats := fmt.Sprintf("timers %d • due nodes %d • pending fire %d • in-flight %d",
		st.Timers, st.DueNodes, st.PendingFire, m.disp.Pending())
	if st.Armed {
		wait := st.ArmedDue - now
		if wait < 0 {
			wait = 0
		}
		stats += fmt.Sprintf(" • armed in %dms", wait)
	}
	b.WriteString(statStyle.Render(stats))
	b.WriteString("\n\n")

	if snap := m.sched.Snapshot(); len(snap) > 0 {
		b.WriteString("Schedule:\n")
		for _, node := range snap {
			wait := node.Due - now
			if wait < 0 {
				wait = 0
			}
			b.WriteString(fmt.Sprintf("  in %5dms  %d timer(s)\n", wait, node.Timers))
		}
		b.WriteString("\n")
	}

	if events := m.recent(); len(events) > 0 {
		for _, line := range events {
			b.WriteString(eventStyle.Render(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	switch m.state {
	case stateMenu:
		for i, action := range m.actions {
			cursor := "  "
			if i == m.selected {
				cursor = "> "
				b.WriteString(selectedStyle.Render(cursor + action.label))
			} else {
				b.WriteString(cursor + actionStyle.Render(action.label))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter choose • q quit"))

	case stateInput:
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter apply • esc back"))
	}

	return b.String()
}

func runInteractive() error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal")
	}
	m, err := newDashModel()
	if err != nil {
		return err
	}
	defer m.local.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
