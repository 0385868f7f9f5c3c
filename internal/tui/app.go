// Package tui provides the live debug panel for nightshift.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/nightshift/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	dayStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	nightStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	transitionStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	okStyle = lipgloss.NewStyle().
			Foreground(successColor)

	failStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)
)

const refreshInterval = time.Second

// App is the debug panel application model.
type App struct {
	client  *Client
	spinner spinner.Model

	snapshot    models.Snapshot
	active      []models.ActiveTransition
	transitions []models.TransitionRecord
	repairs     []models.RepairOperation
	stats       StatsView

	online  bool
	loaded  bool
	message string
	width   int
	height  int
}

// New creates a new debug panel pointed at the admin API.
func New(apiAddr string) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return &App{
		client:  NewClient(apiAddr),
		spinner: sp,
	}
}

// Run starts the Bubble Tea program.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type tickMsg time.Time

type refreshMsg struct {
	snapshot    models.Snapshot
	active      []models.ActiveTransition
	transitions []models.TransitionRecord
	repairs     []models.RepairOperation
	stats       StatsView
	err         error
}

type actionMsg struct {
	label    string
	repaired int
	err      error
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) refresh() tea.Cmd {
	client := a.client
	return func() tea.Msg {
		var msg refreshMsg
		var err error
		if msg.snapshot, err = client.Status(); err != nil {
			msg.err = err
			return msg
		}
		msg.active, _ = client.Active()
		msg.transitions, _ = client.Transitions()
		msg.repairs, _ = client.Repairs()
		msg.stats, _ = client.Stats()
		return msg
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.refresh(), tick())
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "f":
			client := a.client
			return a, func() tea.Msg {
				n, err := client.ForceRepairAll()
				return actionMsg{label: "force repair", repaired: n, err: err}
			}
		case "c":
			client := a.client
			return a, func() tea.Msg {
				n, err := client.CheckStuck()
				return actionMsg{label: "stuck check", repaired: n, err: err}
			}
		}

	case tickMsg:
		return a, tea.Batch(a.refresh(), tick())

	case refreshMsg:
		if msg.err != nil {
			a.online = false
			a.message = fmt.Sprintf("daemon unreachable: %v", msg.err)
			return a, nil
		}
		a.online = true
		a.loaded = true
		a.snapshot = msg.snapshot
		a.active = msg.active
		a.transitions = msg.transitions
		a.repairs = msg.repairs
		a.stats = msg.stats
		return a, nil

	case actionMsg:
		if msg.err != nil {
			a.message = fmt.Sprintf("%s failed: %v", msg.label, msg.err)
		} else {
			a.message = fmt.Sprintf("%s: %d repaired", msg.label, msg.repaired)
		}
		return a, a.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("nightshift - phase reliability"))
	b.WriteString("\n\n")

	if !a.loaded {
		b.WriteString(a.spinner.View())
		b.WriteString(" connecting to daemon...\n")
		if a.message != "" {
			b.WriteString(failStyle.Render(a.message))
			b.WriteString("\n")
		}
		return b.String()
	}

	b.WriteString(panelStyle.Render(a.statusPanel()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(a.watchdogPanel()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(a.historyPanel()))
	b.WriteString("\n")

	bar := "q quit · f force repair · c stuck check"
	if a.message != "" {
		bar = a.message + "  |  " + bar
	}
	if !a.online {
		bar = failStyle.Render("OFFLINE") + "  |  " + bar
	}
	b.WriteString(statusBarStyle.Render(bar))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("refreshed every %s", refreshInterval)))

	return b.String()
}

func (a *App) statusPanel() string {
	snap := a.snapshot

	phase := string(snap.Phase)
	var styled string
	switch snap.Phase {
	case models.PhaseDay:
		styled = dayStyle.Render(phase)
	case models.PhaseNight:
		styled = nightStyle.Render(phase)
	default:
		styled = transitionStyle.Render(phase)
	}

	flag := "idle"
	if snap.IsTransitioning {
		flag = "transitioning " + a.spinner.View()
	}

	return fmt.Sprintf("state: %s   phase: %s   day: %d   %s\ncompleted nodes: %d",
		snap.State, styled, snap.DayCount, flag, len(snap.CompletedNodes))
}

func (a *App) watchdogPanel() string {
	var b strings.Builder
	fmt.Fprintf(&b, "watchdog  active:%d  completed:%d  recovered:%d  failed:%d  overrides:%d\n",
		a.stats.Active, a.stats.Completed, a.stats.Recovered, a.stats.Failed, a.stats.DirectOverrides)

	if len(a.active) == 0 {
		b.WriteString(helpStyle.Render("no transitions in flight"))
	}
	for _, tr := range a.active {
		elapsed := time.Since(tr.StartTime).Round(time.Millisecond)
		fmt.Fprintf(&b, "%s -> %s  %s  attempt %d  elapsed %s",
			tr.From, tr.To, tr.Strategy, tr.RecoveryAttempts, elapsed)
	}
	return b.String()
}

func (a *App) historyPanel() string {
	var b strings.Builder
	b.WriteString("recent transitions\n")

	recs := a.transitions
	if len(recs) > 5 {
		recs = recs[len(recs)-5:]
	}
	if len(recs) == 0 {
		b.WriteString(helpStyle.Render("none yet"))
	}
	for i, rec := range recs {
		mark := okStyle.Render("ok")
		if !rec.Succeeded {
			mark = failStyle.Render("rejected")
		}
		if rec.Emergency {
			mark += failStyle.Render(" forced")
		}
		fmt.Fprintf(&b, "%s -> %s (%s) %s", rec.From, rec.To, rec.Reason, mark)
		if i < len(recs)-1 {
			b.WriteString("\n")
		}
	}

	if n := len(a.repairs); n > 0 {
		fmt.Fprintf(&b, "\nrepairs logged: %d", n)
	}
	return b.String()
}
