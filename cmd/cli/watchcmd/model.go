package watchcmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"runwarden/internal/api"
)

const (
	activeInterval    = 5 * time.Second
	deadCheckInterval = 60 * time.Second
	requestTimeout    = 10 * time.Second
	maxStuckShown     = 8
)

// Poller is the part of the control plane client the watch screen needs
type Poller interface {
	Active(ctx context.Context) (*api.ActiveResponse, error)
	CheckDead(ctx context.Context) (*api.CheckDeadResponse, error)
}

type activeMsg struct {
	resp *api.ActiveResponse
	err  error
}

type deadMsg struct {
	resp *api.CheckDeadResponse
	err  error
}

type pollActiveMsg struct{}

type pollDeadMsg struct{}

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	watchWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	watchPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type watchModel struct {
	poller  Poller
	overall progress.Model
	item    progress.Model
	width   int

	active     *api.ActiveResponse
	lastActive time.Time
	activeErr  error
	deadPaused []api.DeadRun
	lastDead   time.Time
	deadErr    error
	now        func() time.Time
}

func newWatchModel(poller Poller) watchModel {
	return watchModel{
		poller:  poller,
		overall: progress.New(progress.WithDefaultGradient()),
		item:    progress.New(progress.WithSolidFill("62")),
		now:     time.Now,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(fetchActiveCmd(m.poller), checkDeadCmd(m.poller))
}

func fetchActiveCmd(p Poller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := p.Active(ctx)
		return activeMsg{resp: resp, err: err}
	}
}

func checkDeadCmd(p Poller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := p.CheckDead(ctx)
		return deadMsg{resp: resp, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		barWidth := msg.Width - 8
		if barWidth > 80 {
			barWidth = 80
		}
		if barWidth < 10 {
			barWidth = 10
		}
		m.overall.Width = barWidth
		m.item.Width = barWidth
		return m, nil

	case activeMsg:
		m.lastActive = m.now()
		m.activeErr = msg.err
		if msg.err == nil {
			m.active = msg.resp
		}
		return m, tea.Tick(activeInterval, func(time.Time) tea.Msg { return pollActiveMsg{} })

	case deadMsg:
		m.lastDead = m.now()
		m.deadErr = msg.err
		if msg.err == nil && msg.resp != nil && msg.resp.DeadRunsDetected > 0 {
			m.deadPaused = append(m.deadPaused, msg.resp.DeadRuns...)
		}
		return m, tea.Tick(deadCheckInterval, func(time.Time) tea.Msg { return pollDeadMsg{} })

	case pollActiveMsg:
		return m, fetchActiveCmd(m.poller)

	case pollDeadMsg:
		return m, checkDeadCmd(m.poller)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			// the scheduled ticks keep running, a manual refresh only adds a poll
			return m, tea.Batch(fetchActiveCmd(m.poller), checkDeadCmd(m.poller))
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("RunWarden"))
	b.WriteString(watchMutedStyle.Render("  q quit, r refresh"))
	b.WriteString("\n\n")

	switch {
	case m.active == nil && m.activeErr == nil:
		b.WriteString(watchMutedStyle.Render("Loading..."))
	case m.active == nil || !m.active.HasActiveRun:
		b.WriteString(watchOKStyle.Render("No active run"))
	default:
		b.WriteString(watchPanelStyle.Render(m.runView()))
	}
	b.WriteString("\n")

	if m.active != nil && m.active.StuckVideosCount > 0 {
		b.WriteString("\n")
		b.WriteString(watchWarnStyle.Render(fmt.Sprintf("%d item(s) stuck in processing outside the active run", m.active.StuckVideosCount)))
		b.WriteString("\n")
		for i, item := range m.active.StuckVideos {
			if i == maxStuckShown {
				b.WriteString(watchMutedStyle.Render(fmt.Sprintf("  ... and %d more", len(m.active.StuckVideos)-maxStuckShown)))
				b.WriteString("\n")
				break
			}
			b.WriteString(fmt.Sprintf("  %s  %s\n", item.ID, item.Filename))
		}
	}

	for _, run := range m.deadPaused {
		b.WriteString("\n")
		b.WriteString(watchWarnStyle.Render(fmt.Sprintf("Run %s stopped heartbeating and was paused", run.ID)))
	}
	if len(m.deadPaused) > 0 {
		b.WriteString("\n")
	}

	if m.activeErr != nil {
		b.WriteString("\n")
		b.WriteString(watchErrorStyle.Render("active: " + m.activeErr.Error()))
	}
	if m.deadErr != nil {
		b.WriteString("\n")
		b.WriteString(watchErrorStyle.Render("check-dead: " + m.deadErr.Error()))
	}

	if !m.lastActive.IsZero() {
		b.WriteString("\n")
		b.WriteString(watchMutedStyle.Render("updated " + m.lastActive.Format(time.TimeOnly)))
	}
	b.WriteString("\n")
	return b.String()
}

func (m watchModel) runView() string {
	run := m.active.ActiveRun
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Run %s (%s)\n", run.ID, run.RunType))
	done := run.VideosProcessed + run.VideosFailed
	b.WriteString(fmt.Sprintf("%d/%d items, %d failed\n", done, run.TotalVideos, run.VideosFailed))
	b.WriteString(m.overall.ViewAs(fraction(float64(done), float64(run.TotalVideos))))
	b.WriteString("\n")

	if run.CurrentVideoID.Valid {
		label := run.CurrentVideoFilename.ValueOrZero()
		if label == "" {
			label = run.CurrentVideoID.String
		}
		b.WriteString("\n")
		b.WriteString(label)
		if msg := run.CurrentStatusMessage.ValueOrZero(); msg != "" {
			b.WriteString(watchMutedStyle.Render("  " + msg))
		}
		b.WriteString("\n")
		b.WriteString(m.item.ViewAs(fraction(run.CurrentProgress.ValueOrZero(), 100)))
		b.WriteString("\n")
	}

	if run.LastHeartbeat.Valid {
		b.WriteString(watchMutedStyle.Render("last heartbeat " + run.LastHeartbeat.Time.UTC().Format(time.TimeOnly) + " UTC"))
	}
	return b.String()
}

func fraction(n, total float64) float64 {
	if total <= 0 {
		return 0
	}
	f := n / total
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
