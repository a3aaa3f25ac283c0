package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pushdeploy/internal/events"
	"github.com/mattjoyce/pushdeploy/internal/history"
)

const (
	maxEventLog     = 50
	deploymentLimit = 10
)

// activeDeployment is the deployment currently running, if any.
type activeDeployment struct {
	ID       string
	CommitID string
	Pusher   string
	Started  time.Time
}

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	connected bool
	health    healthMsg
	active    *activeDeployment
	eventLog  []events.Event
	lastID    int64
	lastError string

	deployments table.Model
	spinner     spinner.Model
	theme       Theme

	hubEvents chan events.Event
}

// New creates a watch model for the receiver at apiURL.
func New(apiURL, token string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Status", Width: 10},
			{Title: "Commit", Width: 9},
			{Title: "Pusher", Width: 14},
			{Title: "Started", Width: 19},
			{Title: "Duration", Width: 9},
			{Title: "Error", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(deploymentLimit),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	theme := NewDefaultTheme()
	sp.Style = theme.StatusRunning

	return &Model{
		apiURL:      strings.TrimRight(apiURL, "/"),
		token:       token,
		eventLog:    make([]events.Event, 0),
		deployments: t,
		spinner:     sp,
		theme:       theme,
		hubEvents:   make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.token, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		fetchDeployments(m.apiURL, m.token, deploymentLimit),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, fetchDeployments(m.apiURL, m.token, deploymentLimit)
		}
		var cmd tea.Cmd
		m.deployments, cmd = m.deployments.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		e := events.Event(msg)
		m.connected = true
		m.lastError = ""
		if e.ID > m.lastID {
			m.lastID = e.ID
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		switch e.Type {
		case events.DeployStarted:
			m.active = activeFromEvent(e)
			cmds = append(cmds, fetchDeployments(m.apiURL, m.token, deploymentLimit))
		case events.DeploySucceeded, events.DeployFailed:
			m.active = nil
			cmds = append(cmds, fetchDeployments(m.apiURL, m.token, deploymentLimit))
		}
		return m, tea.Batch(cmds...)

	case deploymentsMsg:
		m.deployments.SetRows(deploymentRows(msg))

	case healthMsg:
		m.health = msg
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.connected = false
		if msg.lastID > m.lastID {
			m.lastID = msg.lastID
		}
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.token, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}
	innerWidth := m.width - 4

	parts := []string{
		m.renderHeader(innerWidth),
		m.theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("RECENT DEPLOYMENTS"),
			m.deployments.View(),
		)),
		m.renderEventStream(innerWidth),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Help.Render(" [q] Quit • [r] Refresh • [↑/↓] Scroll"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader(width int) string {
	status := m.theme.StatusOK.Render("CONNECTED")
	if !m.connected {
		status = m.theme.StatusFailed.Render("CONNECTING")
	}
	uptime := time.Duration(m.health.Uptime * float64(time.Second))

	activity := m.theme.Dim.Render("idle")
	if m.active != nil {
		activity = fmt.Sprintf("%s deploying %s by %s (%s)",
			m.spinner.View(),
			m.theme.Highlight.Render(shortCommit(m.active.CommitID)),
			m.active.Pusher,
			formatDuration(time.Since(m.active.Started)),
		)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("PUSHDEPLOY WATCH")+"  "+m.theme.Dim.Render(m.apiURL),
		fmt.Sprintf(" %s  ⏱ %s", status, formatDuration(uptime)),
		" "+activity,
	)
	return m.theme.Border.Width(width).Render(content)
}

func (m Model) renderEventStream(width int) string {
	lines := []string{m.theme.Title.Render("EVENT STREAM")}
	if len(m.eventLog) == 0 {
		lines = append(lines, m.theme.Dim.Render("  Waiting for events..."))
	}
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, " "+formatEvent(e, m.theme))
	}
	return m.theme.Border.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	typeName := theme.StatusStyle(e.Type).Render(fmt.Sprintf("%-17s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, eventDesc(e))
}

func eventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if commit, ok := data["commit_id"].(string); ok && commit != "" {
		parts = append(parts, shortCommit(commit))
	}
	if pusher, ok := data["pusher"].(string); ok && pusher != "" {
		parts = append(parts, pusher)
	}
	if ref, ok := data["ref"].(string); ok && ref != "" {
		parts = append(parts, ref)
	}
	if reason, ok := data["reason"].(string); ok && reason != "" {
		parts = append(parts, reason)
	}
	if errText, ok := data["error"].(string); ok && errText != "" {
		parts = append(parts, errText)
	}
	return strings.Join(parts, " ")
}

func activeFromEvent(e events.Event) *activeDeployment {
	var data struct {
		DeploymentID string `json:"deployment_id"`
		CommitID     string `json:"commit_id"`
		Pusher       string `json:"pusher"`
	}
	_ = json.Unmarshal(e.Data, &data)
	return &activeDeployment{
		ID:       data.DeploymentID,
		CommitID: data.CommitID,
		Pusher:   data.Pusher,
		Started:  e.At,
	}
}

func deploymentRows(deployments []*history.Deployment) []table.Row {
	rows := make([]table.Row, 0, len(deployments))
	for _, d := range deployments {
		duration := "-"
		if d.DurationMS != nil {
			duration = formatDuration(time.Duration(*d.DurationMS) * time.Millisecond)
		}
		rows = append(rows, table.Row{
			string(d.Status),
			shortCommit(d.CommitID),
			d.Pusher,
			d.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			d.Error,
		})
	}
	return rows
}

func shortCommit(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
