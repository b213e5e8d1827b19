package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/gravfit/internal/fit"
	monitorapi "github.com/fyrsmithlabs/gravfit/internal/http"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	progressWidth   = 40
)

// Model is the BubbleTea dashboard of a running fit.
type Model struct {
	client     *Client
	runID      string
	interval   time.Duration
	lastUpdate time.Time
	health     monitorapi.HealthResponse
	units      []monitorapi.UnitStatus
	history    map[fit.UnitKey]*unitHistory
	err        error
	quitting   bool

	progress progress.Model
}

// unitHistory keeps the recent sampler diagnostics of one unit for the
// sparklines.
type unitHistory struct {
	lastStep   int
	acceptance []float64
	maxLogProb []float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - for units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling client every interval. An empty
// runID shows every run known to the monitor.
func NewModel(client *Client, runID string, interval time.Duration) Model {
	return Model{
		client:   client,
		runID:    runID,
		interval: interval,
		history:  make(map[fit.UnitKey]*unitHistory),
		progress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(progressWidth),
		),
	}
}

// getStatusBadge returns the monitor status badge.
func getStatusBadge(status string) string {
	switch status {
	case "ok":
		return healthyStyle.Render("✓ HEALTHY")
	case "degraded":
		return warningStyle.Render("⚠ DEGRADED")
	}
	return errorStyle.Render("✗ " + status)
}

// getStateBadge returns a colored badge for a unit state.
func getStateBadge(state string) string {
	switch state {
	case monitorapi.StateRunning:
		return valueStyle.Render("[▶ running]")
	case monitorapi.StateFinished:
		return healthyStyle.Render("[✓ finished]")
	case monitorapi.StateSkipped:
		return warningStyle.Render("[⚠ skipped]")
	}
	return errorStyle.Render("[✗ " + state + "]")
}

// getAcceptanceBadge flags acceptance fractions outside the usual
// stretch-move range.
func getAcceptanceBadge(acceptance float64) string {
	switch {
	case math.IsNaN(acceptance):
		return ""
	case acceptance >= 0.2 && acceptance <= 0.5:
		return healthyStyle.Render("[✓]")
	case acceptance >= 0.1 && acceptance <= 0.7:
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type snapshotMsg struct {
	health monitorapi.HealthResponse
	units  []monitorapi.UnitStatus
}
type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.client, m.runID),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot fetches the monitor health and the tracked units.
func fetchSnapshot(client *Client, runID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		health, err := client.Health(ctx)
		if err != nil {
			return errMsg(err)
		}
		fits, err := client.Fits(ctx, runID)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg{health: health, units: fits.Units}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.client, m.runID)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.client, m.runID),
		)

	case snapshotMsg:
		m.history = updateHistory(m.history, msg.units)
		m.health = msg.health
		m.units = msg.units
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// updateHistory records the diagnostics of units that advanced since the
// previous snapshot and forgets units that disappeared.
func updateHistory(old map[fit.UnitKey]*unitHistory, units []monitorapi.UnitStatus) map[fit.UnitKey]*unitHistory {
	next := make(map[fit.UnitKey]*unitHistory, len(units))
	for _, u := range units {
		h, ok := old[u.UnitKey]
		if !ok {
			h = &unitHistory{lastStep: -1}
		}
		if u.Step != h.lastStep {
			if a := float64(u.Acceptance); !math.IsNaN(a) {
				h.acceptance = appendToHistory(h.acceptance, a)
			}
			if lp := float64(u.MaxLogProb); !math.IsNaN(lp) && !math.IsInf(lp, 0) {
				h.maxLogProb = appendToHistory(h.maxLogProb, lp)
			}
			h.lastStep = u.Step
		}
		next[u.UnitKey] = h
	}
	return next
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("gravfit Fit Monitor")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach the fit monitor") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Start the fit with --monitor or monitor.enabled: true") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	running, done := 0, 0
	for _, u := range m.units {
		if u.State == monitorapi.StateRunning {
			running++
		} else {
			done++
		}
	}

	content += headerStyle.Render(" gravfit Monitor ") + "\n"
	headerLine := fmt.Sprintf("%s   %s %s   %s %s   %s",
		getStatusBadge(m.health.Status),
		dimStyle.Render("Running:"), valueStyle.Render(fmt.Sprintf("%d", running)),
		dimStyle.Render("Done:"), valueStyle.Render(fmt.Sprintf("%d", done)),
		dimStyle.Render(lastUpdateStr))
	if m.health.Version != "" {
		headerLine += "   " + dimStyle.Render(m.health.Version)
	}
	content += headerLine + "\n"

	if len(m.units) == 0 {
		content += "\n" + dimStyle.Render("  no fit units reported yet") + "\n"
	}
	for _, u := range m.units {
		content += m.renderUnit(u)
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}

func (m Model) renderUnit(u monitorapi.UnitStatus) string {
	var content string

	runID := u.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	title := fmt.Sprintf("┃ %s  pol %d  dit %d", runID, u.Polarization, u.DIT)
	content += "\n" + sectionStyle.Render(title) + " " + getStateBadge(u.State) + "\n"

	elapsed := int64(u.UpdatedAt.Sub(u.StartedAt) / time.Second)
	content += labelStyle.Render("  Steps: ") +
		m.progress.ViewAs(ratio(u.Step, u.Steps)) +
		" " + valueStyle.Render(FormatProgress(u.Step, u.Steps)) +
		" " + dimStyle.Render(FormatDuration(elapsed)) + "\n"

	var acceptance, logProb []float64
	if h, ok := m.history[u.UnitKey]; ok {
		acceptance, logProb = h.acceptance, h.maxLogProb
	}
	a := float64(u.Acceptance)
	content += labelStyle.Render("  Acceptance: ") +
		valueStyle.Render(FormatPercentage(a)) +
		" " + getAcceptanceBadge(a) +
		"   " + createSparkline(acceptance) + "\n"
	content += labelStyle.Render("  Max log prob: ") +
		valueStyle.Render(FormatLogProb(float64(u.MaxLogProb))) +
		"   " + createSparkline(logProb) + "\n"

	if u.State == monitorapi.StateFinished {
		content += labelStyle.Render("  Reduced chi2: ") +
			valueStyle.Render(FormatChi2(u.ReducedChi2)) + "\n"
	}
	if u.Message != "" {
		content += labelStyle.Render("  Message: ") + dimStyle.Render(u.Message) + "\n"
	}
	return content
}
