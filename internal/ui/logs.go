package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/logtail"
)

const logFetchLimit = 500

// logState holds all log-related state.
type logState struct {
	lines  []string
	follow bool
	err    error

	filtering bool
	query     string
	input     textinput.Model
}

type logBatchMsg struct {
	lines []string
	err   error
}

func (m *Model) initLogState() {
	ti := textinput.New()
	ti.Placeholder = "Filter logs..."
	ti.CharLimit = 100
	m.logState = logState{follow: true, input: ti}
}

func (m *Model) initLogViewport() {
	m.logViewport = viewport.New(maxInt(m.width-2, 1), maxInt(m.height-4, 1))
}

// refreshLogs reads the log file tail off the UI goroutine.
func (m Model) refreshLogs() tea.Cmd {
	path := m.logPath
	if path == "" {
		return nil
	}
	return func() tea.Msg {
		entries, err := logtail.Tail(path, logFetchLimit, zerolog.DebugLevel)
		if err != nil {
			return logBatchMsg{err: err}
		}
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[i] = logtail.Format(e)
		}
		return logBatchMsg{lines: lines}
	}
}

func (m *Model) handleLogBatch(msg logBatchMsg) {
	m.logState.err = msg.err
	if msg.err == nil {
		m.logState.lines = msg.lines
	}
	m.updateLogViewport()
}

// visibleLogLines applies the filter query, case-insensitively.
func (m Model) visibleLogLines() []string {
	query := strings.ToLower(strings.TrimSpace(m.logState.query))
	if query == "" {
		return m.logState.lines
	}
	var out []string
	for _, line := range m.logState.lines {
		if strings.Contains(strings.ToLower(line), query) {
			out = append(out, line)
		}
	}
	return out
}

func (m *Model) updateLogViewport() {
	if !m.ready {
		return
	}
	m.logViewport.Width = maxInt(m.width-2, 1)
	m.logViewport.Height = maxInt(m.height-4, 1)
	styles := m.theme.Styles()

	lines := m.visibleLogLines()
	var content string
	switch {
	case m.logPath == "":
		content = styles.MutedText.Render("Logging to a file is disabled.")
	case m.logState.err != nil:
		content = styles.DangerText.Render(fmt.Sprintf("read log: %v", m.logState.err))
	case len(lines) == 0:
		content = styles.MutedText.Render("No log entries.")
	default:
		rendered := make([]string, len(lines))
		for i, line := range lines {
			rendered[i] = colorizeLogLine(line, styles)
		}
		content = strings.Join(rendered, "\n")
	}
	m.logViewport.SetContent(content)
	if m.logState.follow {
		m.logViewport.GotoBottom()
	}
}

// colorizeLogLine colors the level token written by logtail.Format.
func colorizeLogLine(line string, styles Styles) string {
	for _, lvl := range []struct {
		token string
		style lipgloss.Style
	}{
		{" ERROR ", styles.DangerText},
		{" WARN ", styles.WarningText},
		{" INFO ", styles.InfoText},
		{" DEBUG ", styles.FaintText},
	} {
		if i := strings.Index(line, lvl.token); i >= 0 {
			end := i + len(lvl.token) - 1
			return styles.MutedText.Render(line[:i+1]) + lvl.style.Render(line[i+1:end]) + styles.Text.Render(line[end:])
		}
	}
	return styles.Text.Render(line)
}

func (m Model) handleLogsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.logState.filtering {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			m.logState.query = m.logState.input.Value()
			m.logState.filtering = false
			m.logState.input.Blur()
			m.updateLogViewport()
			return m, nil
		case key.Matches(msg, m.keys.Escape):
			m.logState.filtering = false
			m.logState.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.logState.input, cmd = m.logState.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Search):
		m.logState.filtering = true
		m.logState.input.SetValue(m.logState.query)
		return m, m.logState.input.Focus()
	case key.Matches(msg, m.keys.ToggleFollow):
		m.logState.follow = !m.logState.follow
		if m.logState.follow {
			m.logViewport.GotoBottom()
			return m, m.refreshLogs()
		}
	case key.Matches(msg, m.keys.Top):
		m.logState.follow = false
		m.logViewport.GotoTop()
	case key.Matches(msg, m.keys.Bottom):
		m.logViewport.GotoBottom()
	case key.Matches(msg, m.keys.Down):
		m.logViewport.LineDown(1)
	case key.Matches(msg, m.keys.Up):
		m.logState.follow = false
		m.logViewport.LineUp(1)
	case key.Matches(msg, m.keys.HalfPageDown):
		m.logViewport.HalfViewDown()
	case key.Matches(msg, m.keys.HalfPageUp):
		m.logState.follow = false
		m.logViewport.HalfViewUp()
	}
	return m, nil
}

func (m Model) renderLogs() string {
	styles := m.theme.Styles()
	title := styles.AccentText.Bold(true).Render("Logs") + " " + styles.MutedText.Render(truncateMiddle(m.logPath, 60))
	if m.logState.query != "" {
		title += " " + styles.AccentText.Render("/"+truncate(m.logState.query, 18))
	}
	body := m.logViewport.View()
	if m.logState.filtering {
		body = m.logState.input.View() + "\n" + body
	}
	return title + "\n" + body
}
