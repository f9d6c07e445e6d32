package ui

import (
	"fmt"
	"strings"
	"time"
)

// renderHeader renders the status bar: auth, watch counts, freshness and the
// latest error.
func (m Model) renderHeader() string {
	styles := m.theme.Styles().WithBackground(m.theme.Surface)
	bg := NewBgStyle(m.theme.Surface)
	compact := m.width < 100

	parts := []string{bg.Render("tether", styles.Logo)}

	auth := m.snapshot.Auth
	switch auth.Status {
	case "authenticated":
		parts = append(parts, bg.Render("● SIGNED IN", styles.SuccessText))
	case "unauthenticated":
		parts = append(parts, bg.Render("● SIGNED OUT", styles.WarningText))
	case "":
		parts = append(parts, bg.Render("Connecting...", styles.WarningText.Bold(true)))
	default:
		parts = append(parts, bg.Render(m.spinner.View()+" AUTH", styles.InfoText))
	}
	if !compact && auth.Confirmed != "" {
		parts = append(parts, bg.Render("Token:", styles.MutedText)+bg.Space()+bg.Render(auth.Confirmed, styles.Text))
	}

	loading, failing := m.countWatchStates()
	parts = append(parts,
		bg.Render("Watches:", styles.MutedText)+bg.Space()+
			bg.Render(fmt.Sprintf("%d", len(m.snapshot.Watches)), styles.Text),
	)
	if loading > 0 {
		parts = append(parts, bg.Render("Loading:", styles.MutedText)+bg.Space()+bg.Render(fmt.Sprintf("%d", loading), styles.InfoText))
	}
	if failing > 0 {
		parts = append(parts, bg.Render("Errors:", styles.MutedText)+bg.Space()+bg.Render(fmt.Sprintf("%d", failing), styles.DangerText))
	}

	if ts := m.formatTimestamp(); ts != "" {
		parts = append(parts, bg.Render(ts, styles.MutedText))
	}

	if m.snapshot.IsOffline() {
		parts = append(parts, bg.Render(classifyConnectionError(m.snapshot.LastError), styles.DangerText.Bold(true)))
	}
	if err := m.snapshot.LastError; err != nil {
		maxErr := 80
		if compact {
			maxErr = 40
		}
		parts = append(parts,
			bg.Render("ERROR", styles.DangerText.Bold(true))+bg.Space()+
				bg.Render(truncate(firstLine(err.Error()), maxErr), styles.DangerText))
	} else if auth.Err != nil {
		parts = append(parts,
			bg.Render("AUTH", styles.DangerText.Bold(true))+bg.Space()+
				bg.Render(truncate(auth.Err.Error(), 40), styles.DangerText))
	}

	return styles.Header.Width(m.width).Render(bg.Join(parts, "  "))
}

func (m Model) countWatchStates() (loading, failing int) {
	for _, w := range m.snapshot.Watches {
		if w.Loading {
			loading++
		}
		if w.Err != nil {
			failing++
		}
	}
	return loading, failing
}

// formatTimestamp formats the last update time with a relative indicator.
func (m Model) formatTimestamp() string {
	if m.lastUpdated.IsZero() {
		return ""
	}
	since := time.Since(m.lastUpdated)
	ts := m.lastUpdated.Format("15:04:05")
	switch {
	case since < time.Minute:
		ts += " (now)"
	case since < time.Hour:
		ts += fmt.Sprintf(" (%dm ago)", int(since.Minutes()))
	case since < 24*time.Hour:
		ts += fmt.Sprintf(" (%dh ago)", int(since.Hours()))
	}
	return ts
}

// classifyConnectionError returns a short description of a backend error.
func classifyConnectionError(err error) string {
	if err == nil {
		return "OFFLINE"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "OFFLINE"
	case strings.Contains(msg, "no such host"):
		return "HOST NOT FOUND"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "TIMEOUT"
	case strings.Contains(msg, "unauthorized"):
		return "UNAUTHORIZED"
	default:
		return "ERROR"
	}
}

// renderCommandBar renders the key hints for the current view.
func (m Model) renderCommandBar() string {
	styles := m.theme.Styles().WithBackground(m.theme.Surface)
	bg := NewBgStyle(m.theme.Surface)

	type cmd struct{ key, desc string }
	var commands []cmd
	switch m.currentView {
	case ViewLogs:
		follow := "Pause"
		if !m.logState.follow {
			follow = "Follow"
		}
		commands = []cmd{{"Space", follow}, {"/", "Filter"}, {"w", "Watches"}, {"c", "Calls"}, {"?", "More"}}
	case ViewCalls:
		commands = []cmd{{"j/k", "Navigate"}, {"enter", "Run"}, {"x", "Reset"}, {"w", "Watches"}, {"l", "Logs"}, {"?", "More"}}
	default:
		commands = []cmd{{"j/k", "Navigate"}, {"r", "Refetch"}, {"m", "More"}, {"x", "Reset"}, {"c", "Calls"}, {"l", "Logs"}, {"?", "Help"}}
	}

	colon := bg.Render(":", styles.FaintText)
	segments := make([]string, 0, len(commands)+2)
	for _, c := range commands {
		segments = append(segments, bg.Render(c.key, styles.AccentText)+colon+bg.Render(c.desc, styles.MutedText))
	}
	if m.flash != "" {
		segments = append(segments, bg.Render(m.flash, styles.InfoText))
	}
	segments = append(segments, bg.Render("T", styles.AccentText)+colon+bg.Render(m.theme.Name, styles.FaintText))

	return styles.Header.Width(m.width).Render(strings.Join(segments, bg.Spaces(2)))
}
