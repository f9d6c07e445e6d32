package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/tether/internal/state"
)

const listWidth = 34

func (m Model) handleWatchesKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	n := len(m.snapshot.Watches)
	switch {
	case key.Matches(msg, m.keys.Down):
		if m.selectedWatch < n-1 {
			m.selectedWatch++
			m.updateDetailViewport()
		}
	case key.Matches(msg, m.keys.Up):
		if m.selectedWatch > 0 {
			m.selectedWatch--
			m.updateDetailViewport()
		}
	case key.Matches(msg, m.keys.Top):
		m.selectedWatch = 0
		m.updateDetailViewport()
	case key.Matches(msg, m.keys.Bottom):
		m.selectedWatch = clampIndex(n-1, n)
		m.updateDetailViewport()
	case key.Matches(msg, m.keys.HalfPageDown):
		m.detailViewport.HalfViewDown()
	case key.Matches(msg, m.keys.HalfPageUp):
		m.detailViewport.HalfViewUp()
	case key.Matches(msg, m.keys.Refetch):
		m.forWatch(func(name string) { m.ctrl.Refetch(name) }, "refetch")
	case key.Matches(msg, m.keys.LoadMore):
		m.forWatch(func(name string) { m.ctrl.LoadMore(name) }, "load more")
	case key.Matches(msg, m.keys.Reset):
		m.forWatch(func(name string) { m.ctrl.Reset(name) }, "reset")
	}
	return m, nil
}

func (m *Model) forWatch(fn func(name string), verb string) {
	name := m.selectedWatchName()
	if name == "" || m.ctrl == nil {
		return
	}
	fn(name)
	m.flash = verb + " " + name
}

func (m Model) handleCallsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	n := len(m.snapshot.Calls)
	switch {
	case key.Matches(msg, m.keys.Down):
		if m.selectedCall < n-1 {
			m.selectedCall++
		}
	case key.Matches(msg, m.keys.Up):
		if m.selectedCall > 0 {
			m.selectedCall--
		}
	case key.Matches(msg, m.keys.Top):
		m.selectedCall = 0
	case key.Matches(msg, m.keys.Bottom):
		m.selectedCall = clampIndex(n-1, n)
	case key.Matches(msg, m.keys.Run), key.Matches(msg, m.keys.Reset):
		if m.selectedCall >= n || m.ctrl == nil {
			return m, nil
		}
		name := m.snapshot.Calls[m.selectedCall].Name
		if key.Matches(msg, m.keys.Run) {
			m.ctrl.Run(name)
			m.flash = "run " + name
		} else {
			m.ctrl.ResetCall(name)
			m.flash = "reset " + name
		}
	}
	return m, nil
}

// renderWatches renders the watch list beside the selected watch's detail.
func (m Model) renderWatches() string {
	styles := m.theme.Styles()
	if len(m.snapshot.Watches) == 0 {
		return styles.MutedText.Render("No watches configured.")
	}

	var rows []string
	for i, w := range m.snapshot.Watches {
		rows = append(rows, m.renderListRow(w.Name, w.Status, w.Loading, i == m.selectedWatch))
	}
	list := styles.FocusedPane.Width(listWidth).Height(m.contentHeight()).Render(strings.Join(rows, "\n"))
	detail := styles.Pane.Render(m.detailViewport.View())
	return lipgloss.JoinHorizontal(lipgloss.Top, list, detail)
}

func (m Model) renderListRow(name, status string, loading, selected bool) string {
	styles := m.theme.Styles()
	marker := "  "
	if loading {
		marker = m.spinner.View() + " "
	}
	label := padRight(truncate(name, listWidth-16), listWidth-16)
	row := marker + label + " " + styles.StatusStyle(status).Render(status)
	if selected {
		return styles.Selected.Render(marker+label) + " " + styles.StatusStyle(status).Render(status)
	}
	return row
}

func (m Model) contentHeight() int {
	return maxInt(m.height-5, 1)
}

// updateDetailViewport re-renders the selected watch into the detail pane.
func (m *Model) updateDetailViewport() {
	if !m.ready {
		return
	}
	m.detailViewport.Width = maxInt(m.width-listWidth-6, 1)
	m.detailViewport.Height = m.contentHeight()
	if m.selectedWatch >= len(m.snapshot.Watches) {
		m.detailViewport.SetContent("")
		return
	}
	m.detailViewport.SetContent(renderWatchDetail(m.snapshot.Watches[m.selectedWatch], m.theme.Styles(), m.detailViewport.Width))
}

func renderWatchDetail(w state.WatchView, styles Styles, width int) string {
	var b strings.Builder
	field := func(label, value string, style lipgloss.Style) {
		b.WriteString(styles.MutedText.Render(padRight(label, 10)))
		b.WriteString(style.Render(value))
		b.WriteString("\n")
	}

	b.WriteString(styles.AccentText.Bold(true).Render(w.Name))
	b.WriteString("\n\n")
	field("Kind", w.Kind, styles.Text)
	field("Status", w.Status, styles.StatusStyle(w.Status))
	field("Updates", fmt.Sprintf("%d", w.Updates), styles.Text)
	if !w.UpdatedAt.IsZero() {
		field("Updated", w.UpdatedAt.Format("15:04:05"), styles.Text)
	}
	if w.Kind == "paginated" {
		field("Items", fmt.Sprintf("%d", len(w.Items)), styles.Text)
		switch {
		case w.Exhausted:
			field("More", "exhausted", styles.MutedText)
		case w.CanLoadMore:
			field("More", "press m", styles.InfoText)
		}
	}
	if w.Err != nil {
		field("Error", truncate(w.Err.Error(), maxInt(width-12, 10)), styles.DangerText)
	}
	b.WriteString("\n")

	switch {
	case w.Kind == "paginated":
		for i, item := range w.Items {
			b.WriteString(styles.FaintText.Render(fmt.Sprintf("%4d ", i+1)))
			b.WriteString(styles.Text.Render(truncate(item, maxInt(width-6, 10))))
			b.WriteString("\n")
		}
	case w.Data != "":
		b.WriteString(styles.Text.Render(w.Data))
		b.WriteString("\n")
	case w.Status == "skipped":
		b.WriteString(styles.MutedText.Render("Skipped until its condition holds."))
		b.WriteString("\n")
	}
	return b.String()
}

// renderCalls renders configured mutations and actions.
func (m Model) renderCalls() string {
	styles := m.theme.Styles()
	if len(m.snapshot.Calls) == 0 {
		return styles.MutedText.Render("No mutations or actions configured.")
	}
	var b strings.Builder
	for i, c := range m.snapshot.Calls {
		b.WriteString(m.renderListRow(c.Name, c.Status, c.Status == "pending", i == m.selectedCall))
		b.WriteString(" ")
		b.WriteString(styles.FaintText.Render(c.Kind))
		switch {
		case c.Err != nil:
			b.WriteString("  ")
			b.WriteString(styles.DangerText.Render(truncate(c.Err.Error(), 60)))
		case c.Result != "":
			b.WriteString("  ")
			b.WriteString(styles.Text.Render(truncate(firstLine(c.Result), 60)))
		}
		b.WriteString("\n")
	}
	return b.String()
}
