package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/tether/internal/prefs"
	"github.com/five82/tether/internal/state"
)

// View represents the current active view.
type View int

const (
	ViewWatches View = iota
	ViewCalls
	ViewLogs
)

// Controller forwards user commands to the runtime. Implementations must be
// safe to call from the UI goroutine.
type Controller interface {
	Refetch(watch string)
	LoadMore(watch string)
	Reset(watch string)
	Run(call string)
	ResetCall(call string)
	SignOut()
}

// Options configures the UI.
type Options struct {
	Context    context.Context
	Store      *state.Store
	Controller Controller
	LogPath    string
	PollTick   time.Duration
	ThemeName  string
	PrefsPath  string
	// LastWatch preselects a watch by name once it appears.
	LastWatch string
}

// Model is the root application state for Bubble Tea.
type Model struct {
	store     *state.Store
	ctrl      Controller
	prefsPath string
	logPath   string
	pollTick  time.Duration

	theme       Theme
	keys        keyMap
	currentView View
	width       int
	height      int
	ready       bool
	showHelp    bool

	snapshot    state.Snapshot
	version     uint64
	lastUpdated time.Time
	flash       string

	selectedWatch int
	selectedCall  int
	pendingWatch  string

	detailViewport viewport.Model
	logViewport    viewport.Model
	logState       logState
	spinner        spinner.Model
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	pollTick := opts.PollTick
	if pollTick <= 0 {
		pollTick = 250 * time.Millisecond
	}
	themeName := opts.ThemeName
	if themeName == "" {
		themeName = "Dracula"
	}
	theme := GetTheme(themeName)

	m := Model{
		store:        opts.Store,
		ctrl:         opts.Controller,
		prefsPath:    opts.PrefsPath,
		logPath:      opts.LogPath,
		pollTick:     pollTick,
		theme:        theme,
		keys:         DefaultKeyMap(),
		currentView:  ViewWatches,
		pendingWatch: strings.TrimSpace(opts.LastWatch),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Info))),
		),
	}
	m.initLogState()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.pollTick), m.spinner.Tick}
	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.detailViewport = viewport.New(1, 1)
			m.initLogViewport()
		}
		m.ready = true
		m.updateDetailViewport()
		m.updateLogViewport()
		return m, nil

	case tickMsg:
		return m.handleTick()

	case snapshotMsg:
		m.applySnapshot(msg.snapshot, msg.version)
		return m, nil

	case logBatchMsg:
		m.handleLogBatch(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderCommandBar())
	b.WriteString("\n")
	b.WriteString(m.renderContent())
	return b.String()
}

func (m Model) renderContent() string {
	switch m.currentView {
	case ViewCalls:
		return m.renderCalls()
	case ViewLogs:
		return m.renderLogs()
	default:
		return m.renderWatches()
	}
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}
	// The log filter input takes every key while it is open.
	if m.currentView == ViewLogs && m.logState.filtering {
		return m.handleLogsKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.savePrefs()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(m.theme.Info))
		m.savePrefs()
		m.updateDetailViewport()
		m.updateLogViewport()
		return m, nil
	case key.Matches(msg, m.keys.Tab):
		return m.switchView((m.currentView + 1) % 3)
	case key.Matches(msg, m.keys.ShiftTab):
		return m.switchView((m.currentView + 2) % 3)
	case key.Matches(msg, m.keys.ViewWatches), key.Matches(msg, m.keys.Escape):
		return m.switchView(ViewWatches)
	case key.Matches(msg, m.keys.ViewCalls):
		return m.switchView(ViewCalls)
	case key.Matches(msg, m.keys.ViewLogs):
		return m.switchView(ViewLogs)
	case key.Matches(msg, m.keys.SignOut):
		if m.ctrl != nil {
			m.ctrl.SignOut()
			m.flash = "signed out"
		}
		return m, nil
	}

	switch m.currentView {
	case ViewWatches:
		return m.handleWatchesKey(msg)
	case ViewCalls:
		return m.handleCallsKey(msg)
	case ViewLogs:
		return m.handleLogsKey(msg)
	}
	return m, nil
}

func (m Model) switchView(v View) (tea.Model, tea.Cmd) {
	m.currentView = v
	if v == ViewLogs {
		return m, m.refreshLogs()
	}
	return m, nil
}

// handleTick processes the refresh tick.
func (m Model) handleTick() (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	if m.currentView == ViewLogs && m.logState.follow {
		if cmd := m.refreshLogs(); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	cmds = append(cmds, tickCmd(m.pollTick))
	return m, tea.Batch(cmds...)
}

// applySnapshot installs a newer snapshot and keeps selections in range.
func (m *Model) applySnapshot(snap state.Snapshot, version uint64) {
	if version != 0 && version == m.version {
		return
	}
	m.version = version
	m.snapshot = snap
	m.lastUpdated = snap.LastUpdated

	if m.pendingWatch != "" {
		for i, w := range snap.Watches {
			if w.Name == m.pendingWatch {
				m.selectedWatch = i
				m.pendingWatch = ""
				break
			}
		}
	}
	m.selectedWatch = clampIndex(m.selectedWatch, len(snap.Watches))
	m.selectedCall = clampIndex(m.selectedCall, len(snap.Calls))
	m.updateDetailViewport()
}

func clampIndex(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (m Model) selectedWatchName() string {
	if m.selectedWatch < len(m.snapshot.Watches) {
		return m.snapshot.Watches[m.selectedWatch].Name
	}
	return ""
}

func (m Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	last := m.selectedWatchName()
	if last == "" {
		last = m.pendingWatch
	}
	_ = prefs.Save(m.prefsPath, prefs.Prefs{Theme: m.theme.Name, LastWatch: last})
}

// Messages

type tickMsg time.Time

type snapshotMsg struct {
	snapshot state.Snapshot
	version  uint64
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshotCmd(store *state.Store) tea.Cmd {
	return func() tea.Msg {
		version := store.Version()
		return snapshotMsg{snapshot: store.Snapshot(), version: version}
	}
}

// Run starts the Bubble Tea program and blocks until the user quits or the
// context is cancelled.
func Run(opts Options) error {
	if opts.Store == nil {
		return fmt.Errorf("ui requires a data store")
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
