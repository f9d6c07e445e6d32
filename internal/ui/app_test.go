package ui

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/tether/internal/prefs"
	"github.com/five82/tether/internal/state"
)

type recordingController struct {
	calls []string
}

func (r *recordingController) Refetch(w string)   { r.calls = append(r.calls, "refetch "+w) }
func (r *recordingController) LoadMore(w string)  { r.calls = append(r.calls, "more "+w) }
func (r *recordingController) Reset(w string)     { r.calls = append(r.calls, "reset "+w) }
func (r *recordingController) Run(c string)       { r.calls = append(r.calls, "run "+c) }
func (r *recordingController) ResetCall(c string) { r.calls = append(r.calls, "reset call "+c) }
func (r *recordingController) SignOut()           { r.calls = append(r.calls, "signout") }

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sampleSnapshot() state.Snapshot {
	return state.Snapshot{
		Auth: state.AuthView{Status: "authenticated", Confirmed: "true"},
		Watches: []state.WatchView{
			{Name: "me", Kind: "query", Status: "success", Data: `{"name":"ada"}`},
			{Name: "tasks", Kind: "paginated", Status: "can-load-more", Items: []string{"one", "two"}, CanLoadMore: true},
		},
		Calls: []state.CallView{
			{Name: "add", Kind: "mutation", Status: "idle"},
			{Name: "ping", Kind: "action", Status: "error", Err: errors.New("nope")},
		},
	}
}

func readyModel(t *testing.T, opts Options) Model {
	t.Helper()
	m := New(opts)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ = next.Update(snapshotMsg{snapshot: sampleSnapshot(), version: 1})
	return next.(Model)
}

func press(t *testing.T, m Model, msgs ...tea.KeyMsg) Model {
	t.Helper()
	var next tea.Model = m
	for _, msg := range msgs {
		next, _ = next.Update(msg)
	}
	return next.(Model)
}

func TestModel_WatchCommandsTargetSelection(t *testing.T) {
	ctrl := &recordingController{}
	m := readyModel(t, Options{Controller: ctrl})

	m = press(t, m, runes("r"), runes("j"), runes("m"), runes("x"), runes("j"))
	want := []string{"refetch me", "more tasks", "reset tasks"}
	if !reflect.DeepEqual(ctrl.calls, want) {
		t.Fatalf("controller calls = %v, want %v", ctrl.calls, want)
	}
	if m.selectedWatch != 1 {
		t.Fatalf("selectedWatch = %d, want 1 (clamped)", m.selectedWatch)
	}
}

func TestModel_CallsView(t *testing.T) {
	ctrl := &recordingController{}
	m := readyModel(t, Options{Controller: ctrl})

	m = press(t, m, runes("c"), runes("j"), tea.KeyMsg{Type: tea.KeyEnter}, runes("k"), runes("x"))
	if m.currentView != ViewCalls {
		t.Fatalf("currentView = %v, want ViewCalls", m.currentView)
	}
	if want := []string{"run ping", "reset call add"}; !reflect.DeepEqual(ctrl.calls, want) {
		t.Fatalf("controller calls = %v, want %v", ctrl.calls, want)
	}
	if view := m.View(); !strings.Contains(view, "nope") {
		t.Fatalf("calls view missing error text:\n%s", view)
	}
}

func TestModel_TabCyclesViews(t *testing.T) {
	m := readyModel(t, Options{})
	var seen []View
	for i := 0; i < 3; i++ {
		m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
		seen = append(seen, m.currentView)
	}
	if want := []View{ViewCalls, ViewLogs, ViewWatches}; !reflect.DeepEqual(seen, want) {
		t.Fatalf("views = %v, want %v", seen, want)
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.currentView != ViewLogs {
		t.Fatalf("shift+tab view = %v, want ViewLogs", m.currentView)
	}
}

func TestModel_ThemeCycleSavesPrefs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	m := readyModel(t, Options{PrefsPath: path})
	m = press(t, m, runes("j"), runes("T"))

	if m.theme.Name != "Slate" {
		t.Fatalf("theme = %q, want Slate", m.theme.Name)
	}
	p, err := prefs.Load(path)
	if err != nil {
		t.Fatalf("prefs.Load: %v", err)
	}
	if p.Theme != "Slate" || p.LastWatch != "tasks" {
		t.Fatalf("prefs = %+v, want Slate/tasks", p)
	}
}

func TestModel_LastWatchPreselected(t *testing.T) {
	m := readyModel(t, Options{LastWatch: "tasks"})
	if m.selectedWatch != 1 {
		t.Fatalf("selectedWatch = %d, want 1", m.selectedWatch)
	}
	if m.pendingWatch != "" {
		t.Fatalf("pendingWatch = %q, want cleared", m.pendingWatch)
	}
}

func TestModel_SnapshotShrinkClampsSelection(t *testing.T) {
	m := readyModel(t, Options{})
	m = press(t, m, runes("G"))
	next, _ := m.Update(snapshotMsg{snapshot: state.Snapshot{Watches: []state.WatchView{{Name: "only"}}}, version: 2})
	m = next.(Model)
	if m.selectedWatch != 0 {
		t.Fatalf("selectedWatch = %d, want 0", m.selectedWatch)
	}
}

func TestModel_HelpOverlayClosesOnAnyKey(t *testing.T) {
	m := readyModel(t, Options{})
	m = press(t, m, runes("?"))
	if !m.showHelp || !strings.Contains(m.View(), "Keyboard Shortcuts") {
		t.Fatal("help overlay not shown")
	}
	m = press(t, m, runes("z"))
	if m.showHelp {
		t.Fatal("help overlay still shown")
	}
}

func TestModel_LogFilter(t *testing.T) {
	m := readyModel(t, Options{LogPath: filepath.Join(t.TempDir(), "tether.log")})
	m = press(t, m, runes("l"))
	next, _ := m.Update(logBatchMsg{lines: []string{"INFO ready", "WARN poll failed query=tasks", "INFO done"}})
	m = next.(Model)

	m = press(t, m, runes("/"), runes("p"), runes("o"), runes("l"), runes("l"), tea.KeyMsg{Type: tea.KeyEnter})
	if m.logState.query != "poll" {
		t.Fatalf("query = %q, want poll", m.logState.query)
	}
	if got := m.visibleLogLines(); !reflect.DeepEqual(got, []string{"WARN poll failed query=tasks"}) {
		t.Fatalf("visible lines = %v", got)
	}
	if m.currentView != ViewLogs {
		t.Fatalf("typing in the filter switched view to %v", m.currentView)
	}
}

func TestModel_ViewRendersHeader(t *testing.T) {
	m := readyModel(t, Options{})
	view := m.View()
	for _, want := range []string{"tether", "SIGNED IN", "Watches:", "me", "tasks"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q", want)
		}
	}
}
