package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/backend/memory"
	"github.com/five82/tether/internal/config"
)

const demoToken = "demo-token"

// demoBackend is the in-process data set served in demo mode.
type demoBackend struct {
	mu    sync.Mutex
	tasks []demoTask
	pings int
}

type demoTask struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	List    string    `json:"list"`
	Created time.Time `json:"created"`
}

func newDemoBackend() *demoBackend {
	d := &demoBackend{}
	titles := []string{
		"triage inbox", "review sync design", "rotate tokens", "update runbook",
		"prune cache", "tag release", "write changelog", "reply to support",
		"profile poller", "check backoff", "archive old logs", "plan sprint",
		"fix flaky test", "bump deps",
	}
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	for i, title := range titles {
		d.tasks = append(d.tasks, demoTask{
			ID:      uuid.NewString(),
			Title:   title,
			List:    "inbox",
			Created: start.Add(time.Duration(i) * time.Hour),
		})
	}
	return d
}

// install registers every demo handler on conn and keeps clock:now ticking
// until ctx is done.
func (d *demoBackend) install(ctx context.Context, conn *memory.Conn) {
	conn.HandleQuery("users:me", func(any) (any, error) {
		return map[string]any{"name": "demo", "email": "demo@example.com", "plan": "free"}, nil
	})
	conn.HandleQuery("clock:now", func(any) (any, error) {
		return map[string]any{"now": time.Now().UTC().Format(time.RFC3339)}, nil
	})
	conn.HandleList("tasks:list", func(args any) ([]any, error) {
		list := stringArg(args, "list")
		d.mu.Lock()
		defer d.mu.Unlock()
		items := make([]any, 0, len(d.tasks))
		for i := len(d.tasks) - 1; i >= 0; i-- {
			if list == "" || d.tasks[i].List == list {
				items = append(items, d.tasks[i])
			}
		}
		return items, nil
	})
	conn.HandleCall("tasks:add", func(_ context.Context, args any) (any, error) {
		title := stringArg(args, "title")
		if title == "" {
			return nil, &backend.Error{Function: "tasks:add", Code: 400, Message: "title is required"}
		}
		list := stringArg(args, "list")
		if list == "" {
			list = "inbox"
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		task := demoTask{ID: uuid.NewString(), Title: fmt.Sprintf("%s #%d", title, len(d.tasks)+1), List: list, Created: time.Now().UTC()}
		d.tasks = append(d.tasks, task)
		return task, nil
	})
	conn.HandleCall("system:ping", func(ctx context.Context, _ any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
		d.mu.Lock()
		d.pings++
		n := d.pings
		d.mu.Unlock()
		return map[string]any{"pong": n}, nil
	})

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.Invalidate("clock:now")
			}
		}
	}()
}

func stringArg(args any, key string) string {
	m, ok := args.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// demoConfig fills in watches and calls for the demo data set when the
// config names none.
func demoConfig(cfg config.Config) (config.Config, error) {
	if len(cfg.Watches) > 0 || len(cfg.Mutations) > 0 {
		return cfg, nil
	}
	signedIn, err := config.CompilePredicate("authenticated")
	if err != nil {
		return cfg, err
	}
	cfg.Watches = []config.Watch{
		{Name: "users:me", Kind: backend.KindQuery, Enabled: signedIn},
		{Name: "clock:now", Kind: backend.KindQuery},
		{Name: "tasks:list", Kind: backend.KindPaginatedQuery, Args: map[string]any{"list": "inbox"}, Enabled: signedIn, PageSize: 5},
	}
	cfg.Mutations = []config.Mutation{
		{Name: "tasks:add", Kind: backend.KindMutation, Args: map[string]any{"title": "demo task", "list": "inbox"}, Key: "tasks:list"},
		{Name: "system:ping", Kind: backend.KindAction},
	}
	return cfg, nil
}
