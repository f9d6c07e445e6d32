package state

import (
	"fmt"
	"sync"
	"time"
)

// AuthView is the authentication bridge as last observed on the runtime loop.
type AuthView struct {
	Status    string
	Confirmed string
	Err       error
}

// WatchView is one configured watch rendered to plain values.
type WatchView struct {
	Name   string
	Kind   string
	Status string
	// Data is the single query result, formatted for display.
	Data string
	// Items holds paginated results, one formatted line per item.
	Items       []string
	Err         error
	Loading     bool
	CanLoadMore bool
	Exhausted   bool
	UpdatedAt   time.Time
	// Updates counts how many results the watch has received.
	Updates int
}

// CallView is one configured mutation or action.
type CallView struct {
	Name   string
	Kind   string
	Status string
	Result string
	Err    error
}

// Views is everything the runtime publishes in one update.
type Views struct {
	Auth    AuthView
	Watches []WatchView
	Calls   []CallView
}

// Snapshot represents the latest data available to the UI.
type Snapshot struct {
	Auth                AuthView
	Watches             []WatchView
	Calls               []CallView
	LastUpdated         time.Time
	LastError           error
	ConsecutiveFailures int // Number of consecutive updates carrying an error
}

// IsOffline returns true when the backend has failed repeatedly.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// Watch returns the view named name.
func (s Snapshot) Watch(name string) (WatchView, bool) {
	for _, w := range s.Watches {
		if w.Name == name {
			return w, true
		}
	}
	return WatchView{}, false
}

// Store coordinates updates from the runtime loop with reads from the UI.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
	version  uint64
}

// Update replaces the stored views. A non-nil err is recorded as the latest
// failure and counted; a nil err resets the failure count. Views are always
// replaced since each watch keeps its own last good data.
func (s *Store) Update(views Views, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Auth = views.Auth
	s.snapshot.Watches = cloneWatches(views.Watches)
	s.snapshot.Calls = cloneCalls(views.Calls)
	s.snapshot.LastUpdated = time.Now()
	s.version++

	if err != nil {
		s.snapshot.LastError = err
		s.snapshot.ConsecutiveFailures++
		return
	}
	s.snapshot.LastError = nil
	s.snapshot.ConsecutiveFailures = 0
}

// Version increments on every Update.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.Watches = cloneWatches(s.snapshot.Watches)
	snap.Calls = cloneCalls(s.snapshot.Calls)
	if s.snapshot.LastError != nil {
		snap.LastError = fmt.Errorf("%w", s.snapshot.LastError)
	}
	return snap
}

func cloneWatches(items []WatchView) []WatchView {
	if len(items) == 0 {
		return nil
	}
	dup := make([]WatchView, len(items))
	copy(dup, items)
	for i := range dup {
		if items[i].Items != nil {
			dup[i].Items = append([]string(nil), items[i].Items...)
		}
	}
	return dup
}

func cloneCalls(items []CallView) []CallView {
	if len(items) == 0 {
		return nil
	}
	dup := make([]CallView, len(items))
	copy(dup, items)
	return dup
}
