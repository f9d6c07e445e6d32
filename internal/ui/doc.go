// Package ui is the Bubble Tea terminal client for tether.
//
// The model never touches the reactive runtime. It polls state.Store for
// snapshots on a tick and sends commands through a Controller, which posts
// them onto the runtime loop.
//
// Views:
//
//   - Watches: configured live and paginated queries with a detail pane
//   - Calls: configured mutations and actions
//   - Logs: the tail of the JSON log file, read with internal/logtail
//
// The theme and the selected watch persist through internal/prefs.
package ui
