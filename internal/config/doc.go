// Package config loads tether's TOML configuration.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/tether/config.toml (default)
//  3. If the config file doesn't exist, fall back to defaults
//  4. If the file exists but fields are missing/empty, use defaults
//
// # Default Values
//
//   - Backend: 127.0.0.1:7488
//   - Poll interval: 2s
//   - Result cache: ~/.local/share/tether/cache.db
//   - Token file: ~/.config/tether/token
//   - Log: info level to ~/.local/share/tether/tether.log
//
// # TOML Format
//
//	backend_url = "127.0.0.1:7488"
//	poll_interval = "2s"
//	token_file = "~/.config/tether/token"
//
//	[[watch]]
//	name = "tasks:list"
//	kind = "paginated"           # or "query" (default)
//	page_size = 20
//	enabled = "authenticated"    # expr over authenticated, loading, status
//	args = { list = "inbox" }
//
//	[[mutation]]
//	name = "tasks:add"
//	kind = "mutation"            # or "action"
//	key = "tasks:list"           # refreshed after success
//	args = { text = "hello" }
//
// Tilde expansion is performed for every path field.
//
// # Enabled Predicates
//
// A watch's enabled expression is compiled with github.com/expr-lang/expr
// when the file loads, so typos fail at startup rather than at render time.
// The expression must evaluate to a bool and may only reference
// authenticated, loading and status.
package config
