// Package app is the composition root for tether.
//
// Run loads config.toml, configures logging, starts the reactive loop and
// builds a Session on it. The session owns one live manager per configured
// watch or call and publishes their state to a state.Store, which the
// Bubble Tea client polls. Commands from the client are posted back onto the
// loop, so every manager is only touched by the loop goroutine.
//
// With Options.Demo set the backend is an in-process memory.Conn serving a
// small task list, a ticking clock and a ping action.
package app
