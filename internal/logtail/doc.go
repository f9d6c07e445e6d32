// Package logtail reads the tail of the tether log file for the log pane.
//
// Read keeps a ring buffer of the last N lines so large files are scanned
// once without holding them in memory. Parse understands the JSON lines
// zerolog writes to the log file and Format turns them back into a compact
// single-line form:
//
//	{"level":"warn","component":"httpconn","query":"tasks:list","time":"2026-10-19T10:00:00Z","message":"poll failed"}
//	10:00:00 WARN [httpconn] poll failed query=tasks:list
//
// Lines that are not JSON pass through untouched.
package logtail
