package logtail

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Read returns at most maxLines from the end of the file at path. A missing
// file yields no lines and no error.
func Read(path string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	ring := make([]string, maxLines)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0
	idx := 0
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := make([]string, count)
	if count == maxLines {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%maxLines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}

// Entry is one structured log line.
type Entry struct {
	Time      time.Time
	Level     zerolog.Level
	Component string
	Message   string
	Err       string
	// Fields holds the remaining keys, rendered with fmt's %v.
	Fields map[string]string
	// Raw is the line as read. Lines that are not JSON only carry Raw.
	Raw string
}

// Parse decodes a zerolog JSON line. A line that is not a JSON object is
// returned as an entry with NoLevel and the text as its message.
func Parse(line string) Entry {
	entry := Entry{Raw: line, Level: zerolog.NoLevel}
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		entry.Message = trimmed
		return entry
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		entry.Message = trimmed
		return entry
	}

	if v, ok := fields[zerolog.LevelFieldName].(string); ok {
		if lvl, err := zerolog.ParseLevel(v); err == nil {
			entry.Level = lvl
		}
	}
	if v, ok := fields[zerolog.TimestampFieldName].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			entry.Time = ts
		}
	}
	entry.Message, _ = fields[zerolog.MessageFieldName].(string)
	entry.Err, _ = fields[zerolog.ErrorFieldName].(string)
	entry.Component, _ = fields["component"].(string)

	for _, key := range []string{
		zerolog.LevelFieldName,
		zerolog.TimestampFieldName,
		zerolog.MessageFieldName,
		zerolog.ErrorFieldName,
		"component",
	} {
		delete(fields, key)
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			entry.Fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return entry
}

// Format renders an entry on one line: time, level, component, message,
// sorted fields and the error last.
func Format(e Entry) string {
	if e.Level == zerolog.NoLevel && e.Time.IsZero() && e.Fields == nil && e.Err == "" {
		return e.Message
	}
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.Format("15:04:05"))
		b.WriteByte(' ')
	}
	b.WriteString(strings.ToUpper(levelName(e.Level)))
	if e.Component != "" {
		b.WriteString(" [")
		b.WriteString(e.Component)
		b.WriteByte(']')
	}
	if e.Message != "" {
		b.WriteByte(' ')
		b.WriteString(e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, e.Fields[k])
	}
	if e.Err != "" {
		b.WriteString(" error=")
		b.WriteString(e.Err)
	}
	return b.String()
}

func levelName(l zerolog.Level) string {
	if l == zerolog.NoLevel {
		return "log"
	}
	return l.String()
}

// Tail reads the last maxLines of path and parses each one. Entries below
// minLevel are dropped; unstructured lines are always kept.
func Tail(path string, maxLines int, minLevel zerolog.Level) ([]Entry, error) {
	lines, err := Read(path, maxLines)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		e := Parse(line)
		if e.Level != zerolog.NoLevel && e.Level < minLevel {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
