package logtail

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRead(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	var content strings.Builder
	var expectedAll []string
	for i := 1; i <= 10; i++ {
		line := fmt.Sprintf("Line %d", i)
		content.WriteString(line + "\n")
		expectedAll = append(expectedAll, line)
	}

	if err := os.WriteFile(logPath, []byte(content.String()), 0644); err != nil {
		t.Fatalf("failed to create test log file: %v", err)
	}

	tests := []struct {
		name     string
		maxLines int
		expected []string
	}{
		{name: "zero", maxLines: 0, expected: nil},
		{name: "negative", maxLines: -1, expected: nil},
		{name: "read partial (5)", maxLines: 5, expected: expectedAll[5:]},
		{name: "read exactly all (10)", maxLines: 10, expected: expectedAll},
		{name: "read more than exists (20)", maxLines: 20, expected: expectedAll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Read(logPath, tt.maxLines)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Read() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRead_MissingFile(t *testing.T) {
	got, err := Read(filepath.Join(t.TempDir(), "absent.log"), 5)
	if err != nil || got != nil {
		t.Fatalf("Read() = %v, %v, want nil, nil", got, err)
	}
}

func TestParse(t *testing.T) {
	line := `{"level":"warn","component":"httpconn","query":"tasks:list","failures":2,"error":"boom","time":"2026-10-19T10:00:00Z","message":"poll failed"}`
	got := Parse(line)

	if got.Level != zerolog.WarnLevel {
		t.Fatalf("Level = %v, want warn", got.Level)
	}
	if want := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC); !got.Time.Equal(want) {
		t.Fatalf("Time = %v, want %v", got.Time, want)
	}
	if got.Component != "httpconn" || got.Message != "poll failed" || got.Err != "boom" {
		t.Fatalf("entry = %+v", got)
	}
	wantFields := map[string]string{"query": "tasks:list", "failures": "2"}
	if !reflect.DeepEqual(got.Fields, wantFields) {
		t.Fatalf("Fields = %v, want %v", got.Fields, wantFields)
	}
	if got.Raw != line {
		t.Fatalf("Raw = %q, want original line", got.Raw)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "plain text",
			line: "  starting up  ",
			want: "starting up",
		},
		{
			name: "broken json",
			line: `{"level":`,
			want: `{"level":`,
		},
		{
			name: "structured",
			line: `{"level":"warn","component":"httpconn","query":"tasks:list","failures":2,"error":"boom","time":"2026-10-19T10:00:00Z","message":"poll failed"}`,
			want: "10:00:00 WARN [httpconn] poll failed failures=2 query=tasks:list error=boom",
		},
		{
			name: "no time or component",
			line: `{"level":"info","message":"ready"}`,
			want: "INFO ready",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(Parse(tt.line)); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTail_FiltersByLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tether.log")
	content := strings.Join([]string{
		`{"level":"debug","message":"noise"}`,
		`{"level":"info","message":"ready"}`,
		``,
		`plain line`,
		`{"level":"error","message":"failed"}`,
	}, "\n")
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, err := Tail(logPath, 10, zerolog.InfoLevel)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Message)
	}
	if want := []string{"ready", "plain line", "failed"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
}
