package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	log := New()
	if log == nil {
		t.Fatal("New() returned nil logger")
	}
	if log.level != INFO {
		t.Errorf("expected default level INFO, got %v", log.level)
	}
}

func TestNewWithConfig(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	log := NewWithConfig(Config{Level: DEBUG, Output: buf, Format: "text"})

	if log.level != DEBUG {
		t.Errorf("expected level DEBUG, got %v", log.level)
	}

	log.Info("test message")
	if !strings.Contains(buf.String(), "test message") {
		t.Error("log output doesn't contain message")
	}
}

func TestWithField(t *testing.T) {
	log := New()
	child := log.WithField("component", "jobmanager")

	if len(child.fields) != 1 || child.fields["component"] != "jobmanager" {
		t.Errorf("unexpected fields: %v", child.fields)
	}
	if len(log.fields) != 0 {
		t.Error("original logger was modified")
	}
}

func TestWithFields(t *testing.T) {
	log := New().WithFields("jobID", "abc", "attempt", 2)
	if len(log.fields) != 2 {
		t.Errorf("expected 2 fields, got %d", len(log.fields))
	}
}

func TestLevelGating(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	log := NewWithConfig(Config{Level: WARN, Output: buf})

	log.Debug("should be suppressed")
	log.Info("should also be suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected no output below WARN, got %q", buf.String())
	}

	log.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Error("expected WARN line to be emitted")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug": DEBUG, "DEBUG": DEBUG,
		"info": INFO, "WARN": WARN, "warning": WARN,
		"ERROR": ERROR,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}

	if _, err := ParseLevel("nonsense"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestFormatValueQuotesSpaces(t *testing.T) {
	if got := formatValue("has space"); got != `"has space"` {
		t.Errorf("formatValue(\"has space\") = %s", got)
	}
	if got := formatValue("nospace"); got != "nospace" {
		t.Errorf("formatValue(\"nospace\") = %s", got)
	}
}
