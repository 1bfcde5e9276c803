package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("debug", "json", &buf)

	log.WithField("broker", "b1").WithError(errors.New("boom")).Warnf("peer %s unreachable", "b2")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "peer b2 unreachable" {
		t.Errorf("Unexpected msg %v", entry["msg"])
	}
	if entry["broker"] != "b1" {
		t.Errorf("Expected broker field, got %v", entry["broker"])
	}
	if entry["error"] != "boom" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
	if entry["level"] != "warning" {
		t.Errorf("Expected warning level, got %v", entry["level"])
	}
}

func TestNewWithOutput_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("warn", "text", &buf)

	log.Info("hidden")
	log.Error("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("Info should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Error should be written at warn level")
	}
}

func TestNewWithOutput_UnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("chatty", "text", &buf)

	log.Debug("hidden")
	log.Info("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("Unknown level should fall back to info")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Info should be written")
	}
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	SetDefault(NewNop())
	if _, ok := Default().(Nop); !ok {
		t.Error("Expected Nop default logger")
	}

	SetDefault(nil)
	if _, ok := Default().(Nop); !ok {
		t.Error("SetDefault(nil) should be ignored")
	}
}
