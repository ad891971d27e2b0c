package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/kbpublish/internal/model"
)

func TestNew_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(model.LogConfig{Level: "debug", Format: "json"}, &buf)

	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", logger.GetLevel())
	}

	logger.WithField("component", "test").Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line["component"] != "test" || line["msg"] != "hello" {
		t.Errorf("unexpected fields: %v", line)
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger := NewWithOutput(model.LogConfig{Level: "chatty"}, &bytes.Buffer{})
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected info level, got %s", logger.GetLevel())
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Error("expected non-nil logger")
	}
}
