package provision

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-logger/glog"
)

func TestGlogAdapterEmitsStructuredOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	base := glog.NewLogger(
		glog.WithWriter(buf),
		glog.WithLoggerTypeJSON(),
		glog.WithLevel("trace"),
	)
	logger := NewGlogAdapter(base)

	fielded := WithLoggerFields(logger, map[string]any{"command_id": "cmd-123"})
	fielded.Info("command accepted")

	logged := buf.String()
	if strings.TrimSpace(logged) == "" {
		t.Fatal("expected go-logger output")
	}
	if !strings.Contains(logged, "command_id") {
		t.Fatalf("expected structured correlation fields, got %s", logged)
	}
	if !strings.Contains(logged, "command accepted") {
		t.Fatalf("expected message in output, got %s", logged)
	}
}

func TestGlogAdapterNilFallsBackToFmtLogger(t *testing.T) {
	logger := NewGlogAdapter(nil)
	if _, ok := logger.(*FmtLogger); !ok {
		t.Fatalf("expected nil logger to normalize to FmtLogger fallback, got %T", logger)
	}
}

func TestNormalizeLoggerAndFields(t *testing.T) {
	if _, ok := NormalizeLogger(nil).(*FmtLogger); !ok {
		t.Fatal("nil logger should normalize to FmtLogger")
	}

	buf := &bytes.Buffer{}
	fl := NewFmtLogger(buf)
	withFields := WithLoggerFields(fl, map[string]any{"instance": "inst-1"})
	withFields.WithContext(context.Background()).Info("lock acquired at %s", time.Now().UTC().Format(time.RFC3339))

	if !strings.Contains(buf.String(), "instance=inst-1") {
		t.Fatalf("expected fields in fallback output, got %s", buf.String())
	}
}
