package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr []string
	}{
		{
			name:   "default",
			config: *DefaultConfig(),
		},
		{
			name:    "file output without path",
			config:  Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput},
			wantErr: []string{"log file path is required"},
		},
		{
			name:    "every field invalid",
			config:  Config{Level: "loud", Format: "xml", Output: "syslog"},
			wantErr: []string{"invalid log level", "invalid log format", "invalid log output"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error but got none")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("expected %q in %v", want, err)
				}
			}
		})
	}
}

func TestFieldsSurviveDerivation(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&Config{Level: DebugLevel, Format: JSONFormat, Output: StderrOutput}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.WithComponent("parser").WithField("table", "tradebook").WithError(errors.New("boom")).Warn("Row skipped")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	want := map[string]string{"component": "parser", "table": "tradebook", "error": "boom", "msg": "Row skipped", "level": "warning"}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("field %s = %v, want %s", k, line[k], v)
		}
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	root, err := NewWithWriter(&Config{Level: ErrorLevel, Format: TextFormat, Output: StderrOutput, DisableTimestamp: true}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child := root.WithComponent("server")

	child.Info("hidden")
	if err := SetLevel(root, InfoLevel); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child.Info("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("level change not shared with derived logger:\n%s", buf.String())
	}
	if err := SetLevel(root, "trace"); err == nil {
		t.Error("expected error for unsupported level")
	}
}

func TestOrGlobal(t *testing.T) {
	previous := GetGlobalLogger()
	defer SetGlobalLogger(previous)

	var buf bytes.Buffer
	custom, _ := NewWithWriter(nil, &buf)
	SetGlobalLogger(custom)

	if OrGlobal(nil) != custom {
		t.Error("nil should resolve to the global logger")
	}
	other, _ := NewWithWriter(nil, &buf)
	if OrGlobal(other) != other {
		t.Error("a non-nil logger should be returned unchanged")
	}
}

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewWithWriter(&Config{Level: InfoLevel, Format: TextFormat, Output: StderrOutput, DisableTimestamp: true}, &buf)

	p := NewProgressTracker(ProgressConfig{Operation: "insert", Total: 10, LogInterval: time.Nanosecond, Logger: log})
	time.Sleep(time.Millisecond)
	p.Add(4)
	p.Add(6)
	p.Complete()

	if p.Done() != 10 {
		t.Errorf("expected 10 done, got %d", p.Done())
	}
	out := buf.String()
	for _, want := range []string{"Progress update", "operation=insert", "Operation completed", "processed=10"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestOperationLoggerWarning(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewWithWriter(&Config{Level: InfoLevel, Format: TextFormat, Output: StderrOutput, DisableTimestamp: true}, &buf)

	NewOperationLogger("consolidate", log).WithField("holding_failures", 2).Warning("Some rows were left out")

	out := buf.String()
	for _, want := range []string{"level=warning", "operation=consolidate", "holding_failures=2", "duration="} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewWithWriter(&Config{Level: InfoLevel, Format: TextFormat, Output: StderrOutput, DisableTimestamp: true}, &buf)

	if err := TimedOperation("delete", log, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failure := errors.New("locked")
	if err := TimedOperation("delete", log, func() error { return failure }); err != failure {
		t.Fatalf("expected the callback error, got %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "status=success") || !strings.Contains(out, "status=error") {
		t.Errorf("expected both outcomes logged:\n%s", out)
	}
}
