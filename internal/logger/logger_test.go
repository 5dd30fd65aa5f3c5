package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	Info("message accepted", "message_id", "abc", "recipients", 2)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if line["msg"] != "message accepted" {
		t.Errorf("expected msg 'message accepted', got %v", line["msg"])
	}
	if line["message_id"] != "abc" {
		t.Errorf("expected message_id 'abc', got %v", line["message_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "json")

	Debug("should not appear")
	Info("should not appear either")
	Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("filtered levels leaked into output: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn line missing from output: %s", out)
	}
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	ctx := WithContext(context.Background(), &LogContext{
		RequestID: "req-42",
		Method:    "POST",
		Path:      "/api/messages/send",
	})
	InfoCtx(ctx, "request completed", "status", 200)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if line[KeyRequestID] != "req-42" {
		t.Errorf("expected request_id 'req-42', got %v", line[KeyRequestID])
	}
	if line[KeyPath] != "/api/messages/send" {
		t.Errorf("expected path field, got %v", line[KeyPath])
	}
}

func TestContextFieldsAbsent(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	InfoCtx(context.Background(), "no log context")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if _, ok := line[KeyRequestID]; ok {
		t.Error("request_id should be absent without a LogContext")
	}
}
