package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewTurnID(t *testing.T) {
	id1 := NewTurnID()
	id2 := NewTurnID()

	if id1 == "" {
		t.Error("NewTurnID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTurnID returned duplicate IDs")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithSessionID(ctx, "session-abc")
	ctx = WithTurnID(ctx, "turn-1")
	ctx = WithToolName(ctx, "word_count")

	if GetTraceID(ctx) != "trace-123" {
		t.Error("Trace ID not round-tripped")
	}
	if GetSessionID(ctx) != "session-abc" {
		t.Error("Session ID not round-tripped")
	}
	if GetTurnID(ctx) != "turn-1" {
		t.Error("Turn ID not round-tripped")
	}
	if GetToolName(ctx) != "word_count" {
		t.Error("Tool name not round-tripped")
	}
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("Expected empty trace ID")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Expected empty session ID")
	}
	if GetTurnID(ctx) != "" {
		t.Error("Expected empty turn ID")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "t")
	ctx = WithSessionID(ctx, "s")

	tc := FromContext(ctx)

	if tc.TraceID != "t" {
		t.Error("Trace ID not extracted")
	}
	if tc.SessionID != "s" {
		t.Error("Session ID not extracted")
	}
	if tc.TurnID != "" {
		t.Error("Unexpected turn ID")
	}
}

func TestNewContext(t *testing.T) {
	tc := &TraceContext{TraceID: "t", TurnID: "turn"}
	ctx := NewContext(context.Background(), tc)

	if GetTraceID(ctx) != "t" {
		t.Error("Trace ID not applied")
	}
	if GetTurnID(ctx) != "turn" {
		t.Error("Turn ID not applied")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Unexpected session ID")
	}
}

func TestNewTurnContext(t *testing.T) {
	ctx := NewTurnContext(context.Background(), "session-9")

	if GetTraceID(ctx) == "" {
		t.Error("Trace ID not generated")
	}
	if GetTurnID(ctx) == "" {
		t.Error("Turn ID not generated")
	}
	if GetSessionID(ctx) != "session-9" {
		t.Error("Session ID not set")
	}
}

func TestNewTurnContextKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "existing")
	ctx = NewTurnContext(ctx, "")

	if GetTraceID(ctx) != "existing" {
		t.Error("Existing trace ID should be kept")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Session ID should stay empty when not provided")
	}
}
