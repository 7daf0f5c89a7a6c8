package obslog

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"
)

func newTestLogger(slowAfter time.Duration) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := log.New(&buf, "", 0)
	return New(l, slowAfter), &buf
}

func TestScriptInvocationSuccess(t *testing.T) {
	o, buf := newTestLogger(0)
	o.ScriptInvocation(context.Background(), "entity_upsert", "posts", 5*time.Millisecond, nil)
	out := buf.String()
	if !strings.Contains(out, "op=entity_upsert") || !strings.Contains(out, "collection=posts") {
		t.Fatalf("unexpected log line: %q", out)
	}
	if strings.Contains(out, "error=") {
		t.Fatalf("expected no error field on success: %q", out)
	}
}

func TestScriptInvocationError(t *testing.T) {
	o, buf := newTestLogger(0)
	o.ScriptInvocation(context.Background(), "entity_patch", "posts", time.Millisecond, errors.New("boom"))
	out := buf.String()
	if !strings.Contains(out, `error="boom"`) {
		t.Fatalf("expected quoted error field, got %q", out)
	}
}

func TestScriptInvocationMarksSlow(t *testing.T) {
	o, buf := newTestLogger(10 * time.Millisecond)
	o.ScriptInvocation(context.Background(), "entity_delete", "posts", 50*time.Millisecond, nil)
	out := buf.String()
	if !strings.Contains(out, "slowscript") {
		t.Fatalf("expected slowscript marker, got %q", out)
	}
}

func TestScriptInvocationBelowThresholdIsNotSlow(t *testing.T) {
	o, buf := newTestLogger(100 * time.Millisecond)
	o.ScriptInvocation(context.Background(), "entity_delete", "posts", 5*time.Millisecond, nil)
	if strings.Contains(buf.String(), "slowscript") {
		t.Fatalf("did not expect slowscript marker, got %q", buf.String())
	}
}

func TestCascadeTraversal(t *testing.T) {
	o, buf := newTestLogger(0)
	o.CascadeTraversal(context.Background(), "authors", "abc123", 4, 2)
	out := buf.String()
	if !strings.Contains(out, "root=authors:abc123") || !strings.Contains(out, "visited=4") || !strings.Contains(out, "depth=2") {
		t.Fatalf("unexpected log line: %q", out)
	}
}

func TestSearchFailure(t *testing.T) {
	o, buf := newTestLogger(0)
	o.SearchFailure(context.Background(), "snugom:idx:posts", errors.New("bad query"))
	out := buf.String()
	if !strings.Contains(out, "index=snugom:idx:posts") || !strings.Contains(out, `error="bad query"`) {
		t.Fatalf("unexpected log line: %q", out)
	}
}

func TestNilLoggerDoesNotPanic(t *testing.T) {
	var o *Logger
	o.ScriptInvocation(context.Background(), "op", "coll", time.Millisecond, nil)
}
