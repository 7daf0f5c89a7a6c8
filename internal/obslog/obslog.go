// Package obslog logs script invocations, cascade traversals, and search
// queries as single-line, key=value structured records, matching the
// stdlib-log style the rest of the runtime uses instead of reaching for a
// third-party structured-logging library.
package obslog

import (
	"context"
	"log"
	"time"
)

// DefaultSlowScriptThreshold is the latency at or above which a successful
// ScriptInvocation line carries the "slowscript" marker, mirroring the
// teacher's own slow-query default.
const DefaultSlowScriptThreshold = 100 * time.Millisecond

// Logger wraps a *log.Logger with the structured helpers the runtime calls
// at its script/cascade/search boundaries. The zero value logs to the
// standard library's default logger.
type Logger struct {
	l         *log.Logger
	slowAfter time.Duration
}

// New wraps l (or log.Default() if nil) with the given slow-script
// threshold (or DefaultSlowScriptThreshold if zero/negative).
func New(l *log.Logger, slowAfter time.Duration) *Logger {
	if l == nil {
		l = log.Default()
	}
	if slowAfter <= 0 {
		slowAfter = DefaultSlowScriptThreshold
	}
	return &Logger{l: l, slowAfter: slowAfter}
}

// ScriptInvocation logs one atomic-script call: its operation name, the
// collection it ran against, how long it took, and its error if any.
// Successful calls at or above the configured threshold log with a
// "slowscript" marker; failed calls log their error without it.
func (o *Logger) ScriptInvocation(ctx context.Context, op, collection string, latency time.Duration, err error) {
	l := o.logger()
	switch {
	case err != nil:
		l.Printf("script: op=%s collection=%s latency_ms=%d error=%q", op, collection, latency.Milliseconds(), err.Error())
	case latency >= o.slowAfterOrDefault():
		l.Printf("script: slowscript op=%s collection=%s latency_ms=%d", op, collection, latency.Milliseconds())
	default:
		l.Printf("script: op=%s collection=%s latency_ms=%d", op, collection, latency.Milliseconds())
	}
}

// CascadeTraversal logs one cascade-delete walk: its root entity, how many
// entities it visited, and the deepest recursion level it reached.
func (o *Logger) CascadeTraversal(ctx context.Context, rootCollection, rootID string, visited, depth int) {
	o.logger().Printf("cascade: root=%s:%s visited=%d depth=%d", rootCollection, rootID, visited, depth)
}

// SearchFailure logs a search-translation or backend failure for a query
// against the named index.
func (o *Logger) SearchFailure(ctx context.Context, indexName string, err error) {
	o.logger().Printf("search: index=%s error=%q", indexName, err.Error())
}

func (o *Logger) logger() *log.Logger {
	if o == nil || o.l == nil {
		return log.Default()
	}
	return o.l
}

func (o *Logger) slowAfterOrDefault() time.Duration {
	if o == nil || o.slowAfter <= 0 {
		return DefaultSlowScriptThreshold
	}
	return o.slowAfter
}
