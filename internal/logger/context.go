package logger

import "context"

// Field keys for request-scoped log context.
const (
	KeyRequestID = "request_id"
	KeyPath      = "path"
	KeyMethod    = "method"
	KeyCaller    = "caller_did"
)

// LogContext carries request-scoped fields that the *Ctx logging functions
// inject into every line. Handlers populate it once per request; everything
// downstream inherits it through the context.
type LogContext struct {
	RequestID string
	Path      string
	Method    string
	CallerDID string
}

type contextKey struct{}

// WithContext attaches a LogContext to ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext attached to ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// appendContextFields prepends LogContext fields so they appear first in output.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	ctxArgs := make([]any, 0, 8+len(args))
	if lc.RequestID != "" {
		ctxArgs = append(ctxArgs, KeyRequestID, lc.RequestID)
	}
	if lc.Method != "" {
		ctxArgs = append(ctxArgs, KeyMethod, lc.Method)
	}
	if lc.Path != "" {
		ctxArgs = append(ctxArgs, KeyPath, lc.Path)
	}
	if lc.CallerDID != "" {
		ctxArgs = append(ctxArgs, KeyCaller, lc.CallerDID)
	}
	return append(ctxArgs, args...)
}
