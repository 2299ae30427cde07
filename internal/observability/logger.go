package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type ctxKey string

const ctxKeyCorrelationID ctxKey = "correlation_id"

// JSON to stdout; replaced in tests through SetOutput.
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

func Logger() *slog.Logger {
	return logger
}

// SetOutput redirects the process logger to w.
func SetOutput(w io.Writer) {
	logger = slog.New(slog.NewJSONHandler(w, nil))
}

// WithCorrelationID stores the request correlation id in ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationID returns the id stored by WithCorrelationID, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}

// LoggerFromContext adds correlation_id if present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	id := CorrelationID(ctx)
	if id == "" {
		return logger
	}
	return logger.With("correlation_id", id)
}
