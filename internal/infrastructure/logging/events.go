package logging

import (
	"context"
	"time"
)

// LogCacheHit logs a response served from the cache.
func LogCacheHit(ctx context.Context, logger *Logger, class, url string) {
	logger.DebugContext(ctx, "cache hit", "class", class, "url", url)
}

// LogCacheMiss logs a cache miss on the fallback path.
func LogCacheMiss(ctx context.Context, logger *Logger, class, url string) {
	logger.DebugContext(ctx, "cache miss", "class", class, "url", url)
}

// LogFallbackServed logs a synthesized offline response.
func LogFallbackServed(ctx context.Context, logger *Logger, method, url string, cause error) {
	logger.WarnContext(ctx, "offline fallback served",
		"method", method,
		"url", url,
		"error", errString(cause),
	)
}

// LogRequestQueued logs a mutation deferred for later delivery.
func LogRequestQueued(ctx context.Context, logger *Logger, id, method, url string) {
	logger.InfoContext(ctx, "request queued",
		"queued_id", id,
		"method", method,
		"url", url,
	)
}

func LogRedeliveryFailed(ctx context.Context, logger *Logger, kind, id string, attempts int, err error) {
	logger.WarnContext(ctx, "redelivery failed",
		"kind", kind,
		"queued_id", id,
		"attempts", attempts,
		"error", errString(err),
	)
}

// LogDeadLettered logs an item that will not be retried again.
func LogDeadLettered(ctx context.Context, logger *Logger, kind, id string, attempts int) {
	logger.ErrorContext(ctx, "item moved to dead-letter list",
		"kind", kind,
		"queued_id", id,
		"attempts", attempts,
	)
}

func LogDrainComplete(ctx context.Context, logger *Logger, delivered, failed, deadLettered int, duration time.Duration) {
	logger.InfoContext(ctx, "drain completed",
		"delivered", delivered,
		"failed", failed,
		"dead_lettered", deadLettered,
		"duration_ms", duration.Milliseconds(),
	)
}

func LogConnectivityChanged(ctx context.Context, logger *Logger, online bool) {
	logger.InfoContext(ctx, "connectivity changed", "online", online)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
