package llm

import (
	"context"
	"strings"
	"time"
)

func chooseModel(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return fallback
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// withTimeout bounds ctx by d when d is positive. The cause recorded on
// expiry is a TimeoutError for provider.
func withTimeout(ctx context.Context, provider string, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, d, &TimeoutError{Provider: provider, After: d})
}
