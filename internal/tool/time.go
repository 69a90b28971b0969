package tool

import (
	"context"
	"time"
)

// The tool takes no meaningful arguments; anything object-shaped passes.
const currentTimeSchema = `{"type": "object"}`

// GetCurrentTime returns the built-in clock tool. The now function is
// injectable for tests; pass nil for the real clock.
func GetCurrentTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return Tool{
		Name:        "get_current_time",
		Description: "Useful for finding the current time.",
		Schema:      MustCompileSchema("get_current_time", currentTimeSchema),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return now().Format("Mon, 02 Jan 2006 15:04:05 MST"), nil
		},
	}
}
