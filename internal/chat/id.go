package chat

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewID generates a chat ID using a timestamp prefix and random suffix.
// Format: YYYYMMDD-HHMMSS-RANDOM (e.g., "20240115-143052-a1b2c3").
// IDs sort chronologically.
func NewID() string {
	return newIDAt(time.Now())
}

func newIDAt(now time.Time) string {
	random := make([]byte, 3)
	rand.Read(random)
	return fmt.Sprintf("%s-%s",
		now.Format("20060102-150405"),
		hex.EncodeToString(random),
	)
}

// ParseIDTime extracts the timestamp from a chat ID.
// Returns zero time if parsing fails.
func ParseIDTime(id string) time.Time {
	if len(id) < 15 {
		return time.Time{}
	}
	t, _ := time.ParseInLocation("20060102-150405", id[:15], time.Local)
	return t
}

// ShortID returns a shortened version of the chat ID for display.
// Example: "20240115-143052-a1b2c3" -> "240115-1430"
func ShortID(id string) string {
	if len(id) < 15 {
		return id
	}
	return id[2:8] + "-" + id[9:13]
}
