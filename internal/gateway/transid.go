package gateway

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// DefaultPrefix tags transaction ids created for auction payments.
const DefaultPrefix = "AUCTION"

// DefaultTransIDTimeout is how long an app_trans_id stays usable.
const DefaultTransIDTimeout = 15 * time.Minute

// TransID is a parsed app_trans_id: {appId}_{prefix}_{timestampMs}_{random}.
// The prefix may itself contain underscores.
type TransID struct {
	AppID     string
	Prefix    string
	Timestamp int64
	Random    string
}

// Time returns the creation time encoded in the id.
func (t TransID) Time() time.Time { return time.UnixMilli(t.Timestamp) }

// GenerateAppTransID returns a new id for appID using the wall clock.
func GenerateAppTransID(appID, prefix string) string {
	return FormatAppTransID(appID, prefix, time.Now(), rand.IntN(1_000_000))
}

// FormatAppTransID renders an id with a six digit zero-padded random suffix.
func FormatAppTransID(appID, prefix string, at time.Time, random int) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s_%s_%d_%06d", appID, prefix, at.UnixMilli(), random)
}

// ValidateAppTransID checks the id shape and reports the problem if any.
func ValidateAppTransID(id string) (bool, string) {
	if id == "" {
		return false, "App transaction ID is required"
	}
	parts := strings.Split(id, "_")
	if len(parts) < 4 {
		return false, "Invalid app transaction ID format"
	}
	ts, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil || ts <= 0 {
		return false, "Invalid timestamp in app transaction ID"
	}
	return true, ""
}

// ParseAppTransID splits a valid id into its components.
func ParseAppTransID(id string) (TransID, bool) {
	if ok, _ := ValidateAppTransID(id); !ok {
		return TransID{}, false
	}
	parts := strings.Split(id, "_")
	n := len(parts)
	ts, _ := strconv.ParseInt(parts[n-2], 10, 64)
	return TransID{
		AppID:     parts[0],
		Prefix:    strings.Join(parts[1:n-2], "_"),
		Timestamp: ts,
		Random:    parts[n-1],
	}, true
}

// ExtractTimestamp returns the millisecond timestamp embedded in id.
func ExtractTimestamp(id string) (int64, bool) {
	t, ok := ParseAppTransID(id)
	return t.Timestamp, ok
}

// IsAppTransIDExpired reports whether id is older than timeout at now.
// Malformed ids count as expired. A zero timeout means DefaultTransIDTimeout.
func IsAppTransIDExpired(id string, timeout time.Duration, now time.Time) bool {
	ts, ok := ExtractTimestamp(id)
	if !ok {
		return true
	}
	if timeout <= 0 {
		timeout = DefaultTransIDTimeout
	}
	return now.Sub(time.UnixMilli(ts)) > timeout
}
