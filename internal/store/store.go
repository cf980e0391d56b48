package store

import (
	"strings"
	"time"
)

type TransferInfo struct {
	Key              string // full key including any prefix
	BytesTransferred int64
	TransferSpeed    float64 // in MB/s
	Duration         time.Duration
}

// calculateTransferSpeedMBps calculates transfer speed in MB/s (decimal megabytes)
// using the formula: bytes / duration_in_seconds / 1,000,000
func calculateTransferSpeedMBps(bytes int64, duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}
	return float64(bytes) / duration.Seconds() / 1000 / 1000
}

func normalizePrefix(prefix string) string {
	// Remove leading slash if present
	prefix = strings.TrimPrefix(prefix, "/")
	// Add trailing slash if not empty and doesn't have one
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// FullKey prepends the normalized prefix to key the same way the stores do,
// so callers can name the uploaded blob without a round trip. The key is kept
// verbatim: blob names are opaque and "a//b.zip" differs from "a/b.zip".
func FullKey(prefix, key string) string {
	return normalizePrefix(prefix) + key
}
