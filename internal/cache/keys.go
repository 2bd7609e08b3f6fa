package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// StatsKey is the fingerprint for the plot statistics aggregate,
// partitioned by location ("all" when unscoped).
func StatsKey(locationID string) string {
	if locationID == "" {
		locationID = "all"
	}
	return "geo_stats:" + locationID
}

// TaskKey is the fingerprint for shapefile task metadata kept for the
// retention window (submitter identity, staging directory).
func TaskKey(taskID string) string {
	return "shapefile_task:" + taskID
}

// QueryKey fingerprints arbitrary query parameters into a stable key.
func QueryKey(kind string, params ...interface{}) string {
	h := sha256.New()
	for _, p := range params {
		fmt.Fprintf(h, "%v|", p)
	}
	return kind + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}
