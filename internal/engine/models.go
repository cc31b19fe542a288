package engine

import (
	"strings"
	"time"
)

// Request is a routing request as posted by the client.
type Request struct {
	GeoState  string `json:"geoState"`
	Timestamp string `json:"timestamp"` // RFC 3339, UTC hour decides the hour rule
}

// Decision is the outcome of routing one request.
type Decision struct {
	Accepted bool
	URL      string // set when Accepted
	TargetID string // set when Accepted
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // no zone: UTC
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseTimestamp reads the request timestamp. Zone-less forms are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
