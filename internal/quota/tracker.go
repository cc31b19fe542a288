package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ad-traffic-router/internal/observability"
	"ad-traffic-router/internal/storage"

	"github.com/rs/zerolog/log"
)

// MapPrefix prefixes the per-day counter map: requestCount-<day key>.
const MapPrefix = "requestCount-"

// DailyRequestCount is the accept counter of one target on one UTC day.
type DailyRequestCount struct {
	NumAcceptedRequests int64 `json:"numAcceptedRequests"`
}

type Tracker struct {
	store     storage.Gateway
	legacyKey bool
	ttl       time.Duration
}

type Option func(*Tracker)

// WithLegacyDayKey renders day keys unpadded (2024-1-2), the format used
// by stores written before zero padding.
func WithLegacyDayKey(legacy bool) Option {
	return func(t *Tracker) { t.legacyKey = legacy }
}

// WithCounterTTL expires a day's counter map ttl after its first accept,
// when the store supports it.
func WithCounterTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.ttl = ttl }
}

func NewTracker(store storage.Gateway, opts ...Option) *Tracker {
	t := &Tracker{store: store}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DayKey renders the UTC calendar day of at.
func (t *Tracker) DayKey(at time.Time) string {
	at = at.UTC()
	if t.legacyKey {
		return strconv.Itoa(at.Year()) + "-" + strconv.Itoa(int(at.Month())) + "-" + strconv.Itoa(at.Day())
	}
	return at.Format("2006-01-02")
}

func (t *Tracker) mapName(at time.Time) string { return MapPrefix + t.DayKey(at) }

// TryAccept counts one accepted request for targetID on the day of at if
// the target is still below maxAcceptsPerDay. A false result with a nil
// error is a quota rejection; store failures come back as errors.
func (t *Tracker) TryAccept(ctx context.Context, targetID string, maxAcceptsPerDay int64, at time.Time) (bool, error) {
	m := t.mapName(at)
	n, ok, err := t.store.IncrementWithCeiling(ctx, m, targetID, maxAcceptsPerDay)
	if err != nil {
		return false, fmt.Errorf("count accept for %s on %s: %w", targetID, m, err)
	}
	if !ok {
		observability.QuotaRejections.Inc()
		log.Debug().Str("target", targetID).Str("map", m).Int64("count", n).Int64("max", maxAcceptsPerDay).Msg("daily quota reached")
		return false, nil
	}
	if t.ttl > 0 && n == 1 {
		if ex, can := t.store.(storage.Expirer); can {
			if err := ex.Expire(ctx, m, t.ttl); err != nil {
				log.Warn().Err(err).Str("map", m).Msg("set counter ttl")
			}
		}
	}
	return true, nil
}

// Count reads the accept counter of targetID on the day of at.
func (t *Tracker) Count(ctx context.Context, targetID string, at time.Time) (DailyRequestCount, error) {
	m := t.mapName(at)
	raw, ok, err := t.store.FieldGet(ctx, m, targetID)
	if err != nil {
		return DailyRequestCount{}, fmt.Errorf("read count for %s on %s: %w", targetID, m, err)
	}
	if !ok {
		return DailyRequestCount{}, nil
	}
	n, err := storage.ParseCount(raw)
	if err != nil {
		return DailyRequestCount{}, fmt.Errorf("count for %s on %s: %w", targetID, m, err)
	}
	return DailyRequestCount{NumAcceptedRequests: n}, nil
}
