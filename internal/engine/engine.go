package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"ad-traffic-router/internal/quota"
	"ad-traffic-router/internal/targets"

	"github.com/rs/zerolog"
)

// ErrNoTargets means nothing is registered; it is not a routing decision.
var ErrNoTargets = errors.New("no targets configured")

type TargetSource interface {
	GetAll(ctx context.Context) ([]targets.Target, error)
}

type QuotaTracker interface {
	TryAccept(ctx context.Context, targetID string, maxAcceptsPerDay int64, at time.Time) (bool, error)
}

// quotaCounter is implemented by trackers that can report a day's count.
type quotaCounter interface {
	Count(ctx context.Context, targetID string, at time.Time) (quota.DailyRequestCount, error)
}

// RoutingEngine picks the target that receives a request. It holds no
// state; targets and counters are read from the store on every call.
type RoutingEngine struct {
	targets TargetSource
	quota   QuotaTracker
}

func NewEngine(src TargetSource, quota QuotaTracker) *RoutingEngine {
	return &RoutingEngine{targets: src, quota: quota}
}

// Route loads every registered target and selects among them.
func (e *RoutingEngine) Route(ctx context.Context, req Request) (Decision, error) {
	all, err := e.targets.GetAll(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load targets: %w", err)
	}
	return e.Select(ctx, all, req)
}

// Select filters ts by geo state and hour, orders the rest by daily cap
// (largest first, ties keep their order) and accepts on the first target
// that still has quota for the request's day.
func (e *RoutingEngine) Select(ctx context.Context, ts []targets.Target, req Request) (Decision, error) {
	if len(ts) == 0 {
		return Decision{}, ErrNoTargets
	}
	logger := zerolog.Ctx(ctx)

	geo := strings.TrimSpace(req.GeoState)
	stamp := strings.TrimSpace(req.Timestamp)
	if stamp == "" {
		logger.Debug().Msg("no timestamp; reject")
		return Decision{}, nil
	}
	at, ok := ParseTimestamp(stamp)
	if !ok {
		logger.Debug().Str("timestamp", stamp).Msg("unparsable timestamp; reject")
		return Decision{}, nil
	}

	cand := eligible(ts, geo, at.Hour())
	logger.Debug().Int("targets", len(ts)).Int("eligible", len(cand)).Str("geo", geo).Int("hour", at.Hour()).Msg("filtered")
	if len(cand) == 0 {
		return Decision{}, nil
	}

	slices.SortStableFunc(cand, func(a, b targets.Target) int {
		return cmp.Compare(b.MaxAcceptsPerDay, a.MaxAcceptsPerDay)
	})

	for _, t := range cand {
		accepted, err := e.quota.TryAccept(ctx, t.ID, t.MaxAcceptsPerDay, at)
		if err != nil {
			return Decision{}, err
		}
		if accepted {
			logger.Debug().Str("target", t.ID).Msg("accepted")
			return Decision{Accepted: true, URL: t.URL, TargetID: t.ID}, nil
		}
		e.logFull(ctx, t, at)
	}
	return Decision{}, nil
}

// logFull reports a candidate whose cap is used up, with its stored count.
// The extra store read only happens when debug logging is on.
func (e *RoutingEngine) logFull(ctx context.Context, t targets.Target, at time.Time) {
	logger := zerolog.Ctx(ctx)
	c, ok := e.quota.(quotaCounter)
	if !ok || logger.GetLevel() > zerolog.DebugLevel || zerolog.GlobalLevel() > zerolog.DebugLevel {
		return
	}
	ev := logger.Debug().Str("target", t.ID).Int64("max", t.MaxAcceptsPerDay)
	if n, err := c.Count(ctx, t.ID, at); err != nil {
		ev = ev.AnErr("count_err", err)
	} else {
		ev = ev.Int64("count", n.NumAcceptedRequests)
	}
	ev.Msg("candidate full")
}

// eligible keeps the targets accepting geo (any, when empty) and hour.
// The input slice is not modified.
func eligible(ts []targets.Target, geo string, hour int) []targets.Target {
	h := strconv.Itoa(hour)
	out := make([]targets.Target, 0, len(ts))
	for _, t := range ts {
		if geo != "" && !t.Accept.GeoState.Contains(geo) {
			continue
		}
		if !t.Accept.Hour.Contains(h) {
			continue
		}
		out = append(out, t)
	}
	return out
}
