package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable marks a failed or timed out backend call. It is never a
// "not found": lookups that miss return ok=false with a nil error.
var ErrUnavailable = errors.New("store unavailable")

// ErrCorrupt marks a stored counter that holds neither a decimal integer
// nor a {"numAcceptedRequests": n} object.
var ErrCorrupt = errors.New("counter is not an integer")

// Gateway is a map of hash maps. Map and field names are opaque strings;
// values are stored verbatim.
type Gateway interface {
	FieldGet(ctx context.Context, mapName, field string) (value string, ok bool, err error)
	FieldGetAll(ctx context.Context, mapName string) (map[string]string, error)
	FieldSet(ctx context.Context, mapName, field, value string) error
	// FieldSetIfAbsent writes value only when field does not exist yet.
	FieldSetIfAbsent(ctx context.Context, mapName, field, value string) (created bool, err error)
	// IncrementWithCeiling atomically increments the integer held in field
	// (absent counts as 0) if it is below ceiling. It returns the resulting
	// count and whether the increment happened. ceiling <= 0 never writes.
	IncrementWithCeiling(ctx context.Context, mapName, field string, ceiling int64) (count int64, ok bool, err error)
	Ping(ctx context.Context) error
	Close() error
}

// Expirer is implemented by backends that can drop a whole map after ttl.
type Expirer interface {
	Expire(ctx context.Context, mapName string, ttl time.Duration) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// ParseCount reads a counter field. IncrementWithCeiling writes a decimal
// integer; stores filled by older deployments hold {"numAcceptedRequests": n},
// which is read the same way and rewritten as decimal on the next increment.
func ParseCount(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	var legacy struct {
		NumAcceptedRequests *int64 `json:"numAcceptedRequests"`
	}
	if err := json.Unmarshal([]byte(v), &legacy); err != nil || legacy.NumAcceptedRequests == nil {
		return 0, fmt.Errorf("%w: %q", ErrCorrupt, v)
	}
	return *legacy.NumAcceptedRequests, nil
}

type timeoutGateway struct {
	next Gateway
	d    time.Duration
}

// WithTimeout bounds every call to g by d. A call that exceeds it fails
// with ErrUnavailable.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return &timeoutGateway{next: g, d: d}
}

func (t *timeoutGateway) bound(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, ErrUnavailable) && isContextErr(err) {
			return unavailable(op, err)
		}
		return err
	case <-ctx.Done():
		return unavailable(op, ctx.Err())
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (t *timeoutGateway) FieldGet(ctx context.Context, mapName, field string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := t.bound(ctx, "field get", func(ctx context.Context) error {
		var e error
		value, ok, e = t.next.FieldGet(ctx, mapName, field)
		return e
	})
	if err != nil {
		return "", false, err
	}
	return value, ok, nil
}

func (t *timeoutGateway) FieldGetAll(ctx context.Context, mapName string) (map[string]string, error) {
	var fields map[string]string
	err := t.bound(ctx, "field get all", func(ctx context.Context) error {
		var e error
		fields, e = t.next.FieldGetAll(ctx, mapName)
		return e
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (t *timeoutGateway) FieldSet(ctx context.Context, mapName, field, value string) error {
	return t.bound(ctx, "field set", func(ctx context.Context) error {
		return t.next.FieldSet(ctx, mapName, field, value)
	})
}

func (t *timeoutGateway) FieldSetIfAbsent(ctx context.Context, mapName, field, value string) (bool, error) {
	var created bool
	err := t.bound(ctx, "field set if absent", func(ctx context.Context) error {
		var e error
		created, e = t.next.FieldSetIfAbsent(ctx, mapName, field, value)
		return e
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (t *timeoutGateway) IncrementWithCeiling(ctx context.Context, mapName, field string, ceiling int64) (int64, bool, error) {
	var (
		count int64
		ok    bool
	)
	err := t.bound(ctx, "increment", func(ctx context.Context) error {
		var e error
		count, ok, e = t.next.IncrementWithCeiling(ctx, mapName, field, ceiling)
		return e
	})
	if err != nil {
		return 0, false, err
	}
	return count, ok, nil
}

func (t *timeoutGateway) Expire(ctx context.Context, mapName string, ttl time.Duration) error {
	ex, ok := t.next.(Expirer)
	if !ok {
		return nil
	}
	return t.bound(ctx, "expire", func(ctx context.Context) error {
		return ex.Expire(ctx, mapName, ttl)
	})
}

func (t *timeoutGateway) Ping(ctx context.Context) error {
	return t.bound(ctx, "ping", t.next.Ping)
}

func (t *timeoutGateway) Close() error { return t.next.Close() }
