package targets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"ad-traffic-router/internal/storage"
)

// MapName is the store map holding every target, keyed by id.
const MapName = "targets"

var (
	ErrValidation    = errors.New("invalid target")
	ErrNotFound      = errors.New("target not found")
	ErrAlreadyExists = errors.New("target already exists")
	ErrCorrupt       = errors.New("stored target is not valid JSON")
)

// Registry is CRUD over targets. It keeps no copy of its own; every call
// goes to the store.
type Registry struct {
	store storage.Gateway
}

func NewRegistry(store storage.Gateway) *Registry {
	return &Registry{store: store}
}

// Create stores t under its id. An id that is already registered is left
// untouched and reported as ErrAlreadyExists.
func (r *Registry) Create(ctx context.Context, t Target) error {
	if err := validate(t); err != nil {
		return err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode target %s: %w", t.ID, err)
	}
	created, err := r.store.FieldSetIfAbsent(ctx, MapName, t.ID, string(raw))
	if err != nil {
		return fmt.Errorf("create target %s: %w", t.ID, err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, t.ID)
	}
	return nil
}

// GetAll returns every target ordered by id. No targets is an empty slice.
func (r *Registry) GetAll(ctx context.Context) ([]Target, error) {
	m, err := r.store.FieldGetAll(ctx, MapName)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]Target, 0, len(m))
	for id, raw := range m {
		t, err := decode(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Target) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *Registry) GetByID(ctx context.Context, id string) (Target, error) {
	if strings.TrimSpace(id) == "" {
		return Target{}, fmt.Errorf("%w: id required", ErrValidation)
	}
	raw, ok, err := r.store.FieldGet(ctx, MapName, id)
	if err != nil {
		return Target{}, fmt.Errorf("get target %s: %w", id, err)
	}
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decode(id, raw)
}

// UpdateByID merges p over the stored target and writes the result back.
// A missing id is ErrNotFound and nothing is written.
func (r *Registry) UpdateByID(ctx context.Context, id string, p Patch) (Target, error) {
	if p.ID != nil && *p.ID != "" && *p.ID != id {
		return Target{}, fmt.Errorf("%w: id is immutable (%s != %s)", ErrValidation, *p.ID, id)
	}
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return Target{}, err
	}
	p.ID = nil
	next := Merge(cur, p)
	if err := validate(next); err != nil {
		return Target{}, err
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return Target{}, fmt.Errorf("encode target %s: %w", id, err)
	}
	if err := r.store.FieldSet(ctx, MapName, id, string(raw)); err != nil {
		return Target{}, fmt.Errorf("update target %s: %w", id, err)
	}
	return next, nil
}

func validate(t Target) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id required", ErrValidation)
	}
	if t.MaxAcceptsPerDay < 0 {
		return fmt.Errorf("%w: maxAcceptsPerDay must be >= 0", ErrValidation)
	}
	return nil
}

func decode(id, raw string) (Target, error) {
	t, err := Parse([]byte(raw))
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, id, err)
	}
	return t, nil
}
