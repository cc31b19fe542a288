package targets

import (
	"context"
	"errors"
	"testing"

	"ad-traffic-router/internal/storage"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTarget(id string) Target {
	return Target{
		ID:               id,
		URL:              "http://example.com",
		MaxAcceptsPerDay: 10,
		Accept: Criteria{
			GeoState: SetRule{In: []string{"ny"}},
			Hour:     SetRule{In: []string{"10"}},
		},
	}
}

// brokenGateway fails every call the way a dead backend would.
type brokenGateway struct{ *storage.MemoryGateway }

var errDown = errors.New("connection refused")

func (brokenGateway) FieldGet(context.Context, string, string) (string, bool, error) {
	return "", false, errors.Join(storage.ErrUnavailable, errDown)
}
func (brokenGateway) FieldGetAll(context.Context, string) (map[string]string, error) {
	return nil, errors.Join(storage.ErrUnavailable, errDown)
}
func (brokenGateway) FieldSetIfAbsent(context.Context, string, string, string) (bool, error) {
	return false, errors.Join(storage.ErrUnavailable, errDown)
}

func TestRegistry_CreateThenGet(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(storage.NewMemoryGateway())

	want := sampleTarget("1")
	require.NoError(t, reg.Create(ctx, want))

	got, err := reg.GetByID(ctx, "1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("GetByID() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_CreateRequiresID(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryGateway()
	reg := NewRegistry(store)

	for _, id := range []string{"", "   "} {
		err := reg.Create(ctx, sampleTarget(id))
		assert.ErrorIs(t, err, ErrValidation)
	}

	m, err := store.FieldGetAll(ctx, MapName)
	require.NoError(t, err)
	assert.Empty(t, m, "a rejected create must not write")
}

func TestRegistry_CreateRejectsNegativeQuota(t *testing.T) {
	tg := sampleTarget("1")
	tg.MaxAcceptsPerDay = -1
	err := NewRegistry(storage.NewMemoryGateway()).Create(context.Background(), tg)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegistry_CreateExistingKeepsStoredRecord(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(storage.NewMemoryGateway())
	require.NoError(t, reg.Create(ctx, sampleTarget("1")))

	again := sampleTarget("1")
	again.URL = "http://other.example.com"
	err := reg.Create(ctx, again)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := reg.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", got.URL)
}

func TestRegistry_GetAll(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(storage.NewMemoryGateway())

	all, err := reg.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, reg.Create(ctx, sampleTarget(id)))
	}
	all, err = reg.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestRegistry_GetAllReportsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryGateway()
	require.NoError(t, store.FieldSet(ctx, MapName, "1", "{not json"))

	_, err := NewRegistry(store).GetAll(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRegistry_GetByID(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(storage.NewMemoryGateway())
	require.NoError(t, reg.Create(ctx, sampleTarget("1")))

	_, err := reg.GetByID(ctx, "2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reg.GetByID(ctx, " ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegistry_UpdateByID(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryGateway()
	reg := NewRegistry(store)
	require.NoError(t, reg.Create(ctx, sampleTarget("1")))

	p, err := ParsePatch([]byte(`{"maxAcceptsPerDay":"50","note":"raised"}`))
	require.NoError(t, err)

	updated, err := reg.UpdateByID(ctx, "1", p)
	require.NoError(t, err)
	assert.Equal(t, int64(50), updated.MaxAcceptsPerDay)

	got, err := reg.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.MaxAcceptsPerDay)
	assert.Equal(t, "http://example.com", got.URL, "untouched fields survive")
	assert.Equal(t, []string{"ny"}, got.Accept.GeoState.In)
	assert.Equal(t, []string{"10"}, got.Accept.Hour.In)
	assert.JSONEq(t, `"raised"`, string(got.Attributes["note"]))
}

func TestRegistry_UpdateMissingDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryGateway()
	reg := NewRegistry(store)

	p, err := ParsePatch([]byte(`{"url":"http://example.com"}`))
	require.NoError(t, err)

	_, err = reg.UpdateByID(ctx, "2", p)
	assert.ErrorIs(t, err, ErrNotFound)

	_, ok, err := store.FieldGet(ctx, MapName, "2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_UpdateCannotChangeID(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(storage.NewMemoryGateway())
	require.NoError(t, reg.Create(ctx, sampleTarget("1")))

	p, err := ParsePatch([]byte(`{"id":"9"}`))
	require.NoError(t, err)
	_, err = reg.UpdateByID(ctx, "1", p)
	assert.ErrorIs(t, err, ErrValidation)

	// repeating the same id is fine
	p, err = ParsePatch([]byte(`{"id":"1","url":"http://same.example.com"}`))
	require.NoError(t, err)
	got, err := reg.UpdateByID(ctx, "1", p)
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)
}

func TestRegistry_StoreFailuresPropagate(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(brokenGateway{storage.NewMemoryGateway()})

	err := reg.Create(ctx, sampleTarget("1"))
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrAlreadyExists)

	_, err = reg.GetAll(ctx)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = reg.GetByID(ctx, "1")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = reg.UpdateByID(ctx, "1", Patch{})
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestRegistry_UpdateKeepsUnknownAcceptRules(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(storage.NewMemoryGateway())
	in, err := Parse([]byte(`{"id":"1","accept":{"geoState":{"$in":["ny"],"$nin":["ca"]},"device":{"$in":["mobile"]}}}`))
	require.NoError(t, err)
	require.NoError(t, reg.Create(ctx, in))

	limit := int64(50)
	_, err = reg.UpdateByID(ctx, "1", Patch{MaxAcceptsPerDay: &limit})
	require.NoError(t, err)

	got, err := reg.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.MaxAcceptsPerDay)
	if diff := cmp.Diff(in.Accept, got.Accept, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("accept changed by update (-want +got):\n%s", diff)
	}
}
