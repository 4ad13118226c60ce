package returns

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aristath/allocator/internal/domain"
	testutil "github.com/aristath/allocator/internal/testing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	db := testutil.NewTestDB(t, "returns")
	return NewStore(db.Conn(), zerolog.Nop())
}

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	series := testutil.NewReturnFixture(t, 3, 20, 1)

	ds, err := store.Save(ctx, "fixture", series)
	require.NoError(t, err)
	assert.Equal(t, "fixture", ds.Name)
	assert.Equal(t, 20, ds.Periods)
	assert.Equal(t, series.Assets(), ds.Assets)
	_, err = uuid.Parse(ds.ID)
	assert.NoError(t, err)

	loaded, err := store.Load(ctx, "fixture")
	require.NoError(t, err)
	assert.Equal(t, series.Assets(), loaded.Assets())
	assert.Equal(t, series.Columns(), loaded.Columns())
	assert.Nil(t, loaded.Periods())
}

func TestStore_KeepsPeriods(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	series := testutil.NewSeries(t, []string{"A", "B"}, [][]float64{{0.01, 0.02}, {-0.01, 0.005}, {0.003, -0.002}})
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	series, err := series.WithPeriods([]time.Time{start, start.AddDate(0, 0, 1), start.AddDate(0, 0, 2)})
	require.NoError(t, err)

	_, err = store.Save(ctx, "dated", series)
	require.NoError(t, err)
	loaded, err := store.Load(ctx, "dated")
	require.NoError(t, err)
	assert.Equal(t, series.Periods(), loaded.Periods())
}

func TestStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.Save(ctx, "universe", testutil.NewReturnFixture(t, 2, 10, 1))
	require.NoError(t, err)
	second, err := store.Save(ctx, "universe", testutil.NewReturnFixture(t, 4, 12, 2))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	loaded, err := store.Load(ctx, "universe")
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.N())
	assert.Equal(t, 12, loaded.T())

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, name := range []string{"bonds", "equities"} {
		_, err := store.Save(ctx, name, testutil.NewReturnFixture(t, 2, 10, 3))
		require.NoError(t, err)
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bonds", list[0].Name)
	assert.Equal(t, "equities", list[1].Name)

	require.NoError(t, store.Delete(ctx, "bonds"))
	_, err = store.Load(ctx, "bonds")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "bonds"), domain.ErrNotFound)
}

func TestStore_RejectsEmptyName(t *testing.T) {
	_, err := newTestStore(t).Save(context.Background(), "", testutil.NewReturnFixture(t, 2, 5, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestCache_LoadsOnceAndInvalidates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cache := NewCache(store, zerolog.Nop())
	series := testutil.NewReturnFixture(t, 3, 15, 4)
	_, err := store.Save(ctx, "shared", series)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.Load(ctx, "shared")
			assert.NoError(t, err)
			assert.Equal(t, 15, got.T())
		}()
	}
	wg.Wait()

	// A cached dataset survives a direct delete in the store until invalidated.
	require.NoError(t, store.Delete(ctx, "shared"))
	_, err = cache.Load(ctx, "shared")
	assert.NoError(t, err)

	cache.Invalidate("shared")
	_, err = cache.Load(ctx, "shared")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCache_SaveAndDelete(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(newTestStore(t), zerolog.Nop())

	_, err := cache.Save(ctx, "live", testutil.NewReturnFixture(t, 2, 6, 5))
	require.NoError(t, err)
	got, err := cache.Load(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, 2, got.N())

	require.NoError(t, cache.Delete(ctx, "live"))
	_, err = cache.Load(ctx, "live")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
