package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keySetter interface {
	Store
	SetKeyFunc(KeyFunc)
}

// runStoreSuite checks the Store contract against a backend.
func runStoreSuite(t *testing.T, open func(t *testing.T) keySetter) {
	ctx := context.Background()

	t.Run("CreateStartsInactive", func(t *testing.T) {
		st := open(t)
		rec, err := st.Create(ctx, "hw-1")
		require.NoError(t, err)
		assert.Len(t, rec.Key, 20)
		assert.Equal(t, "hw-1", rec.HWID)
		assert.Zero(t, rec.DaysLeft)
		assert.False(t, rec.Active)
		assert.False(t, rec.Banned)
		assert.Nil(t, rec.LastTick)
	})

	t.Run("LookupsAgree", func(t *testing.T) {
		st := open(t)
		for i := 0; i < 5; i++ {
			_, err := st.Create(ctx, fmt.Sprintf("hw-%d", i))
			require.NoError(t, err)
		}
		for i := 0; i < 5; i++ {
			byHW, err := st.FindByHWID(ctx, fmt.Sprintf("hw-%d", i))
			require.NoError(t, err)
			byKey, err := st.FindByKey(ctx, byHW.Key)
			require.NoError(t, err)
			assert.Equal(t, byHW.Key, byKey.Key)
			assert.Equal(t, byHW.HWID, byKey.HWID)
		}
	})

	t.Run("DuplicateHWIDConflicts", func(t *testing.T) {
		st := open(t)
		_, err := st.Create(ctx, "dup")
		require.NoError(t, err)
		_, err = st.Create(ctx, "dup")
		assert.ErrorIs(t, err, ErrConflict)

		all, err := st.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("KeyCollisionRegenerates", func(t *testing.T) {
		st := open(t)
		keys := []string{"AAAAAAAAAAAAAAAAAAAA", "AAAAAAAAAAAAAAAAAAAA", "BBBBBBBBBBBBBBBBBBBB"}
		var mu sync.Mutex
		st.SetKeyFunc(func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			k := keys[0]
			keys = keys[1:]
			return k, nil
		})
		first, err := st.Create(ctx, "hw-a")
		require.NoError(t, err)
		second, err := st.Create(ctx, "hw-b")
		require.NoError(t, err)
		assert.Equal(t, "AAAAAAAAAAAAAAAAAAAA", first.Key)
		assert.Equal(t, "BBBBBBBBBBBBBBBBBBBB", second.Key)
	})

	t.Run("KeyCollisionExhausted", func(t *testing.T) {
		st := open(t)
		st.SetKeyFunc(func() (string, error) { return "CCCCCCCCCCCCCCCCCCCC", nil })
		_, err := st.Create(ctx, "hw-a")
		require.NoError(t, err)
		_, err = st.Create(ctx, "hw-b")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("MissingLookups", func(t *testing.T) {
		st := open(t)
		_, err := st.FindByHWID(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = st.FindByKey(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = st.Update(ctx, "nope", Patch{Banned: ptr(true)})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PartialUpdate", func(t *testing.T) {
		st := open(t)
		rec, err := st.Create(ctx, "hw")
		require.NoError(t, err)

		tick := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		got, err := st.Update(ctx, rec.Key, Patch{DaysLeft: ptr(7), Active: ptr(true), LastTick: &tick})
		require.NoError(t, err)
		assert.Equal(t, 7, got.DaysLeft)
		assert.True(t, got.Active)
		assert.False(t, got.Banned)
		require.NotNil(t, got.LastTick)
		assert.True(t, tick.Equal(*got.LastTick))

		got, err = st.Update(ctx, rec.Key, Patch{Banned: ptr(true)})
		require.NoError(t, err)
		assert.True(t, got.Banned)
		assert.Equal(t, 7, got.DaysLeft)
		require.NotNil(t, got.LastTick)

		got, err = st.Update(ctx, rec.Key, Patch{ClearLastTick: true, DaysLeft: ptr(-3)})
		require.NoError(t, err)
		assert.Nil(t, got.LastTick)
		assert.Zero(t, got.DaysLeft)

		reread, err := st.FindByKey(ctx, rec.Key)
		require.NoError(t, err)
		assert.Equal(t, got, reread)
	})

	t.Run("ConcurrentCreateSameHWID", func(t *testing.T) {
		st := open(t)
		const n = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			ok        int
			conflicts int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := st.Create(ctx, "racy")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case assert.ErrorIs(t, err, ErrConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, conflicts)
	})
}

func ptr[T any](v T) *T { return &v }
