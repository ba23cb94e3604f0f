package routecache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStores(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"lru": func(t *testing.T) Store {
			s, err := NewLRUStore(16)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "routes.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func sampleRouteSet(key string, fetchedAt time.Time, durations ...float64) datastructure.RouteSet {
	rs := datastructure.RouteSet{
		Key:       key,
		LegType:   datastructure.LegDestination,
		FetchedAt: fetchedAt,
	}
	for i, d := range durations {
		rs.Candidates = append(rs.Candidates, datastructure.RouteCandidate{
			Index: i,
			Polyline: []geo.Coordinate{
				geo.NewCoordinate(-6.80000, 39.20000),
				geo.NewCoordinate(-6.79500, 39.20500+float64(i)*0.001),
				geo.NewCoordinate(-6.79000, 39.21000),
			},
			DistanceMeters:   1500 + float64(i)*100,
			DurationSec:      d,
			FirstInstruction: &datastructure.Instruction{Text: "Head North", DistanceMeters: 120, DurationSec: 15},
		})
	}
	return rs
}

func TestCacheRoundTrip(t *testing.T) {
	for name, mk := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
			c := New(mk(t), DefaultConfig(), clock, zap.NewNop())
			defer c.Close()
			ctx := context.Background()

			_, err := c.Get(ctx, "k1")
			require.ErrorIs(t, err, ErrCacheMiss)

			want := sampleRouteSet("k1", clock.Now(), 200, 260)
			want.ActiveIndex = 1
			require.NoError(t, c.Put(ctx, want))

			got, err := c.Get(ctx, "k1")
			require.NoError(t, err)
			assert.False(t, got.Stale)
			assert.Equal(t, want.Key, got.RouteSet.Key)
			assert.Equal(t, want.LegType, got.RouteSet.LegType)
			assert.Equal(t, 1, got.RouteSet.ActiveIndex)
			assert.True(t, want.FetchedAt.Equal(got.RouteSet.FetchedAt))
			require.Len(t, got.RouteSet.Candidates, 2)
			for i, cand := range got.RouteSet.Candidates {
				assert.Equal(t, i, cand.Index)
				assert.Equal(t, want.Candidates[i].DurationSec, cand.DurationSec)
				assert.Equal(t, want.Candidates[i].FirstInstruction, cand.FirstInstruction)
				require.Len(t, cand.Polyline, 3)
				assert.InDelta(t, want.Candidates[i].Polyline[1].Lon, cand.Polyline[1].Lon, 1e-5)
			}
		})
	}
}

func TestCacheServesStaleEntries(t *testing.T) {
	for name, mk := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
			c := New(mk(t), Config{FreshFor: time.Minute}, clock, zap.NewNop())
			defer c.Close()
			ctx := context.Background()

			require.NoError(t, c.Put(ctx, sampleRouteSet("k1", clock.Now(), 300)))

			clock.Advance(2 * time.Minute)
			got, err := c.Get(ctx, "k1")
			require.NoError(t, err)
			assert.True(t, got.Stale)
			assert.Len(t, got.RouteSet.Candidates, 1)
		})
	}
}

func TestCacheLastWriterWins(t *testing.T) {
	for name, mk := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			c := New(mk(t), DefaultConfig(), clock, zap.NewNop())
			defer c.Close()
			ctx := context.Background()

			require.NoError(t, c.Put(ctx, sampleRouteSet("k1", clock.Now(), 300, 400, 500)))
			require.NoError(t, c.Put(ctx, sampleRouteSet("k1", clock.Now(), 120)))

			got, err := c.Get(ctx, "k1")
			require.NoError(t, err)
			require.Len(t, got.RouteSet.Candidates, 1)
			assert.Equal(t, 120.0, got.RouteSet.Candidates[0].DurationSec)
		})
	}
}

func TestCacheRemembersChoice(t *testing.T) {
	for name, mk := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			c := New(mk(t), DefaultConfig(), clockwork.NewFakeClock(), zap.NewNop())
			defer c.Close()
			ctx := context.Background()

			_, ok := c.GetChoice(ctx, "k1")
			assert.False(t, ok)

			require.NoError(t, c.PutChoice(ctx, "k1", 2))
			idx, ok := c.GetChoice(ctx, "k1")
			assert.True(t, ok)
			assert.Equal(t, 2, idx)

			_, ok = c.GetChoice(ctx, "k2")
			assert.False(t, ok)
		})
	}
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	store, err := NewLRUStore(4)
	require.NoError(t, err)
	c := New(store, DefaultConfig(), clockwork.NewFakeClock(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, routePrefix+"k1", []byte("{not json")))
	_, err = c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.db")
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	c := New(store, DefaultConfig(), clock, zap.NewNop())
	require.NoError(t, c.Put(ctx, sampleRouteSet("k1", clock.Now(), 200, 260)))
	require.NoError(t, c.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	c = New(reopened, DefaultConfig(), clock, zap.NewNop())
	defer c.Close()

	got, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Len(t, got.RouteSet.Candidates, 2)
}
