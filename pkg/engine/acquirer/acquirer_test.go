package acquirer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/directions"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/routecache"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	origin      = geo.NewCoordinate(-6.8000, 39.2000)
	destination = geo.NewCoordinate(-6.7900, 39.2100)
	elsewhere   = geo.NewCoordinate(-6.7700, 39.2400)
)

const waitFor = 2 * time.Second

type routesFunc func(ctx context.Context, origin, destination geo.Coordinate) ([]datastructure.RouteCandidate, error)

// fakeProvider records every call on calls and answers through fn.
type fakeProvider struct {
	mu    sync.Mutex
	fn    routesFunc
	n     int
	calls chan geo.Coordinate
}

func newFakeProvider(fn routesFunc) *fakeProvider {
	return &fakeProvider{fn: fn, calls: make(chan geo.Coordinate, 32)}
}

func (p *fakeProvider) Routes(ctx context.Context, origin, destination geo.Coordinate) ([]datastructure.RouteCandidate, error) {
	p.mu.Lock()
	p.n++
	fn := p.fn
	p.mu.Unlock()
	p.calls <- destination
	return fn(ctx, origin, destination)
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func candidates(durations ...float64) []datastructure.RouteCandidate {
	out := make([]datastructure.RouteCandidate, len(durations))
	for i, d := range durations {
		out[i] = datastructure.RouteCandidate{
			Index:          i,
			Polyline:       []geo.Coordinate{origin, geo.NewCoordinate(-6.795, 39.205+0.001*float64(i)), destination},
			DistanceMeters: 1500 + 100*float64(i),
			DurationSec:    d,
		}
	}
	return out
}

func succeed(durations ...float64) routesFunc {
	return func(context.Context, geo.Coordinate, geo.Coordinate) ([]datastructure.RouteCandidate, error) {
		return candidates(durations...), nil
	}
}

type harness struct {
	acq      *Acquirer
	provider *fakeProvider
	cache    *routecache.Cache
	clock    *clockwork.FakeClock
	emitted  chan datastructure.RouteSet
}

func newHarness(t *testing.T, fn routesFunc) *harness {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	store, err := routecache.NewLRUStore(64)
	require.NoError(t, err)
	cache := routecache.New(store, routecache.DefaultConfig(), clock, zap.NewNop())

	h := &harness{
		provider: newFakeProvider(fn),
		cache:    cache,
		clock:    clock,
		emitted:  make(chan datastructure.RouteSet, 32),
	}
	h.acq = New(h.provider, cache, clock, DefaultConfig(), zap.NewNop(), func(rs datastructure.RouteSet) {
		h.emitted <- rs
	})
	t.Cleanup(func() {
		h.acq.Close()
		cache.Close()
	})
	return h
}

func (h *harness) nextRouteSet(t *testing.T) datastructure.RouteSet {
	t.Helper()
	select {
	case rs := <-h.emitted:
		return rs
	case <-time.After(waitFor):
		t.Fatal("no route set emitted")
		return datastructure.RouteSet{}
	}
}

func (h *harness) noRouteSet(t *testing.T) {
	t.Helper()
	select {
	case rs := <-h.emitted:
		t.Fatalf("unexpected route set %q", rs.Key)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) awaitCall(t *testing.T) geo.Coordinate {
	t.Helper()
	select {
	case dest := <-h.provider.calls:
		return dest
	case <-time.After(waitFor):
		t.Fatal("provider was not called")
		return geo.Coordinate{}
	}
}

// awaitRetryTimer blocks until the acquirer has scheduled its retry on the fake clock.
func (h *harness) awaitRetryTimer(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
}

func (h *harness) exhausted() bool {
	h.acq.mu.Lock()
	defer h.acq.mu.Unlock()
	return h.acq.exhausted
}

func TestEnsureRouteEmitsProviderOrder(t *testing.T) {
	h := newHarness(t, succeed(200, 260))

	h.acq.EnsureRoute(origin, destination, datastructure.LegDestination)
	rs := h.nextRouteSet(t)

	assert.Equal(t, datastructure.RouteKey(origin, destination, datastructure.LegDestination), rs.Key)
	assert.Equal(t, datastructure.LegDestination, rs.LegType)
	require.Len(t, rs.Candidates, 2)
	assert.Equal(t, 200.0, rs.Candidates[0].DurationSec)
	assert.Equal(t, 260.0, rs.Candidates[1].DurationSec)
	assert.Equal(t, 0, rs.ActiveIndex)

	// persisted for the offline path
	entry, err := h.cache.Get(context.Background(), rs.Key)
	require.NoError(t, err)
	assert.Len(t, entry.RouteSet.Candidates, 2)
}

func TestThrottle(t *testing.T) {
	h := newHarness(t, succeed(200))

	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.nextRouteSet(t)

	h.clock.Advance(10 * time.Second)
	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.noRouteSet(t)
	assert.Equal(t, 1, h.provider.count())

	// same coordinates within the 5-decimal quantum share the key
	h.acq.EnsureRoute(geo.NewCoordinate(-6.800001, 39.200002), destination, datastructure.LegPickup)
	h.noRouteSet(t)
	assert.Equal(t, 1, h.provider.count())

	h.clock.Advance(6 * time.Second)
	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.nextRouteSet(t)
	assert.Equal(t, 2, h.provider.count())
}

func TestPendingFetchIsNotDuplicated(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, _, _ geo.Coordinate) ([]datastructure.RouteCandidate, error) {
		<-release
		return candidates(200), nil
	})

	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.awaitCall(t)
	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	close(release)

	h.nextRouteSet(t)
	h.noRouteSet(t)
	assert.Equal(t, 1, h.provider.count())
}

func TestKeyChangeDiscardsStaleResponse(t *testing.T) {
	releaseA := make(chan struct{})
	var ctxA context.Context
	var mu sync.Mutex

	h := newHarness(t, func(ctx context.Context, _, dest geo.Coordinate) ([]datastructure.RouteCandidate, error) {
		if dest == destination {
			mu.Lock()
			ctxA = ctx
			mu.Unlock()
			// ignore cancellation so the response races the newer request
			<-releaseA
			return candidates(111), nil
		}
		return candidates(222), nil
	})

	h.acq.EnsureRoute(origin, destination, datastructure.LegDestination)
	h.awaitCall(t)

	h.acq.EnsureRoute(origin, elsewhere, datastructure.LegDestination)
	rs := h.nextRouteSet(t)
	assert.Equal(t, 222.0, rs.Candidates[0].DurationSec)

	mu.Lock()
	require.NotNil(t, ctxA)
	assert.ErrorIs(t, ctxA.Err(), context.Canceled)
	mu.Unlock()

	close(releaseA)
	h.noRouteSet(t)

	_, err := h.cache.Get(context.Background(), datastructure.RouteKey(origin, destination, datastructure.LegDestination))
	assert.ErrorIs(t, err, routecache.ErrCacheMiss)
}

func TestOfflineServesCache(t *testing.T) {
	h := newHarness(t, succeed(999))
	key := datastructure.RouteKey(origin, destination, datastructure.LegPickup)

	// an hour-old entry: stale, still served
	cached := datastructure.RouteSet{
		Key:        key,
		LegType:    datastructure.LegPickup,
		Candidates: candidates(300, 420),
		FetchedAt:  h.clock.Now().Add(-time.Hour),
	}
	require.NoError(t, h.cache.Put(context.Background(), cached))

	h.acq.SetNetworkAvailable(false)
	assert.False(t, h.acq.NetworkAvailable())

	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	rs := h.nextRouteSet(t)
	assert.Equal(t, key, rs.Key)
	require.Len(t, rs.Candidates, 2)
	assert.Equal(t, 300.0, rs.Candidates[0].DurationSec)

	assert.Equal(t, 0, h.provider.count())
}

func TestOfflineWithoutCacheEmitsNothing(t *testing.T) {
	h := newHarness(t, succeed(999))
	h.acq.SetNetworkAvailable(false)

	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.noRouteSet(t)
	assert.Equal(t, 0, h.provider.count())
}

func TestStaleWhileRevalidate(t *testing.T) {
	h := newHarness(t, succeed(180))
	key := datastructure.RouteKey(origin, destination, datastructure.LegPickup)
	require.NoError(t, h.cache.Put(context.Background(), datastructure.RouteSet{
		Key:        key,
		LegType:    datastructure.LegPickup,
		Candidates: candidates(600),
		FetchedAt:  h.clock.Now().Add(-time.Hour),
	}))

	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)

	first := h.nextRouteSet(t)
	assert.Equal(t, 600.0, first.Candidates[0].DurationSec)
	second := h.nextRouteSet(t)
	assert.Equal(t, 180.0, second.Candidates[0].DurationSec)
}

func TestRetrySchedule(t *testing.T) {
	h := newHarness(t, func(context.Context, geo.Coordinate, geo.Coordinate) ([]datastructure.RouteCandidate, error) {
		return nil, directions.ErrProviderUnavailable
	})

	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.awaitCall(t)

	for retry, delay := range DefaultConfig().RetryDelays {
		h.awaitRetryTimer(t)

		h.clock.Advance(delay - 100*time.Millisecond)
		select {
		case <-h.provider.calls:
			t.Fatalf("retry %d fired early", retry+1)
		case <-time.After(50 * time.Millisecond):
		}

		h.clock.Advance(100 * time.Millisecond)
		h.awaitCall(t)
	}

	require.Eventually(t, h.exhausted, waitFor, 5*time.Millisecond)
	h.clock.Advance(time.Hour)
	assert.Equal(t, 4, h.provider.count())
	h.noRouteSet(t)

	// re-triggering the same key starts over
	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.awaitCall(t)
	assert.Equal(t, 5, h.provider.count())
}

func TestNoRouteIsRetried(t *testing.T) {
	var mu sync.Mutex
	fail := true
	h := newHarness(t, func(context.Context, geo.Coordinate, geo.Coordinate) ([]datastructure.RouteCandidate, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return nil, directions.ErrNoRoute
		}
		return candidates(240), nil
	})

	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.awaitCall(t)
	h.noRouteSet(t)

	h.awaitRetryTimer(t)
	h.clock.Advance(5 * time.Second)
	rs := h.nextRouteSet(t)
	assert.Equal(t, 240.0, rs.Candidates[0].DurationSec)
}

func TestKeyChangeStopsPendingRetry(t *testing.T) {
	h := newHarness(t, func(_ context.Context, _, dest geo.Coordinate) ([]datastructure.RouteCandidate, error) {
		if dest == destination {
			return nil, errors.New("connection reset")
		}
		return candidates(90), nil
	})

	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.awaitCall(t)
	h.awaitRetryTimer(t)

	h.acq.EnsureRoute(origin, elsewhere, datastructure.LegPickup)
	h.awaitCall(t)
	h.nextRouteSet(t)

	h.clock.Advance(time.Minute)
	h.noRouteSet(t)
	assert.Equal(t, 2, h.provider.count())
}

func TestRememberedChoice(t *testing.T) {
	testCases := []struct {
		name       string
		remembered int
		wantActive int
	}{
		{name: "in range", remembered: 1, wantActive: 1},
		{name: "out of range falls back to first", remembered: 5, wantActive: 0},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, succeed(200, 260))
			key := datastructure.RouteKey(origin, destination, datastructure.LegDestination)
			require.NoError(t, h.acq.Remember(key, tt.remembered))

			h.acq.EnsureRoute(origin, destination, datastructure.LegDestination)
			rs := h.nextRouteSet(t)
			assert.Equal(t, tt.wantActive, rs.ActiveIndex)
		})
	}
}

func TestCloseStopsWork(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, _, _ geo.Coordinate) ([]datastructure.RouteCandidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.awaitCall(t)
	h.acq.Close()

	h.acq.EnsureRoute(origin, elsewhere, datastructure.LegPickup)
	h.noRouteSet(t)
	assert.Equal(t, 1, h.provider.count())
}

func TestCancelDiscardsInFlightFetch(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, _, _ geo.Coordinate) ([]datastructure.RouteCandidate, error) {
		<-release
		return candidates(200), nil
	})

	h.acq.EnsureRoute(origin, destination, datastructure.LegDestination)
	h.awaitCall(t)

	h.acq.Cancel()
	close(release)
	h.noRouteSet(t)

	// the same key starts over instead of being treated as already pending
	h.acq.EnsureRoute(origin, destination, datastructure.LegDestination)
	rs := h.nextRouteSet(t)
	assert.Equal(t, 200.0, rs.Candidates[0].DurationSec)
	assert.Equal(t, 2, h.provider.count())
}

func TestCancelStopsPendingRetry(t *testing.T) {
	h := newHarness(t, func(context.Context, geo.Coordinate, geo.Coordinate) ([]datastructure.RouteCandidate, error) {
		return nil, directions.ErrProviderUnavailable
	})

	h.acq.EnsureRoute(origin, destination, datastructure.LegPickup)
	h.awaitCall(t)
	h.awaitRetryTimer(t)

	h.acq.Cancel()
	h.clock.Advance(time.Minute)
	h.noRouteSet(t)
	assert.Equal(t, 1, h.provider.count())
}
