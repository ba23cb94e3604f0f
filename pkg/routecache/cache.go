package routecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	routePrefix  = "route:"
	choicePrefix = "choice:"
)

type Config struct {
	// entries older than FreshFor are still served, flagged Stale
	FreshFor time.Duration
}

func DefaultConfig() Config {
	return Config{FreshFor: 5 * time.Minute}
}

type Entry struct {
	RouteSet datastructure.RouteSet
	Stale    bool
}

// Cache maps a route key to the last RouteSet fetched for it, on top of a Store.
type Cache struct {
	store Store
	cfg   Config
	clock clockwork.Clock
	log   *zap.Logger
}

func New(store Store, cfg Config, clock clockwork.Clock, log *zap.Logger) *Cache {
	return &Cache{store: store, cfg: cfg, clock: clock, log: log}
}

// wire format: polylines travel encoded, which keeps entries ~10x smaller than raw coordinates.
type cachedCandidate struct {
	Index            int                        `json:"index"`
	Polyline         string                     `json:"polyline"`
	DistanceMeters   float64                    `json:"distance_meters"`
	DurationSec      float64                    `json:"duration_sec"`
	FirstInstruction *datastructure.Instruction `json:"first_instruction,omitempty"`
}

type cachedRouteSet struct {
	Key         string                `json:"key"`
	LegType     datastructure.LegType `json:"leg_type"`
	Candidates  []cachedCandidate     `json:"candidates"`
	ActiveIndex int                   `json:"active_index"`
	FetchedAtMs int64                 `json:"fetched_at_ms"`
}

func encodeRouteSet(rs datastructure.RouteSet) ([]byte, error) {
	c := cachedRouteSet{
		Key:         rs.Key,
		LegType:     rs.LegType,
		Candidates:  make([]cachedCandidate, len(rs.Candidates)),
		ActiveIndex: rs.ActiveIndex,
		FetchedAtMs: rs.FetchedAt.UnixMilli(),
	}
	for i, cand := range rs.Candidates {
		c.Candidates[i] = cachedCandidate{
			Index:            cand.Index,
			Polyline:         geo.PoylineFromCoords(cand.Polyline),
			DistanceMeters:   cand.DistanceMeters,
			DurationSec:      cand.DurationSec,
			FirstInstruction: cand.FirstInstruction,
		}
	}
	return json.Marshal(c)
}

func decodeRouteSet(b []byte) (datastructure.RouteSet, error) {
	var c cachedRouteSet
	if err := json.Unmarshal(b, &c); err != nil {
		return datastructure.RouteSet{}, err
	}

	rs := datastructure.RouteSet{
		Key:         c.Key,
		LegType:     c.LegType,
		Candidates:  make([]datastructure.RouteCandidate, 0, len(c.Candidates)),
		ActiveIndex: c.ActiveIndex,
		FetchedAt:   time.UnixMilli(c.FetchedAtMs),
	}
	for _, cand := range c.Candidates {
		path, err := geo.CoordsFromPolyline(cand.Polyline)
		if err != nil {
			return datastructure.RouteSet{}, err
		}
		if len(path) < 2 {
			return datastructure.RouteSet{}, fmt.Errorf("candidate %d has %d points", cand.Index, len(path))
		}
		rs.Candidates = append(rs.Candidates, datastructure.RouteCandidate{
			Index:            cand.Index,
			Polyline:         path,
			DistanceMeters:   cand.DistanceMeters,
			DurationSec:      cand.DurationSec,
			FirstInstruction: cand.FirstInstruction,
		})
	}
	return rs, nil
}

// Put overwrites any prior entry for rs.Key.
func (c *Cache) Put(ctx context.Context, rs datastructure.RouteSet) error {
	b, err := encodeRouteSet(rs)
	if err != nil {
		return fmt.Errorf("encode route set %q: %w", rs.Key, err)
	}
	return c.store.Set(ctx, routePrefix+rs.Key, b)
}

// Get returns the cached RouteSet for key, or ErrCacheMiss. A corrupt entry is reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, error) {
	b, err := c.store.Get(ctx, routePrefix+key)
	if err != nil {
		return Entry{}, err
	}

	rs, err := decodeRouteSet(b)
	if err != nil {
		c.log.Warn("dropping unreadable route cache entry", zap.String("key", key), zap.Error(err))
		return Entry{}, ErrCacheMiss
	}

	age := c.clock.Since(rs.FetchedAt)
	return Entry{RouteSet: rs, Stale: age > c.cfg.FreshFor}, nil
}

// PutChoice remembers the consumer-selected candidate for key (the key already carries the leg).
func (c *Cache) PutChoice(ctx context.Context, key string, index int) error {
	return c.store.Set(ctx, choicePrefix+key, []byte(strconv.Itoa(index)))
}

func (c *Cache) GetChoice(ctx context.Context, key string) (int, bool) {
	b, err := c.store.Get(ctx, choicePrefix+key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn("failed to read route choice", zap.String("key", key), zap.Error(err))
		}
		return 0, false
	}
	idx, err := strconv.Atoi(string(b))
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func (c *Cache) Close() error {
	return c.store.Close()
}
