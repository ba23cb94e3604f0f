package directions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	origin      = geo.NewCoordinate(-6.8000, 39.2000)
	destination = geo.NewCoordinate(-6.7900, 39.2100)
)

func route(duration, distance float64, path ...geo.Coordinate) map[string]any {
	return map[string]any{
		"geometry": geo.PoylineFromCoords(path),
		"distance": distance,
		"duration": duration,
		"legs": []any{map[string]any{
			"steps": []any{map[string]any{
				"name":     "Ali Hassan Mwinyi Road",
				"distance": 180.5,
				"duration": 30.2,
				"maneuver": map[string]any{"type": "depart", "bearing_after": 45},
			}},
		}},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *OSRMClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RatePerSec = 1000
	return NewOSRMClient(cfg, zap.NewNop())
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestRoutesPreservesProviderOrder(t *testing.T) {
	var gotPath, gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		writeJSON(t, w, http.StatusOK, map[string]any{
			"code": "Ok",
			"routes": []any{
				route(200, 1600, origin, geo.NewCoordinate(-6.795, 39.205), destination),
				route(260, 1900, origin, geo.NewCoordinate(-6.800, 39.210), destination),
			},
		})
	})

	cands, err := client.Routes(context.Background(), origin, destination)
	require.NoError(t, err)

	assert.Equal(t, "/route/v1/driving/39.200000,-6.800000;39.210000,-6.790000", gotPath)
	assert.Contains(t, gotQuery, "alternatives=3")
	assert.Contains(t, gotQuery, "steps=true")

	require.Len(t, cands, 2)
	assert.Equal(t, 0, cands[0].Index)
	assert.Equal(t, 200.0, cands[0].DurationSec)
	assert.Equal(t, 1, cands[1].Index)
	assert.Equal(t, 260.0, cands[1].DurationSec)
	assert.Len(t, cands[1].Polyline, 3)

	require.NotNil(t, cands[0].FirstInstruction)
	assert.Equal(t, "Head North East toward Ali Hassan Mwinyi Road", cands[0].FirstInstruction.Text)
	assert.Equal(t, 180.5, cands[0].FirstInstruction.DistanceMeters)
}

func TestRoutesCapsAlternatives(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		routes := make([]any, 0, 5)
		for i := 0; i < 5; i++ {
			routes = append(routes, route(100+float64(i), 1000, origin, destination))
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"code": "Ok", "routes": routes})
	})

	cands, err := client.Routes(context.Background(), origin, destination)
	require.NoError(t, err)
	require.Len(t, cands, 3)
	assert.Equal(t, 102.0, cands[2].DurationSec)
}

func TestRoutesDropsUnusableRoutes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		bad := route(-5, 1000, origin, destination)
		single := route(90, 10, origin)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"code":   "Ok",
			"routes": []any{bad, single, route(300, 2000, origin, destination)},
		})
	})

	cands, err := client.Routes(context.Background(), origin, destination)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 0, cands[0].Index)
	assert.Equal(t, 300.0, cands[0].DurationSec)
}

func TestRoutesErrors(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "no route code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, http.StatusBadRequest, map[string]any{"code": "NoRoute", "message": "Impossible route"})
			},
			wantErr: ErrNoRoute,
		},
		{
			name: "no segment near a coordinate",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, http.StatusBadRequest, map[string]any{"code": "NoSegment", "message": "Could not find a matching segment"})
			},
			wantErr: ErrNoRoute,
		},
		{
			name: "invalid query",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, http.StatusBadRequest, map[string]any{"code": "InvalidQuery", "message": "Query string malformed"})
			},
			wantErr: ErrProviderUnavailable,
		},
		{
			name: "not found without body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantErr: ErrProviderUnavailable,
		},
		{
			name: "forbidden with json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, http.StatusForbidden, map[string]any{"code": "Forbidden"})
			},
			wantErr: ErrProviderUnavailable,
		},
		{
			name: "zero routes",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, http.StatusOK, map[string]any{"code": "Ok", "routes": []any{}})
			},
			wantErr: ErrNoRoute,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: ErrProviderUnavailable,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("<html>"))
			},
			wantErr: ErrProviderUnavailable,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.Routes(context.Background(), origin, destination)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRoutesHonoursCancellation(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Routes(ctx, origin, destination)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.True(t, strings.Contains(err.Error(), "context canceled"))
}
