package directions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/guidance"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/util"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrNoRoute             = errors.New("directions provider returned no usable route")
	ErrProviderUnavailable = errors.New("directions provider unavailable")
)

// Provider returns up to MaxAlternatives candidate routes in the provider's own order.
type Provider interface {
	Routes(ctx context.Context, origin, destination geo.Coordinate) ([]datastructure.RouteCandidate, error)
}

type Config struct {
	BaseURL         string
	Profile         string
	Timeout         time.Duration
	RatePerSec      float64
	Burst           int
	MaxAlternatives int
	// roundabouts are driven clockwise in left-hand traffic countries
	ClockwiseRoundabouts bool
}

func DefaultConfig() Config {
	return Config{
		BaseURL:              "https://router.project-osrm.org",
		Profile:              "driving",
		Timeout:              10 * time.Second,
		RatePerSec:           2,
		Burst:                4,
		MaxAlternatives:      3,
		ClockwiseRoundabouts: true,
	}
}

// provider response schema. everything is validated before a RouteCandidate is built.
var noRouteCodes = map[string]bool{"NoRoute": true, "NoSegment": true}

type osrmResponse struct {
	Code    string      `json:"code" validate:"required"`
	Message string      `json:"message"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Geometry string    `json:"geometry" validate:"required"`
	Distance float64   `json:"distance" validate:"gte=0"`
	Duration float64   `json:"duration" validate:"gte=0"`
	Legs     []osrmLeg `json:"legs" validate:"dive"`
}

type osrmLeg struct {
	Steps []osrmStep `json:"steps" validate:"dive"`
}

type osrmStep struct {
	Name     string       `json:"name"`
	Distance float64      `json:"distance" validate:"gte=0"`
	Duration float64      `json:"duration" validate:"gte=0"`
	Maneuver osrmManeuver `json:"maneuver"`
}

type osrmManeuver struct {
	Type         string  `json:"type" validate:"required"`
	Modifier     string  `json:"modifier"`
	BearingAfter float64 `json:"bearing_after" validate:"gte=0,lte=360"`
	Exit         int     `json:"exit" validate:"gte=0"`
}

// OSRMClient talks to an OSRM compatible /route service.
type OSRMClient struct {
	cfg      Config
	http     *http.Client
	limiter  *rate.Limiter
	validate *validator.Validate
	log      *zap.Logger
}

func NewOSRMClient(cfg Config, log *zap.Logger) *OSRMClient {
	return &OSRMClient{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		validate: validator.New(),
		log:      log,
	}
}

func (c *OSRMClient) routeURL(origin, destination geo.Coordinate) string {
	return fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?alternatives=%d&overview=full&geometries=polyline&steps=true",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Profile,
		origin.Lon, origin.Lat, destination.Lon, destination.Lat, c.cfg.MaxAlternatives)
}

func (c *OSRMClient) Routes(ctx context.Context, origin, destination geo.Coordinate) ([]datastructure.RouteCandidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, util.WrapErrorf(err, ErrProviderUnavailable, "directions rate limit wait")
	}

	reqID := uuid.NewString()
	url := c.routeURL(origin, destination)
	c.log.Debug("requesting routes", zap.String("request_id", reqID), zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, util.WrapErrorf(err, ErrProviderUnavailable, "build directions request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, util.WrapErrorf(err, ErrProviderUnavailable, "directions request %s", reqID)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, util.WrapErrorf(ErrProviderUnavailable, ErrProviderUnavailable,
			"directions request %s returned %d", reqID, resp.StatusCode)
	}

	var parsed osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, util.WrapErrorf(err, ErrProviderUnavailable, "decode directions response %s", reqID)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// OSRM answers unroutable pairs with 400 and a code; any other client error is ours
		if noRouteCodes[parsed.Code] {
			return nil, util.WrapErrorf(ErrNoRoute, ErrNoRoute, "directions %s: %s %s", reqID, parsed.Code, parsed.Message)
		}
		return nil, util.WrapErrorf(ErrProviderUnavailable, ErrProviderUnavailable,
			"directions request %s returned %d: %s %s", reqID, resp.StatusCode, parsed.Code, parsed.Message)
	}
	if err := c.validate.Struct(parsed); err != nil {
		return nil, util.WrapErrorf(err, ErrNoRoute, "invalid directions response %s", reqID)
	}
	if parsed.Code != "Ok" {
		return nil, util.WrapErrorf(ErrNoRoute, ErrNoRoute, "directions %s: %s %s", reqID, parsed.Code, parsed.Message)
	}

	candidates := c.buildCandidates(reqID, parsed.Routes)
	if len(candidates) == 0 {
		return nil, util.WrapErrorf(ErrNoRoute, ErrNoRoute, "directions %s: zero usable routes", reqID)
	}
	return candidates, nil
}

// buildCandidates keeps provider order, drops routes that fail validation or decode to <2 points.
func (c *OSRMClient) buildCandidates(reqID string, routes []osrmRoute) []datastructure.RouteCandidate {
	candidates := make([]datastructure.RouteCandidate, 0, len(routes))
	for i, route := range routes {
		if len(candidates) == c.cfg.MaxAlternatives {
			break
		}
		if err := c.validate.Struct(route); err != nil {
			c.log.Debug("skipping invalid route", zap.String("request_id", reqID), zap.Int("route", i), zap.Error(err))
			continue
		}
		path, err := geo.CoordsFromPolyline(route.Geometry)
		if err != nil || len(path) < 2 {
			c.log.Debug("skipping route with unusable geometry", zap.String("request_id", reqID), zap.Int("route", i))
			continue
		}

		candidates = append(candidates, datastructure.RouteCandidate{
			Index:            len(candidates),
			Polyline:         path,
			DistanceMeters:   route.Distance,
			DurationSec:      route.Duration,
			FirstInstruction: c.firstInstruction(route),
		})
	}
	return candidates
}

func (c *OSRMClient) firstInstruction(route osrmRoute) *datastructure.Instruction {
	if len(route.Legs) == 0 || len(route.Legs[0].Steps) == 0 {
		return nil
	}
	step := route.Legs[0].Steps[0]
	text := guidance.Describe(guidance.Maneuver{
		Type:         step.Maneuver.Type,
		Modifier:     step.Maneuver.Modifier,
		StreetName:   step.Name,
		BearingAfter: step.Maneuver.BearingAfter,
		Exit:         step.Maneuver.Exit,
	}, c.cfg.ClockwiseRoundabouts)

	return &datastructure.Instruction{
		Text:           text,
		DistanceMeters: step.Distance,
		DurationSec:    step.Duration,
	}
}
