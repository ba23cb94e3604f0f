package controllers

import (
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
)

type pointRequest struct {
	Lat *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lng *float64 `json:"lng" validate:"required,min=-180,max=180"`
}

func (p pointRequest) toCoordinate() geo.Coordinate {
	return geo.NewCoordinate(*p.Lat, *p.Lng)
}

type setTripRequest struct {
	Pickup      pointRequest `json:"pickup"`
	Destination pointRequest `json:"destination"`
	Stage       string       `json:"stage" validate:"omitempty,oneof=requested accepted pickup picked_up in_transit arrived dropoff completed cancelled"`
}

type fixRequest struct {
	Lat          *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lng          *float64 `json:"lng" validate:"required,min=-180,max=180"`
	ObservedAtMs int64    `json:"observed_at_ms" validate:"omitempty,gt=0"`
}

func (f fixRequest) point() geo.Coordinate {
	return geo.NewCoordinate(*f.Lat, *f.Lng)
}

// observedAt falls back to the receive time for clients that do not stamp their fixes.
func (f fixRequest) observedAt(now time.Time) time.Time {
	if f.ObservedAtMs == 0 {
		return now
	}
	return time.UnixMilli(f.ObservedAtMs)
}

type stageRequest struct {
	Stage string `json:"stage" validate:"required,oneof=requested accepted pickup picked_up in_transit arrived dropoff completed cancelled"`
}

type selectRouteRequest struct {
	Index *int `json:"index" validate:"required,min=0"`
}

type networkRequest struct {
	Available *bool `json:"available" validate:"required"`
}

type tripResponse struct {
	TripID string `json:"trip_id"`
}

type networkResponse struct {
	Available bool `json:"available"`
}

// wsEvent is one server push on the trip websocket.
type wsEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
