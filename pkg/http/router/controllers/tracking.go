package controllers

import (
	"net/http"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	helper "github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/router/routerhelper"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

type trackingAPI struct {
	svc      TrackingService
	validate *requestValidator
	clock    clockwork.Clock
	log      *zap.Logger
}

func New(svc TrackingService, clock clockwork.Clock, log *zap.Logger) *trackingAPI {
	return &trackingAPI{
		svc:      svc,
		validate: newRequestValidator(),
		clock:    clock,
		log:      log,
	}
}

func (api *trackingAPI) Routes(group *helper.RouteGroup) {
	group.PUT("/trips/:trip_id", api.setTrip)
	group.DELETE("/trips/:trip_id", api.endTrip)
	group.POST("/trips/:trip_id/fixes", api.ingestFix)
	group.PUT("/trips/:trip_id/stage", api.setStage)
	group.POST("/trips/:trip_id/routes/select", api.selectRoute)
	group.GET("/trips/:trip_id/navigation", api.navigation)
	group.PUT("/network", api.setNetwork)
}

func (api *trackingAPI) setTrip(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var request setTripRequest
	if err := readJSON(w, r, &request); err != nil {
		api.BadRequestResponse(w, r, err)
		return
	}
	if err := api.validate.Struct(request); err != nil {
		api.BadRequestResponse(w, r, err)
		return
	}

	tripID := p.ByName("trip_id")
	err := api.svc.SetTrip(tripID, request.Pickup.toCoordinate(), request.Destination.toCoordinate(),
		datastructure.TripStage(request.Stage))
	if err != nil {
		api.getStatusCode(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"data": tripResponse{TripID: tripID}}, nil); err != nil {
		api.ServerErrorResponse(w, r, err)
	}
}

func (api *trackingAPI) ingestFix(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var request fixRequest
	if err := readJSON(w, r, &request); err != nil {
		api.BadRequestResponse(w, r, err)
		return
	}
	if err := api.validate.Struct(request); err != nil {
		api.BadRequestResponse(w, r, err)
		return
	}

	api.svc.IngestFix(p.ByName("trip_id"), request.point(), request.observedAt(api.clock.Now()))
	w.WriteHeader(http.StatusAccepted)
}

func (api *trackingAPI) setStage(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var request stageRequest
	if err := readJSON(w, r, &request); err != nil {
		api.BadRequestResponse(w, r, err)
		return
	}
	if err := api.validate.Struct(request); err != nil {
		api.BadRequestResponse(w, r, err)
		return
	}

	if err := api.svc.SetStage(p.ByName("trip_id"), datastructure.TripStage(request.Stage)); err != nil {
		api.getStatusCode(w, r, err)
		return
	}
	api.writeSnapshot(w, r, p.ByName("trip_id"))
}

func (api *trackingAPI) selectRoute(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var request selectRouteRequest
	if err := readJSON(w, r, &request); err != nil {
		api.BadRequestResponse(w, r, err)
		return
	}
	if err := api.validate.Struct(request); err != nil {
		api.BadRequestResponse(w, r, err)
		return
	}

	if err := api.svc.SelectRoute(p.ByName("trip_id"), *request.Index); err != nil {
		api.getStatusCode(w, r, err)
		return
	}
	api.writeSnapshot(w, r, p.ByName("trip_id"))
}

func (api *trackingAPI) navigation(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	api.writeSnapshot(w, r, p.ByName("trip_id"))
}

func (api *trackingAPI) writeSnapshot(w http.ResponseWriter, r *http.Request, tripID string) {
	snapshot, err := api.svc.Snapshot(tripID)
	if err != nil {
		api.getStatusCode(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, envelope{"data": snapshot}, nil); err != nil {
		api.ServerErrorResponse(w, r, err)
	}
}

func (api *trackingAPI) endTrip(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if err := api.svc.EndTrip(p.ByName("trip_id")); err != nil {
		api.getStatusCode(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *trackingAPI) setNetwork(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var request networkRequest
	if err := readJSON(w, r, &request); err != nil {
		api.BadRequestResponse(w, r, err)
		return
	}
	if err := api.validate.Struct(request); err != nil {
		api.BadRequestResponse(w, r, err)
		return
	}

	api.svc.SetNetworkAvailable(*request.Available)
	if err := writeJSON(w, http.StatusOK, envelope{"data": networkResponse{Available: *request.Available}}, nil); err != nil {
		api.ServerErrorResponse(w, r, err)
	}
}

// ingestWSFix handles one client frame of the trip websocket. It returns the error frame to send
// back, or nil.
func (api *trackingAPI) ingestWSFix(tripID string, request fixRequest) []byte {
	if err := api.validate.Struct(request); err != nil {
		return errorPayload(http.StatusBadRequest, err.Error())
	}
	api.svc.IngestFix(tripID, request.point(), request.observedAt(api.clock.Now()))
	return nil
}
