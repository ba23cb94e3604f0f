package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/router/controllers"
	_ "github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/router/docs"
	router_helper "github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/router/routerhelper"
	http_server "github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/server"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/justinas/alice"
	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type RateLimit struct {
	Enabled    bool
	RatePerSec float64
	Burst      int
	MaxClients int
}

type API struct {
	log       *zap.Logger
	hub       *controllers.Hub
	profiling bool
}

func NewAPI(log *zap.Logger) *API {
	return &API{log: log}
}

// EnableProfiling serves net/http/pprof under /debug/pprof.
func (api *API) EnableProfiling() *API {
	api.profiling = true
	return api
}

// Handler builds the full middleware chain around the tracking routes and the trip websocket.
func (api *API) Handler(
	log *zap.Logger,
	limit RateLimit,
	trackingService controllers.TrackingService,
	clock clockwork.Clock,
) http.Handler {
	router := httprouter.New()

	corsHandler := cors.New(cors.Options{ //nolint:gocritic // ignore
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, //nolint:mnd // ignore
	})

	group := router_helper.NewRouteGroup(router, "/api")

	trackingRoutes := controllers.New(trackingService, clock, log)
	trackingRoutes.Routes(group)

	api.hub = controllers.NewHub(trackingRoutes, log)
	router.GET("/ws/trips/:trip_id", api.tripWebsocket)

	router.GET("/doc/*any", swaggerHandler)
	if api.profiling {
		router.Handler(http.MethodGet, "/debug/pprof/*item", http.DefaultServeMux)
	}

	mwChain := []alice.Constructor{corsHandler.Handler, EnforceJSONHandler, api.recoverPanic,
		RealIP, Heartbeat("healthz"), Logger(log)}
	if limit.Enabled {
		mwChain = append(mwChain, Limit(limit.RatePerSec, limit.Burst, limit.MaxClients))
	}
	return alice.New(mwChain...).Then(router)
}

//	@title			Driver tracking API
//	@version		1.0
//	@description	Live driver tracking: fix smoothing, route acquisition, snapping and navigation state per trip.

//	@license.name	BSD License
//	@license.url	https://opensource.org/license/bsd-2-clause

// @BasePath	/api
//
// Run serves the API until ctx is cancelled or the listener fails. Open websocket sessions are
// closed on the way out.
func (api *API) Run(
	ctx context.Context,
	config http_server.Config,
	log *zap.Logger,

	limit RateLimit,
	trackingService controllers.TrackingService,
	clock clockwork.Clock,
) error {
	log.Info("Run httprouter API")

	srv := http_server.New(ctx, api.Handler(log, limit, trackingService, clock), config)
	log.Info(fmt.Sprintf("API run on port %d", config.Port))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		api.hub.RemoveAllUser()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Error("HTTP server stopped", zap.Error(err))
		return err

	case <-ctx.Done():
		log.Info("Context canceled, shutting down server")
		// hijacked websocket conns are not tracked by Shutdown
		api.hub.RemoveAllUser()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func swaggerHandler(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	httpSwagger.WrapHandler(res, req)
}
