package http

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	http_router "github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/router"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/router/controllers"
	http_server "github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/server"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	Log *zap.Logger
	g   *errgroup.Group
}

func NewServer(log *zap.Logger) *Server {
	return &Server{Log: log}
}

// Use starts the API in the background. Wait returns once it has stopped.
func (s *Server) Use(
	ctx context.Context,
	log *zap.Logger,

	useRateLimit bool,
	trackingService controllers.TrackingService,
	clock clockwork.Clock,
) (*Server, error) {
	config := http_server.Config{
		Port:    viper.GetInt("API_PORT"),
		Timeout: viper.GetDuration("API_TIMEOUT"),
	}
	limit := http_router.RateLimit{
		Enabled:    useRateLimit,
		RatePerSec: viper.GetFloat64("API_RATE_PER_SEC"),
		Burst:      viper.GetInt("API_RATE_BURST"),
		MaxClients: viper.GetInt("API_RATE_MAX_CLIENTS"),
	}

	server := http_router.NewAPI(log)
	if viper.GetBool("API_PPROF") {
		server.EnableProfiling()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, config, log, limit, trackingService, clock)
	})
	s.g = g

	return s, nil
}

func (s *Server) Wait() error {
	if s.g == nil {
		return nil
	}
	return s.g.Wait()
}

// GracefulShutdown blocks until SIGINT or SIGTERM.
func GracefulShutdown() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	return <-quit
}
