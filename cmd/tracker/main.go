package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/directions"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/engine"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/http"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/usecases"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/logger"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/routecache"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/transport/kafka"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/util"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "path to a config file (default ./data/config.yaml)")
	envFile    = flag.String("env", ".env", "dotenv file loaded before the config")
)

func main() {
	flag.Parse()
	_ = godotenv.Load(*envFile)

	if err := util.ReadConfig(*configPath); err != nil {
		panic(err)
	}
	logger, err := logger.New()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync fails on some platforms

	store, err := newRouteStore()
	if err != nil {
		logger.Fatal("failed to open route cache", zap.Error(err))
	}
	defer store.Close()

	clock := clockwork.NewRealClock()
	cache := routecache.New(store, routecache.Config{FreshFor: viper.GetDuration("ROUTE_CACHE_FRESH_FOR")}, clock, logger)

	dirCfg := directions.DefaultConfig()
	dirCfg.BaseURL = viper.GetString("DIRECTIONS_BASE_URL")
	dirCfg.Profile = viper.GetString("DIRECTIONS_PROFILE")
	dirCfg.Timeout = viper.GetDuration("DIRECTIONS_TIMEOUT")
	dirCfg.RatePerSec = viper.GetFloat64("DIRECTIONS_RATE_PER_SEC")
	dirCfg.Burst = viper.GetInt("DIRECTIONS_BURST")
	provider := directions.NewOSRMClient(dirCfg, logger)

	engineCfg := engine.DefaultConfig()
	engineCfg.Acquirer.Throttle = viper.GetDuration("ROUTE_THROTTLE")
	engineCfg.Acquirer.FetchTimeout = viper.GetDuration("ROUTE_FETCH_TIMEOUT")
	engineCfg.RefreshInterval = viper.GetDuration("ROUTE_REFRESH_INTERVAL")
	engineCfg.RerouteInterval = viper.GetDuration("ROUTE_REROUTE_INTERVAL")
	engineCfg.Matcher.ToleranceMeters = viper.GetFloat64("SNAP_TOLERANCE_METERS")
	engineCfg.Matcher.SnapAlternatives = viper.GetBool("SNAP_ALTERNATIVES")

	trackingService := usecases.NewTrackingService(logger, usecases.NewPipelineFactory(engine.Deps{
		Provider: provider,
		Cache:    cache,
		Clock:    clock,
	}, engineCfg, logger))
	defer trackingService.Close()

	ctx, cleanup, err := NewContext()
	if err != nil {
		panic(err)
	}

	api := http.NewServer(logger)
	api.Use(ctx, logger, viper.GetBool("API_RATE_LIMIT"), trackingService, clock)

	if viper.GetBool("KAFKA_ENABLED") {
		consumer := kafka.NewConsumer(kafka.Config{
			Brokers: viper.GetStringSlice("KAFKA_BROKERS"),
			Topic:   viper.GetString("KAFKA_TOPIC"),
			GroupID: viper.GetString("KAFKA_GROUP_ID"),
			Workers: viper.GetInt("KAFKA_WORKERS"),
		}, trackingService, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("kafka consumer stopped", zap.Error(err))
			}
		}()
	}

	signal := http.GracefulShutdown()
	logger.Info("Driver Tracker Server Stopping", zap.String("signal", signal.String()))
	cleanup()

	if err := api.Wait(); err != nil {
		logger.Error("API stopped with error", zap.Error(err))
	}
	logger.Info("Driver Tracker Server Stopped")
}

func newRouteStore() (routecache.Store, error) {
	switch driver := viper.GetString("ROUTE_CACHE_DRIVER"); driver {
	case "sqlite":
		return routecache.NewSQLiteStore(viper.GetString("ROUTE_CACHE_PATH"))
	case "memory":
		return routecache.NewLRUStore(viper.GetInt("ROUTE_CACHE_MEMORY_SIZE"))
	default:
		return nil, fmt.Errorf("unknown ROUTE_CACHE_DRIVER %q", driver)
	}
}

func NewContext() (context.Context, func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	cb := func() {
		cancel()
	}

	return ctx, cb, nil
}
