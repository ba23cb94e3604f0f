package util

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// ReadConfig loads config.yaml from ./data/ (or configPath when set). A missing file is not an
// error: defaults and environment variables still apply.
func ReadConfig(configPath string) error {
	SetDefaults()
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./data/")
	}

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("fatal error config file: %w", err)
	}
	return nil
}

func SetDefaults() {
	viper.SetDefault("API_PORT", 6060)
	viper.SetDefault("API_TIMEOUT", "30s")
	viper.SetDefault("HTTP_SERVER_READ_TIMEOUT", "15s")
	viper.SetDefault("HTTP_SERVER_WRITE_TIMEOUT", "15s")
	viper.SetDefault("HTTP_SERVER_IDLE_TIMEOUT", "60s")
	viper.SetDefault("HTTP_SERVER_READ_HEADER_TIMEOUT", "5s")
	viper.SetDefault("API_RATE_LIMIT", false)
	viper.SetDefault("API_PPROF", false)
	viper.SetDefault("API_RATE_PER_SEC", 20.0)
	viper.SetDefault("API_RATE_BURST", 40)
	viper.SetDefault("API_RATE_MAX_CLIENTS", 10000)

	viper.SetDefault("DIRECTIONS_BASE_URL", "https://router.project-osrm.org")
	viper.SetDefault("DIRECTIONS_PROFILE", "driving")
	viper.SetDefault("DIRECTIONS_TIMEOUT", "10s")
	viper.SetDefault("DIRECTIONS_RATE_PER_SEC", 2.0)
	viper.SetDefault("DIRECTIONS_BURST", 4)

	viper.SetDefault("ROUTE_CACHE_DRIVER", "sqlite")
	viper.SetDefault("ROUTE_CACHE_PATH", "./data/route_cache.db")
	viper.SetDefault("ROUTE_CACHE_MEMORY_SIZE", 1024)
	viper.SetDefault("ROUTE_CACHE_FRESH_FOR", "5m")

	viper.SetDefault("ROUTE_THROTTLE", "15s")
	viper.SetDefault("ROUTE_REFRESH_INTERVAL", "60s")
	viper.SetDefault("ROUTE_REROUTE_INTERVAL", "15s")
	viper.SetDefault("ROUTE_FETCH_TIMEOUT", "20s")
	viper.SetDefault("SNAP_TOLERANCE_METERS", 35.0)
	viper.SetDefault("SNAP_ALTERNATIVES", true)

	viper.SetDefault("KAFKA_ENABLED", false)
	viper.SetDefault("KAFKA_BROKERS", []string{"localhost:9092"})
	viper.SetDefault("KAFKA_TOPIC", "driver-fixes")
	viper.SetDefault("KAFKA_GROUP_ID", "driver-tracker")
	viper.SetDefault("KAFKA_WORKERS", 8)

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_DEVELOPMENT", false)
}
