package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/todahub/paradahan/internal/domain/geo"
	"github.com/todahub/paradahan/internal/domain/ride"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Log      LogConfig
	Zone     ZoneConfig
	Geofence GeofenceConfig
	Queue    QueueConfig
	Estimate EstimateConfig
	Fares    FareConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

type RedisConfig struct {
	Host        string
	Port        string
	Password    string
	DB          int
	MaxRetries  int
	PoolSize    int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

type NewRelicConfig struct {
	LicenseKey string
	AppName    string
	Enabled    bool
}

type LogConfig struct {
	Level  string
	Format string
}

type ZoneConfig struct {
	Name    string
	Polygon []geo.Point
}

type GeofenceConfig struct {
	// DebounceSamples is how many consecutive opposite classifications
	// are required before an Entered/Exited event fires.
	DebounceSamples int
}

type QueueConfig struct {
	GracePeriod  time.Duration
	WriteRetries int
	RetryBackoff time.Duration
}

type EstimateConfig struct {
	InitialAvgMinutes float64
	CountdownTick     time.Duration
}

type FareConfig struct {
	DefaultFare float64
	Rates       map[string]float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	polygon, err := parsePolygon(getEnv("ZONE_POLYGON",
		"14.5995,120.9842;14.6005,120.9842;14.6005,120.9858;14.5995,120.9858"))
	if err != nil {
		return nil, fmt.Errorf("invalid ZONE_POLYGON: %w", err)
	}

	rates, err := parseFareTable(getEnv("FARE_TABLE", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid FARE_TABLE: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "paradahan"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MaxIdle:  getEnvAsInt("DB_MAX_IDLE_CONNECTIONS", 5),
		},
		Redis: RedisConfig{
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			MaxRetries:  getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 50),
			DialTimeout: 5 * time.Second,
			ReadTimeout: 3 * time.Second,
		},
		NewRelic: NewRelicConfig{
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			AppName:    getEnv("NEW_RELIC_APP_NAME", "Paradahan-Queue"),
			Enabled:    getEnvAsBool("NEW_RELIC_ENABLED", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Zone: ZoneConfig{
			Name:    getEnv("ZONE_NAME", "paradahan"),
			Polygon: polygon,
		},
		Geofence: GeofenceConfig{
			DebounceSamples: getEnvAsInt("GEOFENCE_DEBOUNCE_SAMPLES", 3),
		},
		Queue: QueueConfig{
			GracePeriod:  time.Duration(getEnvAsInt("QUEUE_GRACE_PERIOD_SECONDS", 60)) * time.Second,
			WriteRetries: getEnvAsInt("QUEUE_WRITE_RETRIES", 3),
			RetryBackoff: time.Duration(getEnvAsInt("QUEUE_RETRY_BACKOFF_MS", 200)) * time.Millisecond,
		},
		Estimate: EstimateConfig{
			InitialAvgMinutes: getEnvAsFloat64("ESTIMATE_AVG_MINUTES_PER_DRIVER", 5.0),
			CountdownTick:     time.Second,
		},
		Fares: FareConfig{
			DefaultFare: getEnvAsFloat64("FARE_DEFAULT", 25.0),
			Rates:       rates,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}
	if len(c.Zone.Polygon) < 3 {
		return fmt.Errorf("ZONE_POLYGON needs at least 3 vertices")
	}
	if c.Geofence.DebounceSamples < 1 {
		return fmt.Errorf("GEOFENCE_DEBOUNCE_SAMPLES must be >= 1")
	}
	if c.Queue.GracePeriod <= 0 {
		return fmt.Errorf("QUEUE_GRACE_PERIOD_SECONDS must be positive")
	}
	if c.Estimate.InitialAvgMinutes < 0 {
		return fmt.Errorf("ESTIMATE_AVG_MINUTES_PER_DRIVER must not be negative")
	}
	return nil
}

// FareTable builds the domain fare table from config.
func (c *Config) FareTable() ride.FareTable {
	return ride.FareTable{Rates: c.Fares.Rates, DefaultFare: c.Fares.DefaultFare}
}

// parsePolygon parses "lat,lng;lat,lng;..." into zone vertices.
func parsePolygon(raw string) ([]geo.Point, error) {
	parts := strings.Split(raw, ";")
	points := make([]geo.Point, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		coords := strings.Split(part, ",")
		if len(coords) != 2 {
			return nil, fmt.Errorf("vertex %q must be lat,lng", part)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude in %q: %w", part, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude in %q: %w", part, err)
		}
		points = append(points, geo.Point{Latitude: lat, Longitude: lng})
	}
	return points, nil
}

// parseFareTable parses "destination=fare,destination=fare".
func parseFareTable(raw string) (map[string]float64, error) {
	rates := make(map[string]float64)
	if strings.TrimSpace(raw) == "" {
		return rates, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("fare entry %q must be destination=fare", pair)
		}
		fare, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad fare in %q: %w", pair, err)
		}
		rates[strings.TrimSpace(kv[0])] = fare
	}
	return rates, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
