package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API
// process. Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OSRMEndpoint  string
	RouteCacheTTL time.Duration

	StripeAPIKey   string
	StripeCurrency string

	FCMEndpoint string
	FCMKey      string

	// Fare policy: base fare plus per-km rate, minor currency units.
	BaseFare   int64
	PerKmRate  int64
	Commission float64

	// Fallback routing approximation.
	DetourFactor float64
	AvgSpeedKmh  float64

	SearchRadiusKm float64
	MaxCandidates  int

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "operators_geo",
		KafkaTopic:      "operator-locations",
		RouteCacheTTL:   30 * time.Second,
		StripeCurrency:  "clp",
		BaseFare:        25000,
		PerKmRate:       1350,
		Commission:      0.2,
		DetourFactor:    1.3,
		AvgSpeedKmh:     35,
		SearchRadiusKm:  10,
		MaxCandidates:   8,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.StripeCurrency, "STRIPE_CURRENCY")

	cfg.FCMEndpoint = strings.TrimSpace(os.Getenv("FCM_ENDPOINT"))
	cfg.FCMKey = os.Getenv("FCM_KEY")

	setInt64FromEnv(&cfg.BaseFare, "PRICING_BASE_FARE", &errs)
	setInt64FromEnv(&cfg.PerKmRate, "PRICING_PER_KM_RATE", &errs)
	setFloatFromEnv(&cfg.Commission, "PRICING_COMMISSION", &errs)

	setFloatFromEnv(&cfg.DetourFactor, "ROUTING_DETOUR_FACTOR", &errs)
	setFloatFromEnv(&cfg.AvgSpeedKmh, "ROUTING_AVG_SPEED_KMH", &errs)

	setFloatFromEnv(&cfg.SearchRadiusKm, "DISPATCH_SEARCH_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.MaxCandidates, "DISPATCH_MAX_CANDIDATES", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MaxCandidates <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_CANDIDATES must be > 0"))
	}
	if cfg.Commission < 0 || cfg.Commission >= 1 {
		errs = append(errs, fmt.Errorf("PRICING_COMMISSION must be in [0,1)"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
