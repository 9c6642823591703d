package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
// The CLI layers run-scoped flags (boundaries path, dry-run, source type,
// limit) on top of these.
type Config struct {
	LogLevel  string
	LogFormat string

	DatabasePath string
	Locality     string

	// Text-understanding service (OpenAI-compatible).
	AIAPIKey  string
	AIModel   string
	AIBaseURL string
	AITimeout time.Duration

	// Geocoding providers.
	AddressGeocoderURL string
	StreetGeocoderURL  string
	CadastreURL        string
	GeocodeTimeout     time.Duration
	GeocodeCacheSize   int
	GeocodeRetries     int

	// Ingestion policy.
	MaxSourceAgeDays int
	MaxRetryAttempts int
	SlugLength       int
	SlugMaxAttempts  int
	BoundariesPath   string

	// Kafka sink for finalized records (feature-flagged).
	KafkaBrokers   []string
	KafkaSinkTopic string
	KafkaEnabled   bool

	MetricsAddr     string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	aiTimeout, err := parseDuration("AI_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	geocodeTimeout, err := parseDuration("GEOCODE_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	kafkaBrokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(kafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),

		DatabasePath: envOrDefault("DATABASE_PATH", "disruptions.db"),
		Locality:     envOrDefault("LOCALITY", ""),

		AIAPIKey:  os.Getenv("AI_API_KEY"),
		AIModel:   envOrDefault("AI_MODEL", "gpt-4o-mini"),
		AIBaseURL: os.Getenv("AI_BASE_URL"),
		AITimeout: aiTimeout,

		AddressGeocoderURL: envOrDefault("ADDRESS_GEOCODER_URL", "https://nominatim.openstreetmap.org/search"),
		StreetGeocoderURL:  envOrDefault("STREET_GEOCODER_URL", "https://overpass-api.de/api/interpreter"),
		CadastreURL:        os.Getenv("CADASTRE_URL"),
		GeocodeTimeout:     geocodeTimeout,
		GeocodeCacheSize:   parsePositiveInt("GEOCODE_CACHE_SIZE", 1000),
		GeocodeRetries:     parsePositiveInt("GEOCODE_RETRIES", 2),

		MaxSourceAgeDays: parsePositiveInt("MAX_SOURCE_AGE_DAYS", 90),
		MaxRetryAttempts: parsePositiveInt("MAX_RETRY_ATTEMPTS", 5),
		SlugLength:       parsePositiveInt("SLUG_LENGTH", 8),
		SlugMaxAttempts:  parsePositiveInt("SLUG_MAX_ATTEMPTS", 10),
		BoundariesPath:   os.Getenv("BOUNDARIES_PATH"),

		KafkaBrokers:   kafkaBrokers,
		KafkaSinkTopic: envOrDefault("KAFKA_SINK_TOPIC", "finalized-disruptions"),
		KafkaEnabled:   kafkaEnabled,

		MetricsAddr:     envOrDefault("METRICS_ADDR", ""),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.Locality == "" {
		return nil, errors.New("LOCALITY is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.SlugLength < 4 {
		return nil, errors.New("SLUG_LENGTH must be at least 4")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	s := envOrDefault(key, fallback)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
