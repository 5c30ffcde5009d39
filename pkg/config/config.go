package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL string // MySQL DSN; empty = no MySQL store
	SQLitePath  string // embedded store path; empty = disabled
	Port        string

	// Matching thresholds. Both signals are required for a merge, so these
	// are the two knobs operators actually tune.
	TextThreshold      float64
	DistanceThresholdM float64
	FlagMargin         float64 // near-miss band below TextThreshold routed to review
	NameWeight         float64
	AddressWeight      float64
	CanonicalPolicy    string // most_followers | lowest_id | most_complete

	// Candidate pruning and scoring parallelism.
	CellIndexMinRecords int // full pairwise below this many records
	ScoreParallelism    int // 0 = GOMAXPROCS

	// Engine settings
	WorkerCount int // 0 = use default
	QueueSize   int
	MaxRetries  int
	RetryDelay  time.Duration
	RunTimeout  time.Duration

	// Database performance settings
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime int // minutes
	DBConnMaxIdleTime int // minutes
	DBReadTimeout     time.Duration
	DBWriteTimeout    time.Duration

	// Redis report cache
	RedisAddr     string // empty = cache disabled
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// Geocoding enrichment for records that arrive without coordinates
	GoogleMapsAPIKey string
	GeocodeRPS       float64
	GeocodeBurst     int

	// Assisted review of flagged pairs
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAITemperature float64
	OpenAIMaxTokens   int
	OpenAITimeout     time.Duration

	// Auth
	APIToken      string // empty = mutating endpoints open (dev only)
	OperatorsFile string // optional yaml mapping tokens to operator names

	// Thresholds overlay file (yaml), reloadable at runtime
	ThresholdsFile string

	// Monitoring and logging settings
	LogLevel                    string
	Env                         string // development, staging, production
	AdminPort                   string // metrics + pprof listener
	MetricsEnabled              bool
	MetricsPath                 string
	ProfilingEnabled            bool
	HealthCheckPath             string
	ConfigReloadIntervalSeconds int
}

func Load() *Config {
	textThreshold, _ := strconv.ParseFloat(getEnv("TEXT_THRESHOLD", "0.85"), 64)
	distThreshold, _ := strconv.ParseFloat(getEnv("DISTANCE_THRESHOLD_M", "50"), 64)
	flagMargin, _ := strconv.ParseFloat(getEnv("FLAG_MARGIN", "0.05"), 64)
	nameWeight, _ := strconv.ParseFloat(getEnv("NAME_WEIGHT", "0.6"), 64)
	addressWeight, _ := strconv.ParseFloat(getEnv("ADDRESS_WEIGHT", "0.4"), 64)

	cellMin, _ := strconv.Atoi(getEnv("CELL_INDEX_MIN_RECORDS", "200"))
	scorePar, _ := strconv.Atoi(getEnv("SCORE_PARALLELISM", "0"))

	workerCount, _ := strconv.Atoi(getEnv("WORKER_COUNT", "0")) // 0 = use default
	queueSize, _ := strconv.Atoi(getEnv("QUEUE_SIZE", "64"))
	maxRetries, _ := strconv.Atoi(getEnv("MAX_RETRIES", "3"))
	retryDelay, _ := time.ParseDuration(getEnv("RETRY_DELAY", "2s"))
	runTimeout, _ := time.ParseDuration(getEnv("RUN_TIMEOUT", "5m"))

	// Database performance settings with defaults
	dbMaxOpenConns, _ := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "50"))
	dbMaxIdleConns, _ := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "15"))
	dbConnMaxLifetime, _ := strconv.Atoi(getEnv("DB_CONN_MAX_LIFETIME_MINUTES", "10"))
	dbConnMaxIdleTime, _ := strconv.Atoi(getEnv("DB_CONN_MAX_IDLE_TIME_MINUTES", "5"))
	dbReadTO, _ := time.ParseDuration(getEnv("DB_READ_TIMEOUT", "8s"))
	dbWriteTO, _ := time.ParseDuration(getEnv("DB_WRITE_TIMEOUT", "6s"))

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL, _ := time.ParseDuration(getEnv("CACHE_TTL", "12h"))

	geocodeRPS, _ := strconv.ParseFloat(getEnv("GEOCODE_RPS", "10"), 64)
	geocodeBurst, _ := strconv.Atoi(getEnv("GEOCODE_BURST", "5"))

	openAITemp, _ := strconv.ParseFloat(getEnv("OPENAI_TEMPERATURE", "0.1"), 64)
	openAIMaxTokens, _ := strconv.Atoi(getEnv("OPENAI_MAX_TOKENS", "300"))
	openAIReqTimeoutSec, _ := strconv.Atoi(getEnv("OPENAI_REQUEST_TIMEOUT_SECONDS", "60"))

	// Environment and profiling defaults
	env := strings.ToLower(getEnv("ENV", "development"))
	adminPort := getEnv("ADMIN_PORT", "6060")
	metricsPath := getEnv("METRICS_PATH", "/metrics")

	// Default toggles based on env
	profilingDefault := env == "development" || env == "staging"
	profilingEnabled, _ := strconv.ParseBool(getEnv("PROFILING_ENABLED", strconv.FormatBool(profilingDefault)))
	metricsEnabled, _ := strconv.ParseBool(getEnv("METRICS_ENABLED", "true"))

	reloadIntSec, _ := strconv.Atoi(getEnv("CONFIG_RELOAD_INTERVAL_SECONDS", "2"))

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", ""),
		Port:        getEnv("PORT", "8080"),

		TextThreshold:      textThreshold,
		DistanceThresholdM: distThreshold,
		FlagMargin:         flagMargin,
		NameWeight:         nameWeight,
		AddressWeight:      addressWeight,
		CanonicalPolicy:    strings.ToLower(getEnv("CANONICAL_POLICY", "most_followers")),

		CellIndexMinRecords: cellMin,
		ScoreParallelism:    scorePar,

		WorkerCount: workerCount,
		QueueSize:   queueSize,
		MaxRetries:  maxRetries,
		RetryDelay:  retryDelay,
		RunTimeout:  runTimeout,

		DBMaxOpenConns:    dbMaxOpenConns,
		DBMaxIdleConns:    dbMaxIdleConns,
		DBConnMaxLifetime: dbConnMaxLifetime,
		DBConnMaxIdleTime: dbConnMaxIdleTime,
		DBReadTimeout:     dbReadTO,
		DBWriteTimeout:    dbWriteTO,

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,
		CacheTTL:      cacheTTL,

		GoogleMapsAPIKey: getEnv("GOOGLE_MAPS_API_KEY", ""),
		GeocodeRPS:       geocodeRPS,
		GeocodeBurst:     geocodeBurst,

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAITemperature: openAITemp,
		OpenAIMaxTokens:   openAIMaxTokens,
		OpenAITimeout:     time.Duration(openAIReqTimeoutSec) * time.Second,

		APIToken:      getEnv("API_TOKEN", ""),
		OperatorsFile: getEnv("OPERATORS_FILE", ""),

		ThresholdsFile: getEnv("THRESHOLDS_FILE", ""),

		LogLevel:                    getEnv("LOG_LEVEL", "info"),
		Env:                         env,
		AdminPort:                   adminPort,
		MetricsEnabled:              metricsEnabled,
		MetricsPath:                 metricsPath,
		ProfilingEnabled:            profilingEnabled,
		HealthCheckPath:             getEnv("HEALTH_CHECK_PATH", "/health"),
		ConfigReloadIntervalSeconds: reloadIntSec,
	}

	// Thresholds file wins over env so operators can tune matching without
	// redeploying. Missing file is fine; a broken one is not silently ignored.
	if cfg.ThresholdsFile != "" {
		if err := cfg.ApplyFile(cfg.ThresholdsFile); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", cfg.ThresholdsFile).Msg("thresholds file not applied")
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
