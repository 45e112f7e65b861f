package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Bus adapter selection, fixed at process start.
const (
	BusAdapterInProc = "inproc"
	BusAdapterKafka  = "kafka"
	BusAdapterOutbox = "outbox"
)

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	EventBusAdapter  string
	EventRetryMax    int
	EventRetryBaseMS int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTLSec   int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int
	AsynqEnabled     bool

	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxMaxAttempts int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	OptimizerURL       string
	OptimizerTimeoutMS int
	OptimizerRetryMax  int
	OptimizerEnabled   bool

	AuditEnabled   bool
	RateLimitRPS   float64
	RateLimitBurst int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

// Load reads configuration from the environment, accumulating problems
// instead of failing fast so a binary can report every misconfiguration at
// once through its readiness endpoint.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	problems := make([]Problem, 0, 4)

	cfg := Config{
		Env:              strings.TrimSpace(os.Getenv("ENV")),
		ServiceName:      serviceNameDefault,
		HTTPPort:         httpPortDefault,
		LogLevel:         "info",
		RequestTimeoutMS: 30000,
		OIDCIssuer:       strings.TrimSpace(os.Getenv("OIDC_ISSUER")),
		OIDCAudience:     strings.TrimSpace(os.Getenv("OIDC_AUDIENCE")),
		OIDCJWKSURL:      strings.TrimSpace(os.Getenv("OIDC_JWKS_URL")),
		JWKSTTLSeconds:   300,
		JWTClockSkewSec:  60,
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:       10,
		DBMinConns:       1,
		DBConnMaxIdleSec: 300,
		DBConnMaxLifeSec: 1800,
		EventBusAdapter:  BusAdapterInProc,
		EventRetryMax:    3,
		EventRetryBaseMS: 50,
		KafkaBrokers:     parseCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaClientID:    strings.TrimSpace(os.Getenv("KAFKA_CLIENT_ID")),
		KafkaGroupID:     strings.TrimSpace(os.Getenv("KAFKA_CONSUMER_GROUP")),
		KafkaRetryMax:    5,
		KafkaWriteMS:     5000,
		RedisAddr:        strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		CacheTTLSec:      30,
		AsynqRedisAddr:   strings.TrimSpace(os.Getenv("ASYNQ_REDIS_ADDR")),
		AsynqRedisPass:   os.Getenv("ASYNQ_REDIS_PASSWORD"),
		AsynqQueue:       "default",
		AsynqConcurrency: 10,

		OutboxScanSec:     5,
		OutboxBatchSize:   50,
		OutboxMaxAttempts: 20,

		InfluxURL:       strings.TrimSpace(os.Getenv("INFLUX_URL")),
		InfluxToken:     strings.TrimSpace(os.Getenv("INFLUX_TOKEN")),
		InfluxOrg:       strings.TrimSpace(os.Getenv("INFLUX_ORG")),
		InfluxBucket:    strings.TrimSpace(os.Getenv("INFLUX_BUCKET")),
		InfluxTimeoutMS: 5000,

		OptimizerURL:       strings.TrimSpace(os.Getenv("OPTIMIZER_URL")),
		OptimizerTimeoutMS: 5000,
		OptimizerRetryMax:  2,

		RateLimitRPS:    10,
		RateLimitBurst:  20,
		OtelEndpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OtelInsecure:    true,
		OtelSampleRatio: 1.0,
	}

	applyString(&cfg.ServiceName, "SERVICE_NAME")
	applyString(&cfg.LogLevel, "LOG_LEVEL")
	applyString(&cfg.EventBusAdapter, "EVENT_BUS_ADAPTER")
	applyString(&cfg.AsynqQueue, "ASYNQ_QUEUE")
	applyInt(&cfg.HTTPPort, "HTTP_PORT", &problems)
	applyInt(&cfg.RequestTimeoutMS, "REQUEST_TIMEOUT_MS", &problems)
	applyInt(&cfg.JWKSTTLSeconds, "JWKS_CACHE_TTL_SECONDS", &problems)
	applyInt(&cfg.JWTClockSkewSec, "JWT_CLOCK_SKEW_SECONDS", &problems)
	applyInt(&cfg.DBMaxConns, "DB_MAX_CONNS", &problems)
	applyInt(&cfg.DBMinConns, "DB_MIN_CONNS", &problems)
	applyInt(&cfg.DBConnMaxIdleSec, "DB_CONN_MAX_IDLE_SECONDS", &problems)
	applyInt(&cfg.DBConnMaxLifeSec, "DB_CONN_MAX_LIFE_SECONDS", &problems)
	applyInt(&cfg.EventRetryMax, "EVENT_HANDLER_RETRY_MAX", &problems)
	applyInt(&cfg.EventRetryBaseMS, "EVENT_HANDLER_RETRY_BASE_MS", &problems)
	applyInt(&cfg.KafkaRetryMax, "KAFKA_RETRY_MAX", &problems)
	applyInt(&cfg.KafkaWriteMS, "KAFKA_WRITE_TIMEOUT_MS", &problems)
	applyInt(&cfg.RedisDB, "REDIS_DB", &problems)
	applyInt(&cfg.CacheTTLSec, "CACHE_TTL_SECONDS", &problems)
	applyInt(&cfg.AsynqRedisDB, "ASYNQ_REDIS_DB", &problems)
	applyInt(&cfg.AsynqConcurrency, "ASYNQ_CONCURRENCY", &problems)
	applyInt(&cfg.OutboxScanSec, "OUTBOX_SCAN_SECONDS", &problems)
	applyInt(&cfg.OutboxBatchSize, "OUTBOX_BATCH_SIZE", &problems)
	applyInt(&cfg.OutboxMaxAttempts, "OUTBOX_MAX_ATTEMPTS", &problems)
	applyInt(&cfg.InfluxTimeoutMS, "INFLUX_TIMEOUT_MS", &problems)
	applyInt(&cfg.OptimizerTimeoutMS, "OPTIMIZER_TIMEOUT_MS", &problems)
	applyInt(&cfg.OptimizerRetryMax, "OPTIMIZER_RETRY_MAX", &problems)
	applyInt(&cfg.RateLimitBurst, "RATE_LIMIT_BURST", &problems)
	applyBool(&cfg.AsynqEnabled, "ASYNQ_ENABLED", &problems)
	applyBool(&cfg.OptimizerEnabled, "OPTIMIZER_ENABLED", &problems)
	applyBool(&cfg.AuditEnabled, "AUDIT_ENABLED", &problems)
	applyBool(&cfg.OtelEnabled, "OTEL_ENABLED", &problems)
	applyBool(&cfg.OtelInsecure, "OTEL_INSECURE", &problems)
	applyFloat(&cfg.RateLimitRPS, "RATE_LIMIT_RPS", &problems)
	applyFloat(&cfg.OtelSampleRatio, "OTEL_SAMPLE_RATIO", &problems)

	if cfg.Env == "" {
		cfg.Env = "dev"
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond

	switch strings.ToLower(strings.TrimSpace(cfg.EventBusAdapter)) {
	case BusAdapterInProc, "":
		cfg.EventBusAdapter = BusAdapterInProc
	case BusAdapterKafka:
		cfg.EventBusAdapter = BusAdapterKafka
	case BusAdapterOutbox:
		cfg.EventBusAdapter = BusAdapterOutbox
	default:
		problems = append(problems, Problem{Field: "EVENT_BUS_ADAPTER", Message: "EVENT_BUS_ADAPTER must be inproc, kafka or outbox"})
		cfg.EventBusAdapter = BusAdapterInProc
	}
	if cfg.EventBusAdapter == BusAdapterKafka && len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required for the kafka adapter"})
	}

	if cfg.OIDCIssuer != "" && cfg.OIDCJWKSURL == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be between 0 and DB_MAX_CONNS"})
		cfg.DBMinConns = 1
	}
	if cfg.EventRetryMax <= 0 {
		problems = append(problems, Problem{Field: "EVENT_HANDLER_RETRY_MAX", Message: "EVENT_HANDLER_RETRY_MAX must be > 0"})
		cfg.EventRetryMax = 3
	}
	if cfg.OutboxBatchSize <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_BATCH_SIZE", Message: "OUTBOX_BATCH_SIZE must be > 0"})
		cfg.OutboxBatchSize = 50
	}
	if cfg.OutboxMaxAttempts <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_MAX_ATTEMPTS", Message: "OUTBOX_MAX_ATTEMPTS must be > 0"})
		cfg.OutboxMaxAttempts = 20
	}
	if cfg.OptimizerEnabled && cfg.OptimizerURL == "" {
		problems = append(problems, Problem{Field: "OPTIMIZER_URL", Message: "OPTIMIZER_URL is required when OPTIMIZER_ENABLED"})
		cfg.OptimizerEnabled = false
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be in [0,1]"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func applyString(dest *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dest = v
	}
}

func applyInt(dest *int, key string, problems *[]Problem) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return
	}
	*dest = v
}

func applyBool(dest *bool, key string, problems *[]Problem) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return
	}
	switch raw {
	case "1", "true", "yes", "on":
		*dest = true
	case "0", "false", "no", "off":
		*dest = false
	default:
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
	}
}

func applyFloat(dest *float64, key string, problems *[]Problem) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
		return
	}
	*dest = v
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
