package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
	Risk          RiskPolicy
	RateLimit     RateLimitConfig
	Alerts        AlertsConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	AlertIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type BucketingConfig struct {
	EventBuckets   int
	ProfileBuckets int
}

// RiskPolicy holds the tunable constants of the evaluation engine. Thresholds
// and weights belong together: a score is the sum of the triggered weights and
// the level cut-offs interpret that sum. Tests inject boundary values here.
type RiskPolicy struct {
	Window             time.Duration // trailing window for failure counts
	EmailFailThreshold int           // failures per email to flag brute force
	IPFailThreshold    int           // failures per IP to flag excessive attempts
	LockDuration       time.Duration // account lock once the email rule trips
	FailureWeight      int
	EmailBruteWeight   int
	IPBruteWeight      int
	HighScore          int // score >= HighScore   -> High
	MediumScore        int // score >= MediumScore -> Medium
}

type RateLimitConfig struct {
	Backend     string // "memory" or "redis"
	Window      time.Duration
	MaxRequests int
}

type AlertsConfig struct {
	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string
	EmailTo      string
}

// LoadConfig reads configuration from the environment. A .env file is loaded
// first when present so local runs match the container setup.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			AutoCertDir:  getEnv("SERVER_AUTO_CERT_DIR", "/var/lib/soc-monitor/autocert"),
			Domain:       getEnv("SERVER_DOMAIN", ""),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", "localhost:9042"),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "soc_monitor"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvList("KAFKA_BROKERS", "localhost:9092"),
			AlertTopic: getEnv("KAFKA_ALERT_TOPIC", "security-alerts"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			AlertIndex: getEnv("ELASTICSEARCH_ALERT_INDEX", "security-alerts"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "soc_monitor"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "us-east-1"),
		},
		Bucketing: BucketingConfig{
			EventBuckets:   getEnvInt("EVENT_BUCKETS", 100),
			ProfileBuckets: getEnvInt("PROFILE_BUCKETS", 100),
		},
		Risk: RiskPolicy{
			Window:             getEnvDuration("RISK_WINDOW", 5*time.Minute),
			EmailFailThreshold: getEnvInt("RISK_EMAIL_FAIL_THRESHOLD", 5),
			IPFailThreshold:    getEnvInt("RISK_IP_FAIL_THRESHOLD", 10),
			LockDuration:       getEnvDuration("RISK_LOCK_DURATION", 10*time.Minute),
			FailureWeight:      getEnvInt("RISK_FAILURE_WEIGHT", 10),
			EmailBruteWeight:   getEnvInt("RISK_EMAIL_BRUTE_WEIGHT", 80),
			IPBruteWeight:      getEnvInt("RISK_IP_BRUTE_WEIGHT", 70),
			HighScore:          getEnvInt("RISK_HIGH_SCORE", 70),
			MediumScore:        getEnvInt("RISK_MEDIUM_SCORE", 35),
		},
		RateLimit: RateLimitConfig{
			Backend:     getEnv("RATE_LIMIT_BACKEND", "memory"),
			Window:      getEnvDuration("RATE_LIMIT_WINDOW", 120*time.Second),
			MaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 10),
		},
		Alerts: AlertsConfig{
			SMTPAddr:     getEnv("ALERT_SMTP_ADDR", "localhost:587"),
			SMTPUsername: getEnv("ALERT_SMTP_USERNAME", ""),
			SMTPPassword: getEnv("ALERT_SMTP_PASSWORD", ""),
			EmailFrom:    getEnv("ALERT_EMAIL_FROM", "soc@localhost"),
			EmailTo:      getEnv("ALERT_EMAIL_TO", ""),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
