package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all the configuration for the application.
type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"production"`
	HTTPServer `yaml:"http_server"`
	Database   `yaml:"database"`
	Cache      `yaml:"cache"`
	Quota      `yaml:"quota"`
	Allocator  `yaml:"allocator"`
	Links      `yaml:"links"`
	Analytics  `yaml:"analytics"`
	NATS       `yaml:"nats"`
	Geo        `yaml:"geo"`
	Enrichment `yaml:"enrichment"`
	Reaper     `yaml:"reaper"`
	Auth       `yaml:"auth"`
}

// HTTPServer holds HTTP listener settings.
type HTTPServer struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	BaseURL         string        `yaml:"base_url" env:"BASE_URL" env-default:"http://localhost:8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"30s"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
}

// Database holds relational store settings. Driver is "postgres" or "sqlite".
type Database struct {
	Driver          string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	Host            string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port            int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User            string `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password        string `yaml:"password" env:"DB_PASSWORD" env-default:"postgres"`
	DBName          string `yaml:"dbname" env:"DB_NAME" env-default:"shortlink"`
	SSLMode         string `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
	Timezone        string `yaml:"timezone" env:"DB_TIMEZONE" env-default:"UTC"`
	SQLitePath      string `yaml:"sqlite_path" env:"DB_SQLITE_PATH" env-default:"shortlink.db"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"50"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"1h"`
	AutoMigrate     bool   `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"true"`
	LogQueries      bool   `yaml:"log_queries" env:"DB_LOG_QUERIES" env-default:"false"`
}

// Cache selects the resolver cache back-end. Backend is "redis" or "memory".
type Cache struct {
	Backend         string        `yaml:"backend" env:"CACHE_BACKEND" env-default:"redis"`
	RedisAddr       string        `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword   string        `yaml:"redis_password" env:"REDIS_PASSWORD" env-default:""`
	RedisDB         int           `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	TTLCeiling      time.Duration `yaml:"ttl_ceiling" env:"CACHE_TTL_CEILING" env-default:"1h"`
	CacheUnbounded  bool          `yaml:"cache_unbounded" env:"CACHE_UNBOUNDED" env-default:"false"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CACHE_CLEANUP_INTERVAL" env-default:"10m"`
}

// Quota holds per-tier active link ceilings. Negative means unbounded.
type Quota struct {
	FreeMaxLinks    int64 `yaml:"free_max_links" env:"QUOTA_FREE_MAX_LINKS" env-default:"10"`
	PremiumMaxLinks int64 `yaml:"premium_max_links" env:"QUOTA_PREMIUM_MAX_LINKS" env-default:"-1"`
}

// Allocator holds short code generation settings.
type Allocator struct {
	CodeLength     int `yaml:"code_length" env:"CODE_LENGTH" env-default:"6"`
	MaxAttempts    int `yaml:"max_attempts" env:"CODE_MAX_ATTEMPTS" env-default:"10"`
	AliasMinLength int `yaml:"alias_min_length" env:"ALIAS_MIN_LENGTH" env-default:"3"`
	AliasMaxLength int `yaml:"alias_max_length" env:"ALIAS_MAX_LENGTH" env-default:"50"`
}

// Links holds link lifecycle settings.
type Links struct {
	// DefaultExpiry applies when a creation request has no expiry. Zero disables it.
	DefaultExpiry time.Duration `yaml:"default_expiry" env:"LINK_DEFAULT_EXPIRY" env-default:"4320h"`
	AllowPrivate  bool          `yaml:"allow_private_hosts" env:"LINK_ALLOW_PRIVATE_HOSTS" env-default:"false"`
}

// Analytics holds click dispatcher settings. Transport is "local" or "jetstream".
type Analytics struct {
	Transport       string        `yaml:"transport" env:"ANALYTICS_TRANSPORT" env-default:"local"`
	UARegexesPath   string        `yaml:"ua_regexes_path" env:"UA_REGEXES_PATH" env-default:""`
	WorkerCount     int           `yaml:"worker_count" env:"ANALYTICS_WORKERS" env-default:"3"`
	BufferSize      int           `yaml:"buffer_size" env:"ANALYTICS_BUFFER_SIZE" env-default:"1000"`
	RetryAttempts   int           `yaml:"retry_attempts" env:"ANALYTICS_RETRY_ATTEMPTS" env-default:"3"`
	RetryDelay      time.Duration `yaml:"retry_delay" env:"ANALYTICS_RETRY_DELAY" env-default:"1s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"ANALYTICS_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

// NATS holds JetStream connection settings used by the jetstream transport.
type NATS struct {
	URL        string        `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
	Stream     string        `yaml:"stream" env:"NATS_STREAM" env-default:"CLICKS"`
	Subject    string        `yaml:"subject" env:"NATS_SUBJECT" env-default:"clicks.events"`
	Durable    string        `yaml:"durable" env:"NATS_DURABLE" env-default:"click-recorder"`
	AckWait    time.Duration `yaml:"ack_wait" env:"NATS_ACK_WAIT" env-default:"30s"`
	MaxDeliver int           `yaml:"max_deliver" env:"NATS_MAX_DELIVER" env-default:"10"`

	PublishAttempts   int           `yaml:"publish_attempts" env:"NATS_PUBLISH_ATTEMPTS" env-default:"3"`
	PublishRetryDelay time.Duration `yaml:"publish_retry_delay" env:"NATS_PUBLISH_RETRY_DELAY" env-default:"200ms"`
}

// Geo points at an optional MaxMind City database.
type Geo struct {
	DatabasePath string `yaml:"database_path" env:"GEOIP_DATABASE_PATH" env-default:""`
}

// Enrichment holds preview service settings.
type Enrichment struct {
	Enabled        bool          `yaml:"enabled" env:"ENRICHMENT_ENABLED" env-default:"true"`
	PreviewURL     string        `yaml:"preview_url" env:"PREVIEW_SERVICE_URL" env-default:"http://preview-service:8001/extract/"`
	Timeout        time.Duration `yaml:"timeout" env:"ENRICHMENT_TIMEOUT" env-default:"10s"`
	MaxAttempts    int           `yaml:"max_attempts" env:"ENRICHMENT_MAX_ATTEMPTS" env-default:"4"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"ENRICHMENT_INITIAL_BACKOFF" env-default:"500ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"ENRICHMENT_MAX_BACKOFF" env-default:"10s"`
	WorkerCount    int           `yaml:"worker_count" env:"ENRICHMENT_WORKERS" env-default:"2"`
	BufferSize     int           `yaml:"buffer_size" env:"ENRICHMENT_BUFFER_SIZE" env-default:"256"`
}

// Reaper holds the expiry sweep schedule.
type Reaper struct {
	Enabled   bool   `yaml:"enabled" env:"REAPER_ENABLED" env-default:"true"`
	Schedule  string `yaml:"schedule" env:"REAPER_SCHEDULE" env-default:"@every 1m"`
	BatchSize int    `yaml:"batch_size" env:"REAPER_BATCH_SIZE" env-default:"500"`
}

// Auth holds bearer token verification settings.
type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"change-me"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER" env-default:""`
}

// MustLoad loads the application configuration.
func MustLoad() *Config {
	// .env is optional outside local development
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment variables")
	}

	cfg, err := Load(configPath())
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}

	return cfg
}

// Load reads the YAML file at path, or the environment alone when the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	log.Println("Config file not found, using environment variables only")
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/local.yml"
}
