package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "REELRALLY_DB_DSN"
	EnvDBHost = "REELRALLY_DB_HOST"
	EnvDBUser = "REELRALLY_DB_USER"
	EnvDBName = "REELRALLY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Provider     ProviderConfig
	Webhook      WebhookConfig
	GCP          GCPConfig
	GCS          GCSConfig
	Assets       AssetsConfig
	PubSub       PubSubConfig
	Ingestion    IngestionConfig
	Verification VerificationConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REELRALLY_APP_ENV" required:"true"`
	Port         string `envconfig:"REELRALLY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"REELRALLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REELRALLY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"REELRALLY_DB_DSN"`
	Driver string `envconfig:"REELRALLY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"REELRALLY_DB_HOST"`
	LegacyPort     int    `envconfig:"REELRALLY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"REELRALLY_DB_USER"`
	LegacyPassword string `envconfig:"REELRALLY_DB_PASSWORD"`
	LegacyName     string `envconfig:"REELRALLY_DB_NAME"`
	LegacySSLMode  string `envconfig:"REELRALLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REELRALLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REELRALLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REELRALLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REELRALLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REELRALLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"REELRALLY_REDIS_ADDR"`
	Password     string        `envconfig:"REELRALLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"REELRALLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REELRALLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REELRALLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REELRALLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REELRALLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REELRALLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ProviderConfig holds the external scraping provider credentials and datasets.
// Credentials are injected into the scrape job client constructor; call sites
// never read the environment directly.
type ProviderConfig struct {
	BaseURL          string `envconfig:"REELRALLY_PROVIDER_BASE_URL" default:"https://api.brightdata.com/datasets/v3"`
	Token            string `envconfig:"REELRALLY_PROVIDER_TOKEN" required:"true"`
	TikTokDataset    string `envconfig:"REELRALLY_PROVIDER_TIKTOK_DATASET"`
	InstagramDataset string `envconfig:"REELRALLY_PROVIDER_INSTAGRAM_DATASET"`
	YouTubeDataset   string `envconfig:"REELRALLY_PROVIDER_YOUTUBE_DATASET"`
	TikTokProfiles   string `envconfig:"REELRALLY_PROVIDER_TIKTOK_PROFILE_DATASET"`
	NotifyURL        string `envconfig:"REELRALLY_PROVIDER_NOTIFY_URL"`

	RequestTimeout time.Duration `envconfig:"REELRALLY_PROVIDER_REQUEST_TIMEOUT" default:"30s"`
	MaxRetries     int           `envconfig:"REELRALLY_PROVIDER_MAX_RETRIES" default:"4"`
	RetryBaseDelay time.Duration `envconfig:"REELRALLY_PROVIDER_RETRY_BASE_DELAY" default:"500ms"`

	PollFastAttempts int           `envconfig:"REELRALLY_PROVIDER_POLL_FAST_ATTEMPTS" default:"3"`
	PollFastInterval time.Duration `envconfig:"REELRALLY_PROVIDER_POLL_FAST_INTERVAL" default:"5s"`
	PollInterval     time.Duration `envconfig:"REELRALLY_PROVIDER_POLL_INTERVAL" default:"20s"`
	PollMaxWait      time.Duration `envconfig:"REELRALLY_PROVIDER_POLL_MAX_WAIT" default:"5m"`

	RatePerSecond float64 `envconfig:"REELRALLY_PROVIDER_RATE_PER_SECOND" default:"5"`
	RateBurst     int     `envconfig:"REELRALLY_PROVIDER_RATE_BURST" default:"10"`
}

// DatasetFor returns the provider dataset id for a platform's post scraper.
func (p ProviderConfig) DatasetFor(platform string) string {
	switch strings.ToLower(platform) {
	case "tiktok":
		return p.TikTokDataset
	case "instagram":
		return p.InstagramDataset
	case "youtube":
		return p.YouTubeDataset
	}
	return ""
}

type WebhookConfig struct {
	Secret string `envconfig:"REELRALLY_WEBHOOK_SECRET" required:"true"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"REELRALLY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"REELRALLY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"REELRALLY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"REELRALLY_GCS_BUCKET_NAME" required:"true"`
	PublicBase string `envconfig:"REELRALLY_GCS_PUBLIC_BASE" default:"https://storage.googleapis.com"`
}

type AssetsConfig struct {
	FetchTimeout  time.Duration `envconfig:"REELRALLY_ASSET_FETCH_TIMEOUT" default:"20s"`
	MaxFetchBytes int64         `envconfig:"REELRALLY_ASSET_MAX_FETCH_BYTES" default:"10485760"`
	MaxUploadMB   int           `envconfig:"REELRALLY_ASSET_MAX_UPLOAD_MB" default:"200"`
}

type PubSubConfig struct {
	IngestTopic        string `envconfig:"REELRALLY_PUBSUB_INGEST_TOPIC"`
	IngestSubscription string `envconfig:"REELRALLY_PUBSUB_INGEST_SUBSCRIPTION"`
}

// Configured reports whether Pub/Sub eventing is enabled; when false the
// ingest queue is drained by the worker's database poller instead.
func (p PubSubConfig) Configured() bool {
	return strings.TrimSpace(p.IngestTopic) != "" && strings.TrimSpace(p.IngestSubscription) != ""
}

type IngestionConfig struct {
	DispatchBatchSize  int           `envconfig:"REELRALLY_INGEST_DISPATCH_BATCH_SIZE" default:"50"`
	DispatchPollMS     int           `envconfig:"REELRALLY_INGEST_DISPATCH_POLL_MS" default:"500"`
	MaxAttempts        int           `envconfig:"REELRALLY_INGEST_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL     time.Duration `envconfig:"REELRALLY_INGEST_IDEMPOTENCY_TTL" default:"720h"`
	MetricStalenessMax time.Duration `envconfig:"REELRALLY_INGEST_METRIC_STALENESS_MAX" default:"0"`

	// Content requirements applied to submissions whose contest does not
	// carry its own rules. Contest-specific rules arrive through the rules
	// provider wired into the reconciler.
	RequiredHashtags    []string `envconfig:"REELRALLY_INGEST_REQUIRED_HASHTAGS"`
	DescriptionTemplate string   `envconfig:"REELRALLY_INGEST_DESCRIPTION_TEMPLATE"`
}

type VerificationConfig struct {
	PollInterval time.Duration `envconfig:"REELRALLY_VERIFY_POLL_INTERVAL" default:"30s"`
	PollMaxWait  time.Duration `envconfig:"REELRALLY_VERIFY_POLL_MAX_WAIT" default:"10m"`
	MaxAttempts  int           `envconfig:"REELRALLY_VERIFY_MAX_ATTEMPTS" default:"3"`
}

type FeatureFlagsConfig struct {
	UseSQLite            bool `envconfig:"REELRALLY_USE_SQLITE" default:"false"`
	AutoMigrate          bool `envconfig:"REELRALLY_AUTO_MIGRATE" default:"false"`
	RecentMatchFallback  bool `envconfig:"REELRALLY_RECENT_MATCH_FALLBACK" default:"false"`
	OverwriteStaleMetric bool `envconfig:"REELRALLY_OVERWRITE_STALE_METRICS" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
