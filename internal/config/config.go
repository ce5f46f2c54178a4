package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"512"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	// Remote model service
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	GeminiBaseURL   string        `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	GeminiTimeout   time.Duration `env:"GEMINI_TIMEOUT" envDefault:"5m"`
	DefaultModel    string        `env:"DEFAULT_MODEL" envDefault:"gemini-2.0-flash"`
	AvailableModels []string      `env:"AVAILABLE_MODELS" envSeparator:"," envDefault:"gemini-2.0-flash,gemini-2.5-flash,gemini-2.5-pro"`

	// Working directories
	TempDir  string `env:"TEMP_DIR" envDefault:"transcription_temp"`
	LogDir   string `env:"TRANSCRIPTION_LOG_DIR" envDefault:"transcription_logs"`
	AudioDir string `env:"AUDIO_DIR" envDefault:"./audio"`
	InboxDir string `env:"INBOX_DIR"`

	// Chunking and retry policy
	ChunkLength  time.Duration `env:"CHUNK_LENGTH" envDefault:"8m"`
	ChunkOverlap time.Duration `env:"CHUNK_OVERLAP" envDefault:"0s"`
	MaxRetries   int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryDelay   time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
	FFmpegPath   string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	// Worker pool
	Workers   int `env:"TRANSCRIBE_WORKERS" envDefault:"1"`
	QueueSize int `env:"TRANSCRIBE_QUEUE_SIZE" envDefault:"16"`

	// Chunk record backend: "file" or "postgres"
	ChunkStore  string `env:"CHUNK_STORE" envDefault:"file"`
	DatabaseURL string `env:"DATABASE_URL"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"meetscribe"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"meetscribe"`

	S3 S3Config `envPrefix:"S3_"`

	SessionRetention time.Duration `env:"SESSION_RETENTION" envDefault:"24h"`
	PruneInterval    time.Duration `env:"PRUNE_INTERVAL" envDefault:"1h"`
}

// S3Config configures the optional S3 mirror for chunk records.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
	InboxDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}
	if overrides.InboxDir != "" {
		cfg.InboxDir = overrides.InboxDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	if c.ChunkLength <= 0 {
		return fmt.Errorf("CHUNK_LENGTH must be positive, got %s", c.ChunkLength)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkLength {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_LENGTH), got %s", c.ChunkOverlap)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("RETRY_DELAY must not be negative, got %s", c.RetryDelay)
	}
	if c.Workers < 1 {
		return fmt.Errorf("TRANSCRIBE_WORKERS must be at least 1, got %d", c.Workers)
	}
	switch c.ChunkStore {
	case "file":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("CHUNK_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("CHUNK_STORE must be \"file\" or \"postgres\", got %q", c.ChunkStore)
	}
	if c.DefaultModel != "" && !c.ModelAllowed(c.DefaultModel) {
		return fmt.Errorf("DEFAULT_MODEL %q is not in AVAILABLE_MODELS", c.DefaultModel)
	}
	return nil
}

// ModelAllowed reports whether model may be requested. An empty allowlist
// permits any model.
func (c *Config) ModelAllowed(model string) bool {
	if len(c.AvailableModels) == 0 {
		return true
	}
	for _, m := range c.AvailableModels {
		if strings.TrimSpace(m) == model {
			return true
		}
	}
	return false
}
