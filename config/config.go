package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override, e.g. STS_DATABASE_DSN.
const EnvPrefix = "STS_"

type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Queue    QueueConfig    `yaml:"queue" envPrefix:"QUEUE_"`
	Worker   WorkerConfig   `yaml:"worker" envPrefix:"WORKER_"`
	LLM      LLMConfig      `yaml:"llm" envPrefix:"LLM_"`
	Image    ImageConfig    `yaml:"image" envPrefix:"IMAGE_"`
	MinIO    MinIOConfig    `yaml:"minio" envPrefix:"MINIO_"`
	Media    MediaConfig    `yaml:"media" envPrefix:"MEDIA_"`
	Pipeline PipelineConfig `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Retry    RetryConfig    `yaml:"retry" envPrefix:"RETRY_"`
	Poll     PollConfig     `yaml:"poll" envPrefix:"POLL_"`
	Upload   UploadConfig   `yaml:"upload" envPrefix:"UPLOAD_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Port string `yaml:"port" env:"PORT"`
}

type DatabaseConfig struct {
	// Driver is "mysql" or "sqlite".
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type QueueConfig struct {
	// Mode is "asynq" (Redis backed) or "inline" (goroutines in this process).
	Mode        string `yaml:"mode" env:"MODE"`
	Concurrency int    `yaml:"concurrency" env:"CONCURRENCY"`
	MaxRetry    int    `yaml:"max_retry" env:"MAX_RETRY"`
	// TaskTimeoutMinutes bounds one story run inside the asynq worker.
	TaskTimeoutMinutes int `yaml:"task_timeout_minutes" env:"TASK_TIMEOUT_MINUTES"`
}

type WorkerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

type LLMConfig struct {
	BaseURL        string `yaml:"base_url" env:"BASE_URL"`
	APIKey         string `yaml:"api_key" env:"API_KEY"`
	Model          string `yaml:"model" env:"MODEL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

type ImageConfig struct {
	// Backend is "worker" (async GPU worker) or "direct" (synchronous HTTP endpoint).
	Backend string `yaml:"backend" env:"BACKEND"`
	URL     string `yaml:"url" env:"URL"`
	Width   int    `yaml:"width" env:"WIDTH"`
	Height  int    `yaml:"height" env:"HEIGHT"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL"`
}

type MediaConfig struct {
	// Backend is "file" or "minio".
	Backend string `yaml:"backend" env:"BACKEND"`
	Root    string `yaml:"root" env:"ROOT"`
}

type PipelineConfig struct {
	ReferenceAsset         bool `yaml:"reference_asset" env:"REFERENCE_ASSET"`
	GenerateImage          bool `yaml:"generate_image" env:"GENERATE_IMAGE"`
	GenerateAudio          bool `yaml:"generate_audio" env:"GENERATE_AUDIO"`
	GenerateVideo          bool `yaml:"generate_video" env:"GENERATE_VIDEO"`
	MinSegments            int  `yaml:"min_segments" env:"MIN_SEGMENTS"`
	MaxSegments            int  `yaml:"max_segments" env:"MAX_SEGMENTS"`
	WordsPerSegment        int  `yaml:"words_per_segment" env:"WORDS_PER_SEGMENT"`
	SegmentDurationSeconds int  `yaml:"segment_duration_seconds" env:"SEGMENT_DURATION_SECONDS"`
	MaxPromptLength        int  `yaml:"max_prompt_length" env:"MAX_PROMPT_LENGTH"`
	MaxDurationSeconds     int  `yaml:"max_duration_seconds" env:"MAX_DURATION_SECONDS"`
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelayMS int `yaml:"base_delay_ms" env:"BASE_DELAY_MS"`
	MaxDelayMS  int `yaml:"max_delay_ms" env:"MAX_DELAY_MS"`
	// Backoff is "linear" or "exponential".
	Backoff string `yaml:"backoff" env:"BACKOFF"`
}

type PollConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" env:"INTERVAL_SECONDS"`
	TimeoutSeconds  int `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

type UploadConfig struct {
	MinChars int `yaml:"min_chars" env:"MIN_CHARS"`
	MaxChars int `yaml:"max_chars" env:"MAX_CHARS"`
}

type LogConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	Format     string `yaml:"format" env:"FORMAT"`
	Output     string `yaml:"output" env:"OUTPUT"`
	Path       string `yaml:"path" env:"PATH"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
}

// Load reads the YAML file at path (optional when empty or missing), then a
// .env file next to the working directory, then STS_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Queue.Mode = strings.ToLower(strings.TrimSpace(c.Queue.Mode))
	c.Image.Backend = strings.ToLower(strings.TrimSpace(c.Image.Backend))
	c.Media.Backend = strings.ToLower(strings.TrimSpace(c.Media.Backend))
	c.Retry.Backoff = strings.ToLower(strings.TrimSpace(c.Retry.Backoff))
	c.Worker.Addr = strings.TrimRight(strings.TrimSpace(c.Worker.Addr), "/")
	if c.Pipeline.MaxSegments < c.Pipeline.MinSegments {
		c.Pipeline.MaxSegments = c.Pipeline.MinSegments
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver must be mysql or sqlite, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	switch c.Queue.Mode {
	case "asynq":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis.addr is required when queue.mode is asynq")
		}
	case "inline":
	default:
		return fmt.Errorf("queue.mode must be asynq or inline, got %q", c.Queue.Mode)
	}
	switch c.Image.Backend {
	case "worker", "direct":
	default:
		return fmt.Errorf("image.backend must be worker or direct, got %q", c.Image.Backend)
	}
	if c.Image.Backend == "direct" && strings.TrimSpace(c.Image.URL) == "" {
		return errors.New("image.url is required when image.backend is direct")
	}
	switch c.Media.Backend {
	case "file":
		if strings.TrimSpace(c.Media.Root) == "" {
			return errors.New("media.root is required when media.backend is file")
		}
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return errors.New("minio.endpoint and minio.bucket are required when media.backend is minio")
		}
	default:
		return fmt.Errorf("media.backend must be file or minio, got %q", c.Media.Backend)
	}
	switch c.Retry.Backoff {
	case "linear", "exponential":
	default:
		return fmt.Errorf("retry.backoff must be linear or exponential, got %q", c.Retry.Backoff)
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Pipeline.MinSegments < 1 {
		return errors.New("pipeline.min_segments must be at least 1")
	}
	if c.Poll.IntervalSeconds < 1 || c.Poll.TimeoutSeconds < c.Poll.IntervalSeconds {
		return errors.New("poll.interval_seconds must be >= 1 and <= poll.timeout_seconds")
	}
	if c.Upload.MinChars < 1 || c.Upload.MaxChars < c.Upload.MinChars {
		return errors.New("upload.min_chars must be >= 1 and <= upload.max_chars")
	}
	return nil
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

func (p PollConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func (q QueueConfig) TaskTimeout() time.Duration {
	return time.Duration(q.TaskTimeoutMinutes) * time.Minute
}

func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}
