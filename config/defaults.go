package config

// Default returns a configuration that runs a single process against a local
// SQLite file, a local media directory and in-process dispatch.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: ":8080"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/storyforge.db",
		},
		Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		Queue: QueueConfig{
			Mode:               "inline",
			Concurrency:        5,
			MaxRetry:           3,
			TaskTimeoutMinutes: 120,
		},
		Worker: WorkerConfig{Addr: "http://127.0.0.1:8000"},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 60,
		},
		Image: ImageConfig{
			Backend: "worker",
			Width:   1024,
			Height:  1024,
		},
		MinIO: MinIOConfig{Bucket: "storyforge"},
		Media: MediaConfig{
			Backend: "file",
			Root:    "data/media",
		},
		Pipeline: PipelineConfig{
			ReferenceAsset:         true,
			GenerateImage:          true,
			GenerateAudio:          true,
			GenerateVideo:          true,
			MinSegments:            3,
			MaxSegments:            6,
			WordsPerSegment:        120,
			SegmentDurationSeconds: 8,
			MaxPromptLength:        2000,
			MaxDurationSeconds:     30,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMS: 2000,
			MaxDelayMS:  30000,
			Backoff:     "exponential",
		},
		Poll: PollConfig{
			IntervalSeconds: 3,
			TimeoutSeconds:  1800,
		},
		Upload: UploadConfig{
			MinChars: 50,
			MaxChars: 50000,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			Path:       "logs/storyforge.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}
