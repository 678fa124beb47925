package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	DatabaseURL string
	StoragePath string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	ReplicateAPIToken string
	ReplicateBaseURL  string
	VideoModelChain   []string

	FFmpegPath string

	SceneBatchSize     int
	PassThreshold      int
	MaxSceneAttempts   int
	AlignmentMaxScenes int
	AspectRatio        string
	Resolution         string

	JobPollInterval time.Duration
	StaleClaimAfter time.Duration
	HTTPTimeout     time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoragePath: getEnv("STORAGE_PATH", "./storage"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", ""),
		VideoModelChain:   getEnvList("VIDEO_MODEL_CHAIN", []string{"wan-video/wan-2.1-i2v", "minimax/video-01"}),

		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),

		SceneBatchSize:     getEnvInt("SCENE_BATCH_SIZE", 2),
		PassThreshold:      getEnvInt("QUALITY_PASS_THRESHOLD", 70),
		MaxSceneAttempts:   getEnvInt("MAX_SCENE_ATTEMPTS", 3),
		AlignmentMaxScenes: getEnvInt("ALIGNMENT_MAX_SCENES", 6),
		AspectRatio:        getEnv("ASPECT_RATIO", "16:9"),
		Resolution:         getEnv("RESOLUTION", "720p"),

		JobPollInterval: time.Second * time.Duration(getEnvInt("JOB_POLL_INTERVAL_SECONDS", 2)),
		StaleClaimAfter: time.Second * time.Duration(getEnvInt("JOB_STALE_AFTER_SECONDS", 600)),
		HTTPTimeout:     time.Second * time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.ReplicateAPIToken == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
