package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Tier character limits. A zero limit means unlimited.
const (
	FreeCharacterLimit    = 15000
	PremiumCharacterLimit = 50000
)

// Config holds every tunable the pipeline reads. Values come from the
// environment once at startup; the struct is treated as read-only after Load.
type Config struct {
	// Content acquisition
	MaxFetchBytes          int64
	MinContentLength       int
	LowQualityChars        int
	LowQualityHTMLMinBytes int
	ReaderBaseURL          string

	// Network
	HTTPTimeout time.Duration
	DNSTimeout  time.Duration

	// LLM enrichment
	LLMEndpoint          string
	LLMAPIKey            string
	LLMModel             string
	MaxEnrichChars       int
	MaxTitleLength       int
	MaxAuthorLength      int
	MaxDescriptionLength int

	// TTS
	TTSEndpoint   string
	TTSAPIKey     string
	TTSByteLimit  int
	TTSWorkers    int
	TTSMaxRetries int
	TTSTimeout    time.Duration
	DefaultVoice  string

	// Storage / serving
	AudioStoragePath string
	BaseURL          string
}

// Load reads configuration from the environment. Only the external service
// endpoints are required; everything else has a default matching production.
func Load() (*Config, error) {
	cfg := &Config{
		MaxFetchBytes:          envInt64("MAX_FETCH_BYTES", 10*1024*1024),
		MinContentLength:       envInt("MIN_CONTENT_LENGTH", 100),
		LowQualityChars:        envInt("LOW_QUALITY_EXTRACTION_CHARS", 500),
		LowQualityHTMLMinBytes: envInt("LOW_QUALITY_HTML_MIN_BYTES", 10000),
		ReaderBaseURL:          envString("READER_BASE_URL", "https://r.jina.ai"),

		HTTPTimeout: envDuration("HTTP_TIMEOUT", 10*time.Second),
		DNSTimeout:  envDuration("DNS_TIMEOUT", 5*time.Second),

		LLMEndpoint:          os.Getenv("LLM_ENDPOINT"),
		LLMAPIKey:            os.Getenv("LLM_API_KEY"),
		LLMModel:             envString("LLM_MODEL", "gemini-2.5-flash"),
		MaxEnrichChars:       envInt("MAX_ENRICH_CHARS", 100000),
		MaxTitleLength:       envInt("MAX_TITLE_LENGTH", 255),
		MaxAuthorLength:      envInt("MAX_AUTHOR_LENGTH", 255),
		MaxDescriptionLength: envInt("MAX_DESCRIPTION_LENGTH", 1000),

		TTSEndpoint:   os.Getenv("TTS_ENDPOINT"),
		TTSAPIKey:     os.Getenv("TTS_API_KEY"),
		TTSByteLimit:  envInt("TTS_BYTE_LIMIT", 850),
		TTSWorkers:    envInt("TTS_WORKERS", 10),
		TTSMaxRetries: envInt("TTS_MAX_RETRIES", 3),
		TTSTimeout:    envDuration("TTS_TIMEOUT", 5*time.Minute),
		DefaultVoice:  envString("TTS_DEFAULT_VOICE", "wren"),

		AudioStoragePath: envString("AUDIO_STORAGE_PATH", "audio"),
		BaseURL:          envString("BASE_URL", "http://localhost:8080"),
	}

	if cfg.TTSByteLimit <= 0 {
		return nil, fmt.Errorf("TTS_BYTE_LIMIT must be positive, got %d", cfg.TTSByteLimit)
	}
	if cfg.TTSWorkers <= 0 {
		return nil, fmt.Errorf("TTS_WORKERS must be positive, got %d", cfg.TTSWorkers)
	}
	if cfg.TTSMaxRetries < 0 {
		return nil, fmt.Errorf("TTS_MAX_RETRIES must be non-negative, got %d", cfg.TTSMaxRetries)
	}

	return cfg, nil
}

// CharacterLimitFor returns the per-episode character limit for a tier.
// Zero means no limit.
func CharacterLimitFor(tier string) int {
	switch tier {
	case "premium":
		return PremiumCharacterLimit
	case "unlimited":
		return 0
	default:
		return FreeCharacterLimit
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
