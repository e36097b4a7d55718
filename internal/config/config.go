package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// AI backend (any OpenAI-compatible chat completions endpoint)
	AIBaseURL string
	AIAPIKey  string
	AIModel   string
	AITimeout time.Duration

	// Room tunables
	HistoryCap         int
	PromptPoolCap      int
	PromptMaxLen       int
	VotingWindow       time.Duration
	RoundTick          time.Duration
	StaleSweepInterval time.Duration // 0 disables the stale-prompt sweep
	StaleAfter         time.Duration
	IdleTimeout        time.Duration
	ClearVoteWindow    time.Duration
	ContextTurns       int

	// Rate limiting (active only when RedisURL is set)
	RedisURL           string
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		AIBaseURL: getEnv("AI_BASE_URL", "https://api.openai.com"),
		AIAPIKey:  os.Getenv("AI_API_KEY"),
		AIModel:   getEnv("AI_MODEL", "gpt-4o-mini"),
		AITimeout: getDuration("AI_TIMEOUT", 30*time.Second),

		HistoryCap:         getInt("HISTORY_CAP", 150),
		PromptPoolCap:      getInt("PROMPT_POOL_CAP", 20),
		PromptMaxLen:       getInt("PROMPT_MAX_LEN", 500),
		VotingWindow:       getDuration("VOTING_WINDOW", 60*time.Second),
		RoundTick:          getDuration("ROUND_TICK", 5*time.Second),
		StaleSweepInterval: getDuration("STALE_SWEEP_INTERVAL", 2*time.Minute),
		StaleAfter:         getDuration("STALE_AFTER", 5*time.Minute),
		IdleTimeout:        getDuration("IDLE_TIMEOUT", 5*time.Minute),
		ClearVoteWindow:    getDuration("CLEAR_VOTE_WINDOW", 60*time.Second),
		ContextTurns:       getInt("CONTEXT_TURNS", 8),

		RedisURL:         os.Getenv("REDIS_URL"),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require an AI backend key
	if cfg.Env == "production" && cfg.AIAPIKey == "" {
		panic("AI_API_KEY is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d >= 0 {
			return d
		}
	}
	return defaultValue
}
