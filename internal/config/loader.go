package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load builds a Config starting from defaults, then an optional YAML
// file (KNOWLEDGEVAULT_CONFIG_FILE), then environment variables
// (loaded via godotenv.Overload so a local .env wins over the shell's
// existing environment).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("KNOWLEDGEVAULT_CONFIG_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_BACKEND")); v != "" {
		cfg.Store.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_DSN")); v != "" {
		cfg.Store.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("FINGERPRINT_ALGO")); v != "" {
		cfg.FingerprintAlgo = v
	}
	if v := strings.TrimSpace(os.Getenv("TOKENIZATION_VERSION")); v != "" {
		cfg.TokenizationVersion = v
	}
	if v, ok := envInt("MAX_TOKENS_PER_PASSAGE"); ok {
		cfg.Chunking.MaxTokensPerPassage = v
	}
	if v, ok := envInt("OVERLAP_TOKENS"); ok {
		cfg.Chunking.OverlapTokens = v
	}
	if v, ok := envInt("MAX_IN_FLIGHT_PER_WORKSPACE"); ok {
		cfg.Scheduler.MaxInFlightPerWorkspace = v
	}
	if v, ok := envDuration("AGING_INTERVAL"); ok {
		cfg.Scheduler.AgingInterval = v
	}
	if v, ok := envInt("TOP_K_RETRIEVE"); ok {
		cfg.Query.TopKRetrieve = v
	}
	if v, ok := envInt("TOP_K_RERANK"); ok {
		cfg.Query.TopKRerank = v
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
