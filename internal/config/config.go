// Package config defines the runtime configuration surface for
// knowledgevault: store backend selection, chunker tuning, the
// visibility scheduler's knobs, and rate limits.
package config

import "time"

// StoreConfig selects and configures the Store backend (§6).
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "postgres"
	DSN     string `yaml:"dsn"`
}

// ChunkingConfig mirrors §4.C's defaults.
type ChunkingConfig struct {
	MaxTokensPerPassage        int  `yaml:"max_tokens_per_passage"`
	OverlapTokens              int  `yaml:"overlap_tokens"`
	MaxNoteTokens              int  `yaml:"max_note_tokens"`
	MinPassageTokens           int  `yaml:"min_passage_tokens"`
	PreserveStructureBoundaries bool `yaml:"preserve_structure_boundaries"`
}

// DefaultChunking returns spec §4.C's defaults.
func DefaultChunking() ChunkingConfig {
	return ChunkingConfig{
		MaxTokensPerPassage:        180,
		OverlapTokens:              90,
		MaxNoteTokens:              20_000,
		MinPassageTokens:           10,
		PreserveStructureBoundaries: true,
	}
}

// SchedulerConfig mirrors §4.G/§5's defaults.
type SchedulerConfig struct {
	MaxInFlightPerNote      int           `yaml:"max_in_flight_per_note"`
	MaxInFlightPerWorkspace int           `yaml:"max_in_flight_per_workspace"`
	AgingInterval           time.Duration `yaml:"aging_interval"`
	AgingBoost              int           `yaml:"aging_boost"`
	MaxRetries              int           `yaml:"max_retries"`
	RetryDelay              time.Duration `yaml:"retry_delay"`
	ProcessingTimeout       time.Duration `yaml:"processing_timeout"`
}

// DefaultScheduler returns the default scheduler tuning.
func DefaultScheduler() SchedulerConfig {
	return SchedulerConfig{
		MaxInFlightPerNote:      1,
		MaxInFlightPerWorkspace: 4,
		AgingInterval:           5 * time.Second,
		AgingBoost:              10,
		MaxRetries:              3,
		RetryDelay:              200 * time.Millisecond,
		ProcessingTimeout:       30 * time.Second,
	}
}

// RateLimitConfig mirrors §5's per-session token buckets.
type RateLimitConfig struct {
	QueryBurst      int `yaml:"query_burst"`
	QuerySustained  int `yaml:"query_sustained_per_min"`
	MutationBurst   int `yaml:"mutation_burst"`
	MutationSustain int `yaml:"mutation_sustained_per_min"`
	DraftBurst      int `yaml:"draft_burst"`
	DraftSustained  int `yaml:"draft_sustained_per_min"`
}

// DefaultRateLimits returns the default per-session rate limits.
func DefaultRateLimits() RateLimitConfig {
	return RateLimitConfig{
		QueryBurst:      5,
		QuerySustained:  60,
		MutationBurst:   1,
		MutationSustain: 12,
		DraftBurst:      10,
		DraftSustained:  300,
	}
}

// QueryConfig mirrors §4.I's retrieval tuning and SLO backpressure.
type QueryConfig struct {
	TopKRetrieve   int           `yaml:"top_k_retrieve"`
	TopKRerank     int           `yaml:"top_k_rerank"`
	TopKRerankLow  int           `yaml:"top_k_rerank_low"`
	MaxPageSize    int           `yaml:"max_page_size"`
	SLOP95Trigger  time.Duration `yaml:"slo_p95_trigger"`
	SLOP95Recover  time.Duration `yaml:"slo_p95_recover"`
}

// DefaultQuery returns the default query-pipeline tuning.
func DefaultQuery() QueryConfig {
	return QueryConfig{
		TopKRetrieve:  128,
		TopKRerank:    64,
		TopKRerankLow: 32,
		MaxPageSize:   50,
		SLOP95Trigger: 500 * time.Millisecond,
		SLOP95Recover: 400 * time.Millisecond,
	}
}

// Config is the top-level application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Store     StoreConfig     `yaml:"store"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Query     QueryConfig     `yaml:"query"`

	// FingerprintAlgo selects "sha256" (default) or "blake3" for anchor
	// fingerprints (§4.A).
	FingerprintAlgo string `yaml:"fingerprint_algo"`
	// TokenizationVersion is stored on every anchor created; bumping it
	// invalidates old anchors' equality semantics (§4.A).
	TokenizationVersion string `yaml:"tokenization_version"`

	HTTPAddr string `yaml:"http_addr"`
}

// Default returns a Config with every component at its spec default.
func Default() Config {
	return Config{
		LogLevel:            "info",
		Store:               StoreConfig{Backend: "memory"},
		Chunking:            DefaultChunking(),
		Scheduler:           DefaultScheduler(),
		RateLimit:           DefaultRateLimits(),
		Query:               DefaultQuery(),
		FingerprintAlgo:     "sha256",
		TokenizationVersion: "uax29-v1",
		HTTPAddr:            ":8080",
	}
}
