// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads and validates the voice orchestration core's
// configuration: a viper.Viper keyed with a "__" delimiter, defaults set
// up front, and a mapstructure+validator-tagged struct. File/env loading
// is a convenience for an external bootstrapper — the core only ever
// consumes the resulting Config struct.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ProviderConfig configures the upstream realtime-audio provider connection.
type ProviderConfig struct {
	Endpoint       string `mapstructure:"endpoint" validate:"required"`
	APIKey         string `mapstructure:"api_key" validate:"required"`
	Model          string `mapstructure:"model" validate:"required"`
	Voice          string `mapstructure:"voice" validate:"required"`
	ConnectTimeout int    `mapstructure:"connect_timeout_ms" validate:"required"`
}

// ArbitratorConfig configures the lane arbitrator state machine.
type ArbitratorConfig struct {
	LaneAEnabled           bool `mapstructure:"lane_a_enabled"`
	MinDelayBeforeReflexMs int  `mapstructure:"min_delay_before_reflex_ms" validate:"required"`
	MaxReflexDurationMs    int  `mapstructure:"max_reflex_duration_ms" validate:"required"`
	TransitionGapMs        int  `mapstructure:"transition_gap_ms" validate:"required"`
	PreemptThresholdMs     int  `mapstructure:"preempt_threshold_ms" validate:"required"`
}

// PolicyConfig configures Lane C (PII, moderation, claims, override).
type PolicyConfig struct {
	EnablePIIRedaction    bool     `mapstructure:"enable_pii_redaction"`
	PIIRedactionMode      string   `mapstructure:"pii_redaction_mode" validate:"omitempty,oneof=redact flag"`
	CancelOutputThreshold int      `mapstructure:"cancel_output_threshold" validate:"required"`
	EvaluateDeltas        bool     `mapstructure:"evaluate_deltas"`
	ModerationCategories  []string `mapstructure:"moderation_categories"`
}

// FallbackConfig configures the fallback planner.
type FallbackConfig struct {
	Mode    string   `mapstructure:"mode" validate:"omitempty,oneof=auto refuse_politely ask_clarifying_question switch_to_text_summary escalate_to_human offer_email_or_link"`
	Phrases []string `mapstructure:"phrases"`
}

// AuditConfig configures the dual-write audit trail.
type AuditConfig struct {
	Enabled                 bool   `mapstructure:"enabled"`
	DatabasePath            string `mapstructure:"database_path" validate:"required_if=Enabled true"`
	WALMode                 bool   `mapstructure:"wal_mode"`
	JSONLDir                string `mapstructure:"jsonl_dir" validate:"required_if=Enabled true"`
	IncludeTranscripts      bool   `mapstructure:"include_transcripts"`
	IncludeTranscriptDeltas bool   `mapstructure:"include_transcript_deltas"`
	IncludeAudio            bool   `mapstructure:"include_audio"`
	IncludeSessionEvents    bool   `mapstructure:"include_session_events"`
	IncludeResponseMetadata bool   `mapstructure:"include_response_metadata"`
}

// RetrievalConfig configures context assembly.
type RetrievalConfig struct {
	MaxContextTokens int    `mapstructure:"max_context_tokens" validate:"required"`
	TokenizerModel   string `mapstructure:"tokenizer_model" validate:"required"`
	RedisAddr        string `mapstructure:"redis_addr"`
	CacheTTLSeconds  int    `mapstructure:"cache_ttl_seconds" validate:"required"`
}

// SessionConfig configures session lifecycle.
type SessionConfig struct {
	MaxIdleMinutes     int `mapstructure:"max_idle_minutes" validate:"required"`
	DeleteGraceSeconds int `mapstructure:"delete_grace_seconds" validate:"required"`
}

// AppConfig is the full configuration surface for the orchestration core.
type AppConfig struct {
	ServiceName string           `mapstructure:"service_name" validate:"required"`
	LogLevel    string           `mapstructure:"log_level" validate:"required"`
	Provider    ProviderConfig   `mapstructure:"provider" validate:"required"`
	Arbitrator  ArbitratorConfig `mapstructure:"arbitrator" validate:"required"`
	Policy      PolicyConfig     `mapstructure:"policy" validate:"required"`
	Fallback    FallbackConfig   `mapstructure:"fallback"`
	Audit       AuditConfig      `mapstructure:"audit"`
	Retrieval   RetrievalConfig  `mapstructure:"retrieval" validate:"required"`
	Session     SessionConfig    `mapstructure:"session" validate:"required"`
}

// InitConfig reads the environment-backed viper config and decodes+validates
// it into an AppConfig. ENV_PATH overrides the default ".env" file location.
func InitConfig() (*AppConfig, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		// Fall through to env vars / defaults; a missing .env is not fatal.
		_ = err
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "voicecore")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("PROVIDER__MODEL", "realtime-voice-001")
	v.SetDefault("PROVIDER__VOICE", "alloy")
	v.SetDefault("PROVIDER__CONNECT_TIMEOUT_MS", 10000)

	v.SetDefault("ARBITRATOR__LANE_A_ENABLED", true)
	v.SetDefault("ARBITRATOR__MIN_DELAY_BEFORE_REFLEX_MS", 100)
	v.SetDefault("ARBITRATOR__MAX_REFLEX_DURATION_MS", 2000)
	v.SetDefault("ARBITRATOR__TRANSITION_GAP_MS", 10)
	v.SetDefault("ARBITRATOR__PREEMPT_THRESHOLD_MS", 300)

	v.SetDefault("POLICY__ENABLE_PII_REDACTION", true)
	v.SetDefault("POLICY__PII_REDACTION_MODE", "redact")
	v.SetDefault("POLICY__CANCEL_OUTPUT_THRESHOLD", 4)
	v.SetDefault("POLICY__EVALUATE_DELTAS", false)

	v.SetDefault("FALLBACK__MODE", "auto")

	v.SetDefault("AUDIT__ENABLED", true)
	v.SetDefault("AUDIT__DATABASE_PATH", "./data/voicecore.db")
	v.SetDefault("AUDIT__WAL_MODE", true)
	v.SetDefault("AUDIT__JSONL_DIR", "./data/timelines")
	v.SetDefault("AUDIT__INCLUDE_SESSION_EVENTS", true)

	v.SetDefault("RETRIEVAL__MAX_CONTEXT_TOKENS", 2000)
	v.SetDefault("RETRIEVAL__TOKENIZER_MODEL", "gpt-4o")
	v.SetDefault("RETRIEVAL__REDIS_ADDR", "localhost:6379")
	v.SetDefault("RETRIEVAL__CACHE_TTL_SECONDS", 300)

	v.SetDefault("SESSION__MAX_IDLE_MINUTES", 30)
	v.SetDefault("SESSION__DELETE_GRACE_SECONDS", 5)
}
