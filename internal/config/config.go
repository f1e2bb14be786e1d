// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Scoring tunables
	WindowSize              int
	DefaultBaselineVariance float64
	SteadyStateBonus        float64
	DoomVelocityTrigger     float64 // events per minute
	DoomscrollBonus         float64
	NightStartHour          int
	NightEndHour            int
	NightMultiplier         float64

	// Batch audit segmentation
	SessionGapSeconds int
	MinSessionEvents  int

	// Penalty policy
	PenaltyThreshold float64
	PenaltyAmount    string // USDC, e.g. "0.50"
	MaxJobAttempts   int

	// Blockchain settings (optional; vault stays off-chain when unset)
	RPCURL          string
	ChainID         int64
	PrivateKey      string // Hex-encoded, no 0x prefix
	USDCContract    string
	TreasuryAddress string

	// External content classifier (optional)
	ClassifierURL string

	// Security
	RateLimitRPM int
	AdminSecret  string

	// Tracing
	OTLPEndpoint string
}

// Base Sepolia defaults
const (
	DefaultRPCURL       = "https://sepolia.base.org"
	DefaultChainID      = 84532                                        // Base Sepolia
	DefaultUSDCContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e" // Base Sepolia USDC
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultRateLimit    = 120
)

// Scoring defaults
const (
	DefaultWindowSize          = 10
	DefaultSteadyStateBonus    = 20.0
	DefaultDoomVelocityTrigger = 10.0 // events/min
	DefaultDoomscrollBonus     = 15.0
	DefaultNightStartHour      = 22
	DefaultNightEndHour        = 5
	DefaultNightMultiplier     = 3.0
	DefaultSessionGapSeconds   = 1200
	DefaultMinSessionEvents    = 3
	DefaultPenaltyThreshold    = 100.0
	DefaultPenaltyAmount       = "0.50"
	DefaultMaxJobAttempts      = 5
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL: os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set

		WindowSize:              int(getEnvInt64("WINDOW_SIZE", DefaultWindowSize)),
		DefaultBaselineVariance: getEnvFloat("DEFAULT_BASELINE_VARIANCE", 0),
		SteadyStateBonus:        getEnvFloat("STEADY_STATE_BONUS", DefaultSteadyStateBonus),
		DoomVelocityTrigger:     getEnvFloat("DOOM_VELOCITY_TRIGGER", DefaultDoomVelocityTrigger),
		DoomscrollBonus:         getEnvFloat("DOOMSCROLL_BONUS", DefaultDoomscrollBonus),
		NightStartHour:          int(getEnvInt64("NIGHT_START_HOUR", DefaultNightStartHour)),
		NightEndHour:            int(getEnvInt64("NIGHT_END_HOUR", DefaultNightEndHour)),
		NightMultiplier:         getEnvFloat("NIGHT_MULTIPLIER", DefaultNightMultiplier),

		SessionGapSeconds: int(getEnvInt64("SESSION_GAP_SECONDS", DefaultSessionGapSeconds)),
		MinSessionEvents:  int(getEnvInt64("MIN_SESSION_EVENTS", DefaultMinSessionEvents)),

		PenaltyThreshold: getEnvFloat("PENALTY_THRESHOLD", DefaultPenaltyThreshold),
		PenaltyAmount:    getEnv("PENALTY_AMOUNT", DefaultPenaltyAmount),
		MaxJobAttempts:   int(getEnvInt64("MAX_JOB_ATTEMPTS", DefaultMaxJobAttempts)),

		RPCURL:          os.Getenv("RPC_URL"), // Optional, vault stays off-chain if unset
		ChainID:         getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:      os.Getenv("PRIVATE_KEY"),
		USDCContract:    getEnv("USDC_CONTRACT", DefaultUSDCContract),
		TreasuryAddress: os.Getenv("TREASURY_ADDRESS"),

		ClassifierURL: os.Getenv("CLASSIFIER_URL"),

		RateLimitRPM: int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		AdminSecret:  os.Getenv("ADMIN_SECRET"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.WindowSize < 2 {
		return fmt.Errorf("WINDOW_SIZE must be at least 2")
	}
	if c.PenaltyThreshold <= 0 {
		return fmt.Errorf("PENALTY_THRESHOLD must be positive")
	}
	if c.MinSessionEvents < 1 {
		return fmt.Errorf("MIN_SESSION_EVENTS must be at least 1")
	}

	// On-chain mode needs a full set of chain settings
	if c.RPCURL != "" {
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix) when RPC_URL is set")
		}
		if c.TreasuryAddress == "" {
			return fmt.Errorf("TREASURY_ADDRESS is required when RPC_URL is set")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// OnChain reports whether slashes should settle on-chain.
func (c *Config) OnChain() bool {
	return c.RPCURL != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
