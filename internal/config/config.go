// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/chainguard/internal/chain"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Chain RPC endpoints
	Chains []ChainConfig

	// Block explorer APIs (Etherscan-family), keyed by chain ID
	Explorers map[int64]ExplorerConfig

	// GoPlus security API
	GoPlusBaseURL string

	// Gemini interpretation provider (optional, rule-based fallback if not set)
	GeminiAPIKey string
	GeminiModel  string

	// External call timeouts
	RPCTimeout      time.Duration
	ExplorerTimeout time.Duration
	SecurityTimeout time.Duration

	// Security
	RateLimitRPS int
	AdminSecret  string

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector address (optional, tracing off if not set)
}

// ChainConfig describes one supported chain.
type ChainConfig struct {
	ID           int64
	Name         string
	NativeSymbol string
	RPCURL       string
}

// ExplorerConfig describes one Etherscan-family API endpoint.
type ExplorerConfig struct {
	BaseURL string
	APIKey  string
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultRateLimit       = 100
	DefaultGoPlusBaseURL   = "https://api.gopluslabs.io/api/v1"
	DefaultGeminiModel     = "gemini-1.5-flash"
	DefaultRPCTimeout      = 10 * time.Second
	DefaultExplorerTimeout = 10 * time.Second
	DefaultSecurityTimeout = 15 * time.Second
)

// Public RPC defaults per chain
const (
	DefaultEthereumRPC = "https://eth.llamarpc.com"
	DefaultPolygonRPC  = "https://polygon.llamarpc.com"
	DefaultBSCRPC      = "https://binance.llamarpc.com"
)

// Explorer API defaults per chain
const (
	DefaultEtherscanAPI   = "https://api.etherscan.io/api"
	DefaultPolygonscanAPI = "https://api.polygonscan.com/api"
	DefaultBscscanAPI     = "https://api.bscscan.com/api"
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
		LogFormat:   getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL: os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		Chains: []ChainConfig{
			{ID: 1, Name: "Ethereum", NativeSymbol: "ETH", RPCURL: getEnv("ETHEREUM_RPC_URL", DefaultEthereumRPC)},
			{ID: 137, Name: "Polygon", NativeSymbol: "MATIC", RPCURL: getEnv("POLYGON_RPC_URL", DefaultPolygonRPC)},
			{ID: 56, Name: "BNB Smart Chain", NativeSymbol: "BNB", RPCURL: getEnv("BSC_RPC_URL", DefaultBSCRPC)},
		},
		Explorers: map[int64]ExplorerConfig{
			1:   {BaseURL: getEnv("ETHERSCAN_API_URL", DefaultEtherscanAPI), APIKey: os.Getenv("ETHERSCAN_API_KEY")},
			137: {BaseURL: getEnv("POLYGONSCAN_API_URL", DefaultPolygonscanAPI), APIKey: os.Getenv("POLYGONSCAN_API_KEY")},
			56:  {BaseURL: getEnv("BSCSCAN_API_URL", DefaultBscscanAPI), APIKey: os.Getenv("BSCSCAN_API_KEY")},
		},
		GoPlusBaseURL:   getEnv("GOPLUS_API_URL", DefaultGoPlusBaseURL),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"), // Optional, rule-based interpretation if not set
		GeminiModel:     getEnv("GEMINI_MODEL", DefaultGeminiModel),
		RPCTimeout:      getEnvDuration("RPC_TIMEOUT", DefaultRPCTimeout),
		ExplorerTimeout: getEnvDuration("EXPLORER_TIMEOUT", DefaultExplorerTimeout),
		SecurityTimeout: getEnvDuration("SECURITY_TIMEOUT", DefaultSecurityTimeout),
		RateLimitRPS:    int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for _, cc := range c.Chains {
		if cc.RPCURL == "" {
			return fmt.Errorf("chain %d (%s) has no RPC URL", cc.ID, cc.Name)
		}
	}
	if c.RPCTimeout <= 0 || c.ExplorerTimeout <= 0 || c.SecurityTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// ChainInfos converts the configured chains to the registry's catalog form.
func (c *Config) ChainInfos() []chain.Info {
	infos := make([]chain.Info, 0, len(c.Chains))
	for _, cc := range c.Chains {
		infos = append(infos, chain.Info{
			ID:           cc.ID,
			Name:         cc.Name,
			NativeSymbol: cc.NativeSymbol,
			RPCURL:       cc.RPCURL,
		})
	}
	return infos
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
