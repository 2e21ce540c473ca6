// Package config provides configuration loading for the VidVerse service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env precedence.
func init() {
	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Backend names accepted by VV_CONTENT_STORE and VV_LEDGER.
const (
	BackendMemory   = "memory"
	BackendS3       = "s3"
	BackendPinata   = "pinata"
	BackendEthereum = "ethereum"
)

// Config captures environment-driven settings for the VidVerse service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // Journal database (PostgreSQL); empty uses memory
	NATSURL     string // NATS server URL; empty disables events

	// Content store
	ContentStore string
	S3Endpoint   string
	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Prefix     string
	PinataJWT    string
	PinataAPIURL string

	// Ledger
	Ledger         string
	LedgerRPCURL   string
	LedgerChainID  int64
	LedgerContract string
	LedgerKeys     []string // Hex private keys, one per signing account
	CoinFactory    string

	// Market data
	MarketAPIURL   string
	MarketAPIKey   string
	MarketCacheTTL time.Duration

	// Upload policy
	MaxVideoSize       int64
	MaxThumbnailSize   int64
	VideoMimeTypes     []string
	ThumbnailMimeTypes []string

	// Auth
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort             = "8080"
	defaultEnv              = "dev"
	defaultS3Region         = "us-east-1"
	defaultChainID          = 84532 // Base Sepolia
	defaultMarketCacheTTL   = 30 * time.Second
	defaultMaxVideoSize     = 90 << 20
	defaultMaxThumbnailSize = 5 << 20
	defaultJWTIssuer        = "vidverse"
	defaultJWTAudience      = "vidverse-api"
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// Returns an error if a selected backend is missing the keys it needs.
func Load() (Config, error) {
	cfg := Config{
		Env:            getEnv("VV_ENV", defaultEnv),
		Port:           getEnv("VV_PORT", defaultPort),
		DatabaseDSN:    os.Getenv("VV_DB_DSN"),
		NATSURL:        os.Getenv("VV_NATS_URL"),
		ContentStore:   strings.ToLower(getEnv("VV_CONTENT_STORE", BackendMemory)),
		S3Endpoint:     os.Getenv("VV_S3_ENDPOINT"),
		S3Region:       getEnv("VV_S3_REGION", defaultS3Region),
		S3Bucket:       os.Getenv("VV_S3_BUCKET"),
		S3AccessKey:    os.Getenv("VV_S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("VV_S3_SECRET_KEY"),
		S3Prefix:       os.Getenv("VV_S3_PREFIX"),
		PinataJWT:      os.Getenv("VV_PINATA_JWT"),
		PinataAPIURL:   os.Getenv("VV_PINATA_API_URL"),
		Ledger:         strings.ToLower(getEnv("VV_LEDGER", BackendMemory)),
		LedgerRPCURL:   os.Getenv("VV_LEDGER_RPC_URL"),
		LedgerContract: os.Getenv("VV_LEDGER_CONTRACT"),
		LedgerKeys:     splitList(os.Getenv("VV_LEDGER_PRIVATE_KEYS")),
		CoinFactory:    os.Getenv("VV_COIN_FACTORY"),
		MarketAPIURL:   os.Getenv("VV_MARKET_API_URL"),
		MarketAPIKey:   os.Getenv("VV_MARKET_API_KEY"),
		JWTSecret:      os.Getenv("VV_JWT_SECRET"),
		JWTIssuer:      getEnv("VV_JWT_ISSUER", defaultJWTIssuer),
		JWTAudience:    getEnv("VV_JWT_AUDIENCE", defaultJWTAudience),
	}

	var err error
	if cfg.LedgerChainID, err = parseInt("VV_LEDGER_CHAIN_ID", defaultChainID); err != nil {
		return cfg, err
	}
	if cfg.MaxVideoSize, err = parseInt("VV_MAX_VIDEO_SIZE", defaultMaxVideoSize); err != nil {
		return cfg, err
	}
	if cfg.MaxThumbnailSize, err = parseInt("VV_MAX_THUMBNAIL_SIZE", defaultMaxThumbnailSize); err != nil {
		return cfg, err
	}

	cfg.MarketCacheTTL = defaultMarketCacheTTL
	if v := os.Getenv("VV_MARKET_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("VV_MARKET_CACHE_TTL: %w", err)
		}
		cfg.MarketCacheTTL = ttl
	}

	cfg.VideoMimeTypes = []string{"video/", "audio/"}
	if v := os.Getenv("VV_VIDEO_MIME_TYPES"); v != "" {
		cfg.VideoMimeTypes = splitList(v)
	}
	cfg.ThumbnailMimeTypes = []string{"image/"}
	if v := os.Getenv("VV_THUMBNAIL_MIME_TYPES"); v != "" {
		cfg.ThumbnailMimeTypes = splitList(v)
	}

	// Handle CORS configuration
	if corsOrigins, exists := os.LookupEnv("VV_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = splitList(corsOrigins)
	}

	return cfg, cfg.validate()
}

// validate rejects backend selections whose required keys are missing.
func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("VV_JWT_SECRET is required")
	}

	switch c.ContentStore {
	case BackendMemory:
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("VV_S3_BUCKET is required for the s3 content store")
		}
	case BackendPinata:
		if c.PinataJWT == "" {
			return fmt.Errorf("VV_PINATA_JWT is required for the pinata content store")
		}
	default:
		return fmt.Errorf("unknown VV_CONTENT_STORE %q", c.ContentStore)
	}

	switch c.Ledger {
	case BackendMemory:
	case BackendEthereum:
		if c.LedgerRPCURL == "" {
			return fmt.Errorf("VV_LEDGER_RPC_URL is required for the ethereum ledger")
		}
		if c.LedgerContract == "" {
			return fmt.Errorf("VV_LEDGER_CONTRACT is required for the ethereum ledger")
		}
	default:
		return fmt.Errorf("unknown VV_LEDGER %q", c.Ledger)
	}

	if c.MaxVideoSize <= 0 || c.MaxThumbnailSize <= 0 {
		return fmt.Errorf("upload size limits must be positive")
	}
	return nil
}

// IsDev reports whether the service runs in the development environment.
func (c Config) IsDev() bool {
	return c.Env == defaultEnv
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// parseInt reads an integer variable, returning fallback when it is unset.
func parseInt(key string, fallback int64) (int64, error) {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// splitList splits a comma separated value, trimming whitespace and dropping empties.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
