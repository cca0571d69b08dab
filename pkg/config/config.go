// Package config loads gateway configuration from the environment and
// execution profiles from YAML.
package config

import "os"

// Config holds process-level configuration.
type Config struct {
	LogLevel     string
	ProfileName  string
	ProfilesDir  string
	ReceiptDir   string
	LedgerDSN    string // sqlite path or postgres URL
	VaultDSN     string
	RedisAddr    string
	AnchorBucket string
	OTLPEndpoint string
}

// Load reads configuration from environment variables with local
// defaults.
func Load() *Config {
	logLevel := os.Getenv("PARAPET_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	profileName := os.Getenv("PARAPET_PROFILE")
	if profileName == "" {
		profileName = "dev"
	}

	profilesDir := os.Getenv("PARAPET_PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	receiptDir := os.Getenv("PARAPET_RECEIPT_DIR")
	if receiptDir == "" {
		receiptDir = "receipts"
	}

	ledgerDSN := os.Getenv("PARAPET_LEDGER_DSN")
	if ledgerDSN == "" {
		ledgerDSN = "parapet.db"
	}

	return &Config{
		LogLevel:     logLevel,
		ProfileName:  profileName,
		ProfilesDir:  profilesDir,
		ReceiptDir:   receiptDir,
		LedgerDSN:    ledgerDSN,
		VaultDSN:     os.Getenv("PARAPET_VAULT_DSN"),
		RedisAddr:    os.Getenv("PARAPET_REDIS_ADDR"),
		AnchorBucket: os.Getenv("PARAPET_ANCHOR_BUCKET"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}
