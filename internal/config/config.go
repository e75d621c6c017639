package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL      string
	InventoryDriver  string
	InventoryDSN     string
	ScanEvidenceDir  string
	FixEvidenceDir   string
	EvidenceBucket   string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3UseSSL         bool
	JobAPIURL        string
	JobAPITimeout    time.Duration
	ServerAllowList  []string
	ReconcileWindow  time.Duration
	SweepInterval    time.Duration
	CatalogCacheSize int
	StatusVocabulary string
	HTTPAddr         string
	LogLevel         string
}

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
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

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SplitList parses a comma separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		InventoryDriver:  getString("INVENTORY_DRIVER", "mysql"),
		InventoryDSN:     os.Getenv("INVENTORY_DSN"),
		ScanEvidenceDir:  getString("SCAN_OUTPUT_DIR", "/tmp/audit/check"),
		FixEvidenceDir:   getString("FIX_OUTPUT_DIR", "/tmp/audit/fix"),
		EvidenceBucket:   os.Getenv("EVIDENCE_BUCKET"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:         getBool("S3_USE_SSL", "false"),
		JobAPIURL:        strings.TrimRight(getString("JOB_API_URL", "http://localhost:8001"), "/"),
		JobAPITimeout:    getDuration("JOB_API_TIMEOUT", 5*time.Second),
		ServerAllowList:  SplitList(os.Getenv("SERVER_ALLOWLIST")),
		ReconcileWindow:  getDuration("RECONCILE_WINDOW", 10*time.Minute),
		SweepInterval:    getDuration("SWEEP_INTERVAL", time.Minute),
		CatalogCacheSize: getInt("CATALOG_CACHE_SIZE", 512),
		StatusVocabulary: os.Getenv("STATUS_VOCABULARY"),
		HTTPAddr:         os.Getenv("HTTP_ADDR"),
		LogLevel:         getString("LOG_LEVEL", "info"),
	}
	// quick sanity
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if cfg.EvidenceBucket != "" && cfg.S3Endpoint == "" {
		return cfg, errors.New("S3_ENDPOINT is required when EVIDENCE_BUCKET is set")
	}
	if cfg.CatalogCacheSize <= 0 {
		cfg.CatalogCacheSize = 512
	}
	return cfg, nil
}
