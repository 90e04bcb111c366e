package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Source tree
	SourceRoot      string
	SourceFolderID  string
	ExcludeFolderID string

	// Partition cache and destinations
	CacheSpreadsheetID     string
	PrimarySpreadsheetID   string
	SecondarySpreadsheetID string
	SplitYear              int

	// Ledger
	LedgerDBPath string

	// Ingestion
	CategoryAllowlist []string
	IngestBatchSize   int

	// Aggregation
	AggBatchSize    int
	TimeBudget      time.Duration
	ResumeMaxIter   int
	ResumeSleep     time.Duration
	DedupKeyColumns []string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Worker
	WorkerInterval time.Duration

	// Backend selection
	DataBackend string
}

func Load() *Config {
	cfg := &Config{
		SourceRoot:      getEnv("SOURCE_ROOT", "./data/source"),
		SourceFolderID:  getEnv("SOURCE_FOLDER_ID", ""),
		ExcludeFolderID: getEnv("EXCLUDE_FOLDER_ID", ""),

		CacheSpreadsheetID:     getEnv("CACHE_SPREADSHEET_ID", ""),
		PrimarySpreadsheetID:   getEnv("PRIMARY_SPREADSHEET_ID", ""),
		SecondarySpreadsheetID: getEnv("SECONDARY_SPREADSHEET_ID", ""),
		SplitYear:              getEnvInt("SPLIT_YEAR", 2025),

		LedgerDBPath: getEnv("LEDGER_DB_PATH", "./data/marketpipe.db"),

		CategoryAllowlist: getEnvList("CATEGORY_ALLOWLIST", []string{"*"}),
		IngestBatchSize:   getEnvInt("INGEST_BATCH_SIZE", 10000),

		AggBatchSize:    getEnvInt("AGG_BATCH_SIZE", 5000),
		TimeBudget:      getEnvDuration("TIME_BUDGET", 0),
		ResumeMaxIter:   getEnvInt("RESUME_MAX_ITER", 20),
		ResumeSleep:     getEnvDuration("RESUME_SLEEP", 5*time.Second),
		DedupKeyColumns: getEnvList("DEDUP_KEY_COLUMNS", nil),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "marketpipe"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "pipeline_control"),

		WorkerInterval: getEnvDuration("WORKER_INTERVAL", time.Hour),

		DataBackend: getEnv("DATA_BACKEND", "memory"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	validBackends := []string{"memory", "google"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.LedgerDBPath == "" {
		errors = append(errors, "ledger database path cannot be empty")
	} else {
		dir := filepath.Dir(c.LedgerDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create ledger database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.DataBackend == "google" {
		if c.CacheSpreadsheetID == "" {
			errors = append(errors, "cache spreadsheet ID is required when using google backend")
		}
		if c.PrimarySpreadsheetID == "" {
			errors = append(errors, "primary spreadsheet ID is required when using google backend")
		}
		if c.SecondarySpreadsheetID == "" {
			errors = append(errors, "secondary spreadsheet ID is required when using google backend")
		}
		// The source tree comes from Drive when a folder ID is set,
		// otherwise from the local filesystem root.
		if c.SourceFolderID == "" && c.SourceRoot == "" {
			errors = append(errors, "either SOURCE_FOLDER_ID or SOURCE_ROOT must be provided")
		}
	}

	if c.SplitYear < 1970 || c.SplitYear > 9999 {
		errors = append(errors, fmt.Sprintf("invalid split year %d: must be a four-digit year", c.SplitYear))
	}

	if len(c.CategoryAllowlist) == 0 {
		errors = append(errors, "category allow-list cannot be empty; use '*' to accept everything")
	}

	if c.IngestBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid ingest batch size %d: must be at least 1", c.IngestBatchSize))
	}
	if c.AggBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid aggregation batch size %d: must be at least 1", c.AggBatchSize))
	} else if c.AggBatchSize > 50000 {
		errors = append(errors, fmt.Sprintf("invalid aggregation batch size %d: must be at most 50000", c.AggBatchSize))
	}

	if c.TimeBudget < 0 {
		errors = append(errors, fmt.Sprintf("invalid time budget %v: must be zero (infinite) or positive", c.TimeBudget))
	}
	if c.ResumeMaxIter < 1 {
		errors = append(errors, fmt.Sprintf("invalid resume iteration cap %d: must be at least 1", c.ResumeMaxIter))
	}
	if c.ResumeSleep < 0 {
		errors = append(errors, fmt.Sprintf("invalid resume sleep %v: must not be negative", c.ResumeSleep))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.WorkerInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid worker interval %v: must be at least 1 minute", c.WorkerInterval))
	} else if c.WorkerInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid worker interval %v: must be at most 7 days", c.WorkerInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
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

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
