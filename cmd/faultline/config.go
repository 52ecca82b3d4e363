package main

import (
	"time"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultAPIPort             = 3000
	defaultOTLPPort            = 4317
	defaultQueryTimeout        = 30 * time.Second
	defaultInsertBatchSize     = 2000
	defaultInsertFlushInterval = 100 * time.Millisecond
	defaultInsertFlushQueue    = 64
	defaultEventRetention      = 30 // days, 0 = disabled
	defaultRateCeiling         = 10_000
	defaultRateWindow          = time.Minute
	defaultDedupWindow         = 10 * time.Minute
	defaultDedupMaxEntries     = 1_000_000
	defaultSampleCapacity      = 20
	defaultSimilarityThresh    = 0.8
	defaultCandidateLimit      = 32
	defaultSnapshotInterval    = 5 * time.Second
	defaultOTLPSeverityFloor   = "ERROR"
	defaultTCPPort             = 4000
	defaultBackupInterval      = 6 * time.Hour
	defaultBackupKeepLast      = 24
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	DBPath              string            `mapstructure:"db-path"`
	QueryTimeout        time.Duration     `mapstructure:"query-timeout"`
	APIEnabled          bool              `mapstructure:"api-enabled"`
	APIPort             int               `mapstructure:"api-port"`
	APIAddr             string            `mapstructure:"api-addr"`
	APITokens           map[string]string `mapstructure:"api-tokens"` // API key -> tenant
	OTLPEnabled         bool              `mapstructure:"otlp-enabled"`
	OTLPPort            int               `mapstructure:"otlp-port"`
	OTLPAddr            string            `mapstructure:"otlp-addr"`
	OTLPDefaultTenant   string            `mapstructure:"otlp-default-tenant"`
	OTLPSeverityFloor   string            `mapstructure:"otlp-severity-floor"`
	TCPEnabled          bool              `mapstructure:"tcp-enabled"`
	TCPPort             int               `mapstructure:"tcp-port"`
	TCPAddr             string            `mapstructure:"tcp-addr"`
	TCPDefaultTenant    string            `mapstructure:"tcp-default-tenant"`
	JournalEnabled      bool              `mapstructure:"journal-enabled"`
	JournalPath         string            `mapstructure:"journal-path"`
	InsertBatchSize     int               `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration     `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int               `mapstructure:"insert-flush-queue-size"`
	EventRetention      int               `mapstructure:"event-retention"`
	RateCeiling         int               `mapstructure:"rate-ceiling"`
	RateWindow          time.Duration     `mapstructure:"rate-window"`
	DedupWindow         time.Duration     `mapstructure:"dedup-window"`
	DedupMaxEntries     int               `mapstructure:"dedup-max-entries"`
	SampleCapacity      int               `mapstructure:"sample-capacity"`
	AlertThreshold      int64             `mapstructure:"alert-threshold"`
	FuzzyEnabled        bool              `mapstructure:"fuzzy-grouping"`
	SimilarityThreshold float64           `mapstructure:"similarity-threshold"`
	CandidateLimit      int               `mapstructure:"candidate-limit"`
	RulesPath           string            `mapstructure:"rules-path"`
	SnapshotInterval    time.Duration     `mapstructure:"snapshot-interval"`
	BackupEnabled       bool              `mapstructure:"backup-enabled"`
	BackupInterval      time.Duration     `mapstructure:"backup-interval"`
	BackupLocalDir      string            `mapstructure:"backup-local-dir"`
	BackupKeepLast      int               `mapstructure:"backup-keep-last"`
	BackupBucketURL     string            `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint    string            `mapstructure:"backup-s3-endpoint"`
	BackupS3Region      string            `mapstructure:"backup-s3-region"`
	BackupS3AccessKey   string            `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey   string            `mapstructure:"backup-s3-secret-key"`
	BackupS3Token       string            `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL      bool              `mapstructure:"backup-s3-use-ssl"`
	ConfigPath          string            `mapstructure:"-"` // not from config file
}
