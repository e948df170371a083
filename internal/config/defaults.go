package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultArchiveURL     = "https://data.binance.vision"
	DefaultArchiveTimeout = 60 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 1 * time.Second

	DefaultStorageRoot   = "data"
	DefaultStorageFormat = "parquet"

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultMergeWorkers        = 4
	DefaultBackfillConcurrency = 5

	DefaultBatchSize          = 1000
	DefaultFlushInterval      = 1 * time.Second
	DefaultDedupWindow        = 8192
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultMaxReconnects      = 10

	DefaultFeedTransport = "rest"
	DefaultFeedTimeout   = 10 * time.Second
	DefaultPollInterval  = 2 * time.Second
	DefaultPageLimit     = 1000
	DefaultPingInterval  = 15 * time.Second
	DefaultReadTimeout   = 30 * time.Second

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

func (c *Config) applyDefaults() {
	// Archive defaults
	if c.Archive.BaseURL == "" {
		c.Archive.BaseURL = DefaultArchiveURL
	}
	if c.Archive.Timeout == 0 {
		c.Archive.Timeout = DefaultArchiveTimeout
	}
	if c.Archive.MaxRetries == 0 {
		c.Archive.MaxRetries = DefaultMaxRetries
	}
	if c.Archive.RetryBackoff == 0 {
		c.Archive.RetryBackoff = DefaultRetryBackoff
	}

	// Storage defaults
	if c.Storage.Root == "" {
		c.Storage.Root = DefaultStorageRoot
	}
	if c.Storage.Format == "" {
		c.Storage.Format = DefaultStorageFormat
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Merge and backfill defaults
	if c.Merge.Workers == 0 {
		c.Merge.Workers = DefaultMergeWorkers
	}
	if c.Backfill.Concurrency == 0 {
		c.Backfill.Concurrency = DefaultBackfillConcurrency
	}

	// Updater defaults
	if c.Updater.BatchSize == 0 {
		c.Updater.BatchSize = DefaultBatchSize
	}
	if c.Updater.FlushInterval == 0 {
		c.Updater.FlushInterval = DefaultFlushInterval
	}
	if c.Updater.DedupWindow == 0 {
		c.Updater.DedupWindow = DefaultDedupWindow
	}
	if c.Updater.ReconnectBaseDelay == 0 {
		c.Updater.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Updater.ReconnectMaxDelay == 0 {
		c.Updater.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Updater.MaxReconnects == 0 {
		c.Updater.MaxReconnects = DefaultMaxReconnects
	}

	// Feed defaults. Empty rest_url and ws_url stay empty so the feed
	// package can select the per-market endpoint.
	if c.Feed.Transport == "" {
		c.Feed.Transport = DefaultFeedTransport
	}
	if c.Feed.Timeout == 0 {
		c.Feed.Timeout = DefaultFeedTimeout
	}
	if c.Feed.PollInterval == 0 {
		c.Feed.PollInterval = DefaultPollInterval
	}
	if c.Feed.PageLimit == 0 {
		c.Feed.PageLimit = DefaultPageLimit
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.ReadTimeout == 0 {
		c.Feed.ReadTimeout = DefaultReadTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
