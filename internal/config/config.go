package config

import (
	"time"

	"github.com/quantfall/binance-data/internal/model"
)

// Config is the root configuration shared by the backfill and updater
// commands.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Series   []SeriesConfig `yaml:"series"`
	Merge    MergeConfig    `yaml:"merge"`
	Backfill BackfillConfig `yaml:"backfill"`
	Updater  UpdaterConfig  `yaml:"updater"`
	Feed     FeedConfig     `yaml:"feed"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ArchiveConfig holds Binance public archive settings.
type ArchiveConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	VerifyChecksums bool          `yaml:"verify_checksums"`
}

// StorageConfig holds the local archive tree settings.
type StorageConfig struct {
	Root   string `yaml:"root"`   // root of the partition tree and canonical artifacts
	Format string `yaml:"format"` // canonical artifact encoding: csv or parquet
}

// DatabaseConfig holds the optional PostgreSQL mirror of canonical records.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// SeriesConfig names one series to manage.
type SeriesConfig struct {
	Market   string `yaml:"market"`
	DataType string `yaml:"data_type"`
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"` // kline-style data types only
}

// Series converts the config entry into a validated model series.
func (s SeriesConfig) Series() (model.Series, error) {
	out := model.Series{
		Market:   model.Market(s.Market),
		DataType: model.DataType(s.DataType),
		Symbol:   s.Symbol,
		Interval: model.Interval(s.Interval),
	}
	if err := out.Validate(); err != nil {
		return model.Series{}, err
	}
	return out, nil
}

// MergeConfig holds merge engine settings.
type MergeConfig struct {
	Workers int `yaml:"workers"`
}

// BackfillConfig holds backfill runner settings.
type BackfillConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// UpdaterConfig holds live updater settings.
type UpdaterConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	FlushInterval      time.Duration `yaml:"flush_interval"`
	DedupWindow        int           `yaml:"dedup_window"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnects      int           `yaml:"max_reconnects"`
}

// FeedConfig holds live feed settings. Empty URLs select the per-market
// default endpoints.
type FeedConfig struct {
	Transport    string        `yaml:"transport"` // rest or websocket
	RestURL      string        `yaml:"rest_url"`
	WSURL        string        `yaml:"ws_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PageLimit    int           `yaml:"page_limit"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
