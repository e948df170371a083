package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfall/binance-data/internal/model"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-backfill
archive:
  base_url: https://archive.example.test
storage:
  root: /tmp/binance-data
series:
  - market: spot
    data_type: aggTrades
    symbol: BTCUSDT
  - market: um
    data_type: klines
    symbol: ETHUSDT
    interval: 1h
database:
  enabled: true
  postgres:
    host: localhost
    port: 5432
    name: test_db
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-backfill" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-backfill")
	}
	if cfg.Archive.BaseURL != "https://archive.example.test" {
		t.Errorf("Archive.BaseURL = %q, want %q", cfg.Archive.BaseURL, "https://archive.example.test")
	}
	if cfg.Storage.Root != "/tmp/binance-data" {
		t.Errorf("Storage.Root = %q, want %q", cfg.Storage.Root, "/tmp/binance-data")
	}
	if len(cfg.Series) != 2 {
		t.Fatalf("len(Series) = %d, want 2", len(cfg.Series))
	}
	if cfg.Series[1].Interval != "1h" {
		t.Errorf("Series[1].Interval = %q, want %q", cfg.Series[1].Interval, "1h")
	}
	if cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database.Postgres.Host = %q, want %q", cfg.Database.Postgres.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-backfill
database:
  enabled: true
  postgres:
    host: localhost
    name: test_db
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-backfill
series:
  - market: spot
    data_type: aggTrades
    symbol: BTCUSDT
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Archive.BaseURL != DefaultArchiveURL {
		t.Errorf("Archive.BaseURL = %q, want default %q", cfg.Archive.BaseURL, DefaultArchiveURL)
	}
	if cfg.Archive.Timeout != DefaultArchiveTimeout {
		t.Errorf("Archive.Timeout = %v, want default %v", cfg.Archive.Timeout, DefaultArchiveTimeout)
	}
	if cfg.Storage.Format != DefaultStorageFormat {
		t.Errorf("Storage.Format = %q, want default %q", cfg.Storage.Format, DefaultStorageFormat)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Updater.BatchSize != DefaultBatchSize {
		t.Errorf("Updater.BatchSize = %d, want default %d", cfg.Updater.BatchSize, DefaultBatchSize)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Feed.RestURL != "" {
		t.Errorf("Feed.RestURL = %q, want empty for per-market selection", cfg.Feed.RestURL)
	}
	if cfg.Feed.Transport != DefaultFeedTransport {
		t.Errorf("Feed.Transport = %q, want default %q", cfg.Feed.Transport, DefaultFeedTransport)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Instance: InstanceConfig{ID: "test"},
		Storage:  StorageConfig{Root: "data", Format: "parquet"},
		Series:   []SeriesConfig{{Market: "spot", DataType: "aggTrades", Symbol: "BTCUSDT"}},
		Merge:    MergeConfig{Workers: 4},
		Backfill: BackfillConfig{Concurrency: 5},
		Updater: UpdaterConfig{
			BatchSize:          1000,
			DedupWindow:        8192,
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  time.Minute,
		},
		Feed:    FeedConfig{Transport: "rest", PageLimit: 1000},
		Metrics: MetricsConfig{Port: 9090},
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad storage format",
			mutate:  func(c *Config) { c.Storage.Format = "avro" },
			wantErr: `storage.format must be csv or parquet, got "avro"`,
		},
		{
			name:    "zip is not a canonical format",
			mutate:  func(c *Config) { c.Storage.Format = "zip" },
			wantErr: `storage.format must be csv or parquet, got "zip"`,
		},
		{
			name:    "database enabled without host",
			mutate:  func(c *Config) { c.Database.Enabled = true },
			wantErr: "database.postgres.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Postgres = DBConfig{
					Host: "localhost", Name: "db", User: "user", Password: "pass",
					MaxConns: 5, MinConns: 10,
				}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "no series",
			mutate:  func(c *Config) { c.Series = nil },
			wantErr: "at least one series is required",
		},
		{
			name: "invalid series",
			mutate: func(c *Config) {
				c.Series = []SeriesConfig{{Market: "spot", DataType: "fundingRate", Symbol: "BTCUSDT"}}
			},
			wantErr: `series[0]: data type "fundingRate" not published for market "spot"`,
		},
		{
			name:    "zero merge workers",
			mutate:  func(c *Config) { c.Merge.Workers = 0 },
			wantErr: "merge.workers must be >= 1",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Updater.BatchSize = 0 },
			wantErr: "updater.batch_size must be >= 1",
		},
		{
			name: "reconnect base exceeds max",
			mutate: func(c *Config) {
				c.Updater.ReconnectBaseDelay = 2 * time.Minute
			},
			wantErr: "updater.reconnect_base_delay (2m0s) cannot exceed reconnect_max_delay (1m0s)",
		},
		{
			name:    "bad feed transport",
			mutate:  func(c *Config) { c.Feed.Transport = "grpc" },
			wantErr: `feed.transport must be rest or websocket, got "grpc"`,
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Series = append([]SeriesConfig(nil), valid.Series...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestSeriesConfigSeries(t *testing.T) {
	sc := SeriesConfig{Market: "um", DataType: "klines", Symbol: "ethusdt", Interval: "1h"}
	s, err := sc.Series()
	if err != nil {
		t.Fatalf("Series() failed: %v", err)
	}
	want := model.Series{
		Market:   model.MarketUM,
		DataType: model.DataTypeKlines,
		Symbol:   "ethusdt",
		Interval: model.Interval1h,
	}
	if s != want {
		t.Errorf("Series() = %+v, want %+v", s, want)
	}

	bad := SeriesConfig{Market: "spot", DataType: "trades", Symbol: "BTCUSDT", Interval: "1h"}
	if _, err := bad.Series(); err == nil {
		t.Error("Series() with interval on non-kline type should fail")
	}
}
