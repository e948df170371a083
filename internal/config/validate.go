package config

import (
	"errors"
	"fmt"

	"github.com/quantfall/binance-data/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Archive.MaxRetries < 0 {
		return errors.New("archive.max_retries must be >= 0")
	}

	format, err := model.ParseFormat(c.Storage.Format)
	if err != nil || format == model.FormatZip {
		return fmt.Errorf("storage.format must be csv or parquet, got %q", c.Storage.Format)
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if len(c.Series) == 0 {
		return errors.New("at least one series is required")
	}
	for i, s := range c.Series {
		if _, err := s.Series(); err != nil {
			return fmt.Errorf("series[%d]: %w", i, err)
		}
	}

	if c.Merge.Workers < 1 {
		return errors.New("merge.workers must be >= 1")
	}
	if c.Backfill.Concurrency < 1 {
		return errors.New("backfill.concurrency must be >= 1")
	}

	if c.Updater.BatchSize < 1 {
		return errors.New("updater.batch_size must be >= 1")
	}
	if c.Updater.DedupWindow < 1 {
		return errors.New("updater.dedup_window must be >= 1")
	}
	if c.Updater.MaxReconnects < 0 {
		return errors.New("updater.max_reconnects must be >= 0")
	}
	if c.Updater.ReconnectBaseDelay > c.Updater.ReconnectMaxDelay {
		return fmt.Errorf("updater.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Updater.ReconnectBaseDelay, c.Updater.ReconnectMaxDelay)
	}

	if c.Feed.Transport != "rest" && c.Feed.Transport != "websocket" {
		return fmt.Errorf("feed.transport must be rest or websocket, got %q", c.Feed.Transport)
	}
	if c.Feed.PageLimit < 1 {
		return errors.New("feed.page_limit must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
