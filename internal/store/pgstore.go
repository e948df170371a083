package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfall/binance-data/internal/model"
)

// pgSchema creates the shared records table. record_id is -1 for series
// without an identity column, so the primary key degrades to the ordering
// key for keyless data.
const pgSchema = `
CREATE TABLE IF NOT EXISTS canonical_records (
	market    text   NOT NULL,
	data_type text   NOT NULL,
	symbol    text   NOT NULL,
	interval  text   NOT NULL DEFAULT '',
	record_id bigint NOT NULL,
	time_us   bigint NOT NULL,
	payload   bytea  NOT NULL,
	PRIMARY KEY (market, data_type, symbol, interval, record_id, time_us)
)`

// PGStore mirrors canonical records into PostgreSQL. Batch appends use
// ON CONFLICT DO NOTHING so replayed feed records land as conflicts
// instead of errors.
type PGStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a store over an existing pool.
func NewPGStore(db *pgxpool.Pool, logger *slog.Logger) *PGStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{db: db, logger: logger}
}

// Init creates the records table when missing.
func (s *PGStore) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("create canonical_records: %w", err)
	}
	return nil
}

// Load reads all records for a series in key order.
func (s *PGStore) Load(ctx context.Context, series model.Series) (*model.Dataset, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	market, dataType, symbol, interval := seriesKey(series)

	rows, err := s.db.Query(ctx, `
		SELECT time_us, record_id, payload
		FROM canonical_records
		WHERE market = $1 AND data_type = $2 AND symbol = $3 AND interval = $4
		ORDER BY time_us, record_id
	`, market, dataType, symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", series, err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var rec model.Record
		if err := rows.Scan(&rec.Time, &rec.ID, &rec.Payload); err != nil {
			return nil, fmt.Errorf("load %s: %w", series, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", series, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("load %s: %w", series, model.ErrNotFound)
	}

	return &model.Dataset{
		Series:   series,
		Coverage: model.TimeRange{Start: records[0].Time, End: records[len(records)-1].Time},
		Records:  records,
	}, nil
}

// Replace swaps the series' rows inside one transaction.
func (s *PGStore) Replace(ctx context.Context, ds *model.Dataset) error {
	if err := ds.Series.Validate(); err != nil {
		return err
	}
	market, dataType, symbol, interval := seriesKey(ds.Series)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace %s: %w", ds.Series, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM canonical_records
		WHERE market = $1 AND data_type = $2 AND symbol = $3 AND interval = $4
	`, market, dataType, symbol, interval); err != nil {
		return fmt.Errorf("replace %s: %w", ds.Series, err)
	}

	if _, err := batchInsert(ctx, tx, ds.Series, ds.Records); err != nil {
		return fmt.Errorf("replace %s: %w", ds.Series, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace %s: %w", ds.Series, err)
	}

	s.logger.Debug("replaced canonical records",
		"series", ds.Series.String(),
		"records", len(ds.Records),
	)
	return nil
}

// Append inserts tail records, absorbing exact replays as conflicts.
func (s *PGStore) Append(ctx context.Context, series model.Series, records []model.Record) error {
	if err := series.Validate(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	conflicts, err := batchInsert(ctx, s.db, series, records)
	if err != nil {
		return fmt.Errorf("append %s: %w", series, err)
	}
	if conflicts > 0 {
		s.logger.Debug("append absorbed conflicts",
			"series", series.String(),
			"conflicts", conflicts,
		)
	}
	return nil
}

// Tail returns the last stored record for a series.
func (s *PGStore) Tail(ctx context.Context, series model.Series) (model.Record, bool, error) {
	if err := series.Validate(); err != nil {
		return model.Record{}, false, err
	}
	market, dataType, symbol, interval := seriesKey(series)

	var rec model.Record
	err := s.db.QueryRow(ctx, `
		SELECT time_us, record_id, payload
		FROM canonical_records
		WHERE market = $1 AND data_type = $2 AND symbol = $3 AND interval = $4
		ORDER BY time_us DESC, record_id DESC
		LIMIT 1
	`, market, dataType, symbol, interval).Scan(&rec.Time, &rec.ID, &rec.Payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, fmt.Errorf("tail %s: %w", series, err)
	}
	return rec, true, nil
}

func seriesKey(series model.Series) (market, dataType, symbol, interval string) {
	return string(series.Market), string(series.DataType),
		strings.ToUpper(series.Symbol), string(series.Interval)
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// batchInsert inserts records using pgx.Batch with ON CONFLICT DO NOTHING.
func batchInsert(ctx context.Context, q batchSender, series model.Series, records []model.Record) (conflicts int, err error) {
	if len(records) == 0 {
		return 0, nil
	}
	market, dataType, symbol, interval := seriesKey(series)

	batch := &pgx.Batch{}
	for i := range records {
		batch.Queue(`
			INSERT INTO canonical_records (market, data_type, symbol, interval, record_id, time_us, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (market, data_type, symbol, interval, record_id, time_us) DO NOTHING
		`, market, dataType, symbol, interval, records[i].ID, records[i].Time, records[i].Payload)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
