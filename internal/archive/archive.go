package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/quantfall/binance-data/internal/catalog"
	"github.com/quantfall/binance-data/internal/model"
)

var _ catalog.Fetcher = (*Client)(nil)

// earliestByMarket holds the first dates the archive serves per market
// segment.
var earliestByMarket = map[model.Market]time.Time{
	model.MarketSpot: time.Date(2017, time.August, 15, 0, 0, 0, 0, time.UTC),
	model.MarketUM:   time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
	model.MarketCM:   time.Date(2020, time.August, 1, 0, 0, 0, 0, time.UTC),
}

// EarliestAvailable returns the first date the archive serves for the
// series' market.
func (c *Client) EarliestAvailable(series model.Series) (time.Time, error) {
	if err := series.Validate(); err != nil {
		return time.Time{}, err
	}
	return earliestByMarket[series.Market], nil
}

// ListAvailable enumerates the partitions the archive can serve whose ranges
// intersect within: one monthly descriptor per month strictly before the
// final month, then daily descriptors through the final day. Series without
// daily files get monthly descriptors throughout. The archive publishes a
// day's file the following day, so the final day is clamped to yesterday.
func (c *Client) ListAvailable(_ context.Context, series model.Series, within model.TimeRange) ([]catalog.Descriptor, error) {
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("list available: %w", err)
	}
	if !within.Valid() {
		return nil, fmt.Errorf("list available: invalid range %s", within)
	}

	startDay := model.Day(model.FromMicros(within.Start))
	if earliest := earliestByMarket[series.Market]; startDay.Before(earliest) {
		startDay = earliest
	}
	lastDay := model.Day(model.FromMicros(within.End))
	if latest := model.Day(time.Now().UTC()).AddDate(0, 0, -1); lastDay.After(latest) {
		lastDay = latest
	}
	if lastDay.Before(startDay) {
		return nil, nil
	}

	daily := slices.Contains(series.Granularities(), model.GranularityDaily)
	firstMonth := monthOf(startDay)
	lastMonth := monthOf(lastDay)

	var out []catalog.Descriptor
	for m := firstMonth; m.Before(lastMonth); m = m.AddDate(0, 1, 0) {
		out = append(out, catalog.Descriptor{Series: series, Granularity: model.GranularityMonthly, Date: m})
	}
	if !daily {
		out = append(out, catalog.Descriptor{Series: series, Granularity: model.GranularityMonthly, Date: lastMonth})
		return out, nil
	}

	dayCursor := lastMonth
	if startDay.After(dayCursor) {
		dayCursor = startDay
	}
	for d := dayCursor; !d.After(lastDay); d = d.AddDate(0, 0, 1) {
		out = append(out, catalog.Descriptor{Series: series, Granularity: model.GranularityDaily, Date: d})
	}
	return out, nil
}

// Download fetches one partition's zip bytes. Missing files fail with
// model.ErrNotFound, transient remote failures with model.ErrUnavailable.
func (c *Client) Download(ctx context.Context, d catalog.Descriptor) ([]byte, error) {
	name := d.Series.PartitionBasename(d.Granularity, d.Date) + model.FormatZip.Ext()
	fileURL := c.baseURL + "/" + d.Series.ArchivePath(d.Granularity) + name
	c.logger.Debug("downloading archive file", "url", fileURL)

	body, err := c.doWithRetry(ctx, fileURL)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", model.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("download %s: %w", name, err)
	}

	if c.verifySums {
		if err := c.verifyChecksum(ctx, fileURL, body); err != nil {
			return nil, fmt.Errorf("download %s: %w", name, err)
		}
	}

	return body, nil
}

// verifyChecksum fetches the published .CHECKSUM sibling and compares it
// against the downloaded bytes. Files without a published checksum pass.
func (c *Client) verifyChecksum(ctx context.Context, fileURL string, body []byte) error {
	sumBody, err := c.doWithRetry(ctx, fileURL+".CHECKSUM")
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.logger.Debug("no checksum published", "url", fileURL)
			return nil
		}
		return fmt.Errorf("fetch checksum: %w", err)
	}

	fields := strings.Fields(string(sumBody))
	if len(fields) == 0 {
		return fmt.Errorf("empty checksum file: %w", model.ErrDecodeFailure)
	}
	sum := sha256.Sum256(body)
	if !strings.EqualFold(fields[0], hex.EncodeToString(sum[:])) {
		return fmt.Errorf("checksum mismatch: %w", model.ErrDecodeFailure)
	}
	return nil
}

// monthOf truncates t to the first of its UTC month.
func monthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
