package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quantfall/binance-data/internal/model"
)

// RestConfig configures a RestFeed.
type RestConfig struct {
	BaseURL      string        // empty selects the per-market endpoint
	APIKey       string        // optional X-MBX-APIKEY header
	Timeout      time.Duration // per-request timeout
	PollInterval time.Duration // wait between empty polls
	PageLimit    int           // records per poll, endpoint maximum is 1000
}

// RestFeed polls the aggTrades REST endpoint. fromId pagination resumes
// exactly after a continuation point, so a restarted updater replays no
// records and skips none.
type RestFeed struct {
	cfg        RestConfig
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Feed = (*RestFeed)(nil)

// NewRestFeed creates a polling feed.
func NewRestFeed(cfg RestConfig, logger *slog.Logger) *RestFeed {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PageLimit == 0 {
		cfg.PageLimit = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RestFeed{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Subscribe starts polling after the continuation point.
func (f *RestFeed) Subscribe(ctx context.Context, series model.Series, from ContinuationPoint) (Stream, error) {
	if err := checkStreamable(series); err != nil {
		return nil, err
	}

	base := f.cfg.BaseURL
	if base == "" {
		base = marketRestBase(series.Market)
	}

	st := &restStream{
		feed:     f,
		series:   series,
		endpoint: strings.TrimSuffix(base, "/") + marketAggTradesPath(series.Market),
		nextID:   model.NoID,
		minTime:  from.Time,
	}
	if from.ID >= 0 {
		st.nextID = from.ID + 1
	}

	f.logger.Debug("rest feed subscribed",
		"series", series.String(),
		"from_id", st.nextID,
	)
	return st, nil
}

type restStream struct {
	feed     *RestFeed
	series   model.Series
	endpoint string
	nextID   int64 // next fromId to request, NoID polls the latest page
	minTime  int64 // resuming without an id: drop records at or before this
	buf      []model.Record
}

func (st *restStream) Next(ctx context.Context) (model.Record, error) {
	for {
		if len(st.buf) > 0 {
			rec := st.buf[0]
			st.buf = st.buf[1:]
			return rec, nil
		}

		records, err := st.poll(ctx)
		if err != nil {
			return model.Record{}, err
		}
		if len(records) == 0 {
			select {
			case <-ctx.Done():
				return model.Record{}, ctx.Err()
			case <-time.After(st.feed.cfg.PollInterval):
			}
			continue
		}
		st.buf = records
	}
}

func (st *restStream) Close() error { return nil }

func (st *restStream) poll(ctx context.Context) ([]model.Record, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(st.series.Symbol))
	q.Set("limit", strconv.Itoa(st.feed.cfg.PageLimit))
	if st.nextID >= 0 {
		q.Set("fromId", strconv.FormatInt(st.nextID, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, st.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", st.series, err)
	}
	if st.feed.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", st.feed.cfg.APIKey)
	}

	resp, err := st.feed.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("poll %s: %w: %w", st.series, model.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w: %w", st.series, model.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll %s: status %d: %s: %w",
			st.series, resp.StatusCode, truncateBody(body), model.ErrUnavailable)
	}

	var msgs []aggTradeMsg
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("poll %s: %w: %w", st.series, model.ErrDecodeFailure, err)
	}

	records := make([]model.Record, 0, len(msgs))
	for _, m := range msgs {
		rec := m.record(st.series)
		if st.nextID < 0 && st.minTime > 0 && rec.Time <= st.minTime {
			continue
		}
		records = append(records, rec)
	}
	if len(msgs) > 0 {
		st.nextID = msgs[len(msgs)-1].ID + 1
	}
	return records, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
