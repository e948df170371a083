package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfall/binance-data/internal/model"
)

// StreamConfig configures a StreamFeed.
type StreamConfig struct {
	BaseURL      string        // empty selects the per-market endpoint
	PingInterval time.Duration // keepalive ping period
	ReadTimeout  time.Duration // stale connection cutoff
}

// StreamFeed consumes <symbol>@aggTrade WebSocket streams. A WebSocket
// stream always starts at the live edge: events replayed at or below the
// continuation point's id are dropped here, while any hole between the
// point and the first event is the subscriber's to detect.
type StreamFeed struct {
	cfg    StreamConfig
	logger *slog.Logger
}

var _ Feed = (*StreamFeed)(nil)

// NewStreamFeed creates a WebSocket feed.
func NewStreamFeed(cfg StreamConfig, logger *slog.Logger) *StreamFeed {
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamFeed{cfg: cfg, logger: logger}
}

// Subscribe dials the series' aggTrade stream.
func (f *StreamFeed) Subscribe(ctx context.Context, series model.Series, from ContinuationPoint) (Stream, error) {
	if err := checkStreamable(series); err != nil {
		return nil, err
	}

	base := f.cfg.BaseURL
	if base == "" {
		base = marketWSBase(series.Market)
	}
	streamURL := strings.TrimSuffix(base, "/") + "/" + strings.ToLower(series.Symbol) + "@aggTrade"

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %w", streamURL, model.ErrUnavailable, err)
	}

	st := &wsStream{
		feed:   f,
		series: series,
		conn:   conn,
		lastID: from.ID,
		done:   make(chan struct{}),
	}

	// The server pings periodically; both directions refresh the read
	// deadline so a silent connection times out.
	conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		return nil
	})

	go st.keepaliveLoop()

	f.logger.Debug("websocket subscribed", "url", streamURL)
	return st, nil
}

type wsStream struct {
	feed   *StreamFeed
	series model.Series
	conn   *websocket.Conn

	writeMu sync.Mutex

	lastID int64 // events at or below this id are replays

	done      chan struct{}
	closeOnce sync.Once
}

// Next blocks until the next aggTrade event. Cancelling ctx closes the
// connection to unblock the read.
func (st *wsStream) Next(ctx context.Context) (model.Record, error) {
	stop := context.AfterFunc(ctx, func() { st.conn.Close() })
	defer stop()

	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return model.Record{}, ctx.Err()
			}
			select {
			case <-st.done:
				return model.Record{}, net.ErrClosed
			default:
			}
			return model.Record{}, fmt.Errorf("stream %s: %w: %w", st.series, model.ErrUnavailable, err)
		}
		st.conn.SetReadDeadline(time.Now().Add(st.feed.cfg.ReadTimeout))

		var msg aggTradeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return model.Record{}, fmt.Errorf("stream %s: %w: %w", st.series, model.ErrDecodeFailure, err)
		}
		if msg.ID <= st.lastID {
			continue
		}
		st.lastID = msg.ID
		return msg.record(st.series), nil
	}
}

// Close sends a close frame and tears down the connection.
func (st *wsStream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		close(st.done)
		st.writeMu.Lock()
		st.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		st.writeMu.Unlock()
		err = st.conn.Close()
	})
	return err
}

// keepaliveLoop pings the server so intermediaries keep the connection
// open.
func (st *wsStream) keepaliveLoop() {
	ticker := time.NewTicker(st.feed.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
			st.writeMu.Lock()
			err := st.conn.WriteControl(
				websocket.PingMessage,
				[]byte("keepalive"),
				time.Now().Add(time.Second),
			)
			st.writeMu.Unlock()
			if err != nil {
				st.feed.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
