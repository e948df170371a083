package feed

import (
	"fmt"

	"github.com/quantfall/binance-data/internal/model"
)

// aggTradeMsg is the aggTrade shape shared by the REST endpoint and the
// WebSocket stream (stream events carry extra envelope fields, ignored
// here).
type aggTradeMsg struct {
	ID           int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	Time         int64  `json:"T"` // milliseconds
	BuyerMaker   bool   `json:"m"`
	BestMatch    bool   `json:"M"`
}

// record renders the message as a canonical record. The payload follows
// the archive CSV column order; futures rows have no isBestMatch column.
func (m aggTradeMsg) record(series model.Series) model.Record {
	row := fmt.Sprintf("%d,%s,%s,%d,%d,%d,%t",
		m.ID, m.Price, m.Quantity, m.FirstTradeID, m.LastTradeID, m.Time, m.BuyerMaker)
	if series.Market == model.MarketSpot {
		row += fmt.Sprintf(",%t", m.BestMatch)
	}
	return model.Record{
		Time:    model.NormalizeMicros(m.Time),
		ID:      m.ID,
		Payload: []byte(row),
	}
}

// marketRestBase returns the REST API host for a market.
func marketRestBase(m model.Market) string {
	switch m {
	case model.MarketUM:
		return "https://fapi.binance.com"
	case model.MarketCM:
		return "https://dapi.binance.com"
	}
	return "https://api.binance.com"
}

// marketAggTradesPath returns the aggTrades endpoint path for a market.
func marketAggTradesPath(m model.Market) string {
	switch m {
	case model.MarketUM:
		return "/fapi/v1/aggTrades"
	case model.MarketCM:
		return "/dapi/v1/aggTrades"
	}
	return "/api/v3/aggTrades"
}

// marketWSBase returns the WebSocket stream host for a market.
func marketWSBase(m model.Market) string {
	switch m {
	case model.MarketUM:
		return "wss://fstream.binance.com/ws"
	case model.MarketCM:
		return "wss://dstream.binance.com/ws"
	}
	return "wss://stream.binance.com:9443/ws"
}

// checkStreamable rejects series the live endpoints do not publish.
func checkStreamable(series model.Series) error {
	if err := series.Validate(); err != nil {
		return err
	}
	if series.DataType != model.DataTypeAggTrades {
		return fmt.Errorf("feed: %s: only aggTrades streaming is supported", series)
	}
	return nil
}
