package model

// Archive CSV column layouts, in published order. Spot rows carry an
// is_best_match column that futures rows drop.
var (
	aggTradesColumns = []string{
		"agg_id", "price", "quantity", "first_trade_id", "last_trade_id",
		"timestamp", "is_buyer_maker", "is_best_match",
	}
	tradesColumns = []string{
		"id", "price", "quantity", "quote_quantity", "timestamp",
		"is_buyer_maker", "is_best_match",
	}
	klineColumns = []string{
		"open_time", "open", "high", "low", "close", "volume", "close_time",
		"quote_volume", "count", "taker_buy_volume", "taker_buy_quote_volume",
		"ignore",
	}
	bookTickerColumns = []string{
		"update_id", "best_bid_price", "best_bid_qty", "best_ask_price",
		"best_ask_qty", "transaction_time", "event_time",
	}
	fundingRateColumns = []string{
		"calc_time", "funding_interval_hours", "last_funding_rate",
	}
)

// Columns returns the CSV column names for the series, in row order.
func (s Series) Columns() []string {
	switch s.DataType {
	case DataTypeAggTrades:
		if s.Market == MarketSpot {
			return aggTradesColumns
		}
		return aggTradesColumns[:len(aggTradesColumns)-1]
	case DataTypeTrades:
		if s.Market == MarketSpot {
			return tradesColumns
		}
		return tradesColumns[:len(tradesColumns)-1]
	case DataTypeBookTicker:
		return bookTickerColumns
	case DataTypeFundingRate:
		return fundingRateColumns
	}
	if s.DataType.IsKlines() {
		return klineColumns
	}
	return nil
}

// TimeColumn returns the index of the ordering-key column in a row.
func (s Series) TimeColumn() int {
	switch s.DataType {
	case DataTypeAggTrades:
		return 5
	case DataTypeTrades:
		return 4
	case DataTypeBookTicker:
		return 5
	case DataTypeFundingRate:
		return 0
	}
	if s.DataType.IsKlines() {
		return 0
	}
	return -1
}

// IDColumn returns the index of the identity-key column in a row, or -1 for
// data types without a per-record identity.
func (s Series) IDColumn() int {
	switch s.DataType {
	case DataTypeAggTrades, DataTypeTrades, DataTypeBookTicker:
		return 0
	}
	return -1
}

// HasIdentity reports whether the series' records carry exchange-assigned
// identity keys.
func (s Series) HasIdentity() bool { return s.IDColumn() >= 0 }

// Granularities returns the partition granularities the archive publishes
// for the series, finest first. fundingRate ships monthly only; multi-day
// kline intervals have no daily files.
func (s Series) Granularities() []Granularity {
	if s.DataType == DataTypeFundingRate {
		return []Granularity{GranularityMonthly}
	}
	if s.DataType.IsKlines() && !s.Interval.DailyArchived() {
		return []Granularity{GranularityMonthly}
	}
	return []Granularity{GranularityDaily, GranularityMonthly}
}
