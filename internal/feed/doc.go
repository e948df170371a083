// Package feed delivers live records for a series from the exchange.
//
// Two implementations share the Feed interface: RestFeed polls the
// aggTrades endpoint with fromId pagination, giving exact resume from a
// continuation point; StreamFeed consumes the <symbol>@aggTrade WebSocket
// stream, which always starts at the live edge. Records carry the same
// payload column order as archive partitions, so feed output merges
// cleanly with archive data.
package feed
