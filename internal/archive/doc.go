// Package archive fetches historical partition files from the Binance
// public data archive.
//
// The archive is a flat HTTPS file tree with no listing endpoint: candidate
// files are enumerated by date arithmetic and missing ones surface as
// model.ErrNotFound at download time. Every archive file is a zip container
// holding one CSV.
package archive
