// Package model defines the shared data types of the merge engine.
//
// Conventions:
//   - Timestamps: int64 microseconds since Unix epoch, UTC
//   - Ranges: inclusive [Start, End] bounds in microseconds
//   - Identity: exchange-assigned int64 ids, NoID for data types without one
//   - Series paths and filenames follow the public Binance archive layout
package model
