// Package codec decodes partition files into records and encodes canonical
// artifacts back to disk formats.
//
// Three formats are supported: zip (a single headerless CSV inside a zip
// container, the archive's publication format), csv (with or without a
// header line) and parquet (engine-written artifacts with a zstd-compressed
// payload column). Decoding preserves each record's ordering and identity
// keys exactly; the remaining fields travel as the verbatim source row in
// Record.Payload.
package codec
