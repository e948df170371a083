// Package catalog discovers which partitions exist for a series in a local
// archive tree, derives each partition's covering range from its filename,
// and orders them for the merge engine.
//
// The catalog's job is discovery and ordering only: overlapping partitions
// of different granularity are both retained, and precedence between them
// belongs to the merge engine.
package catalog
