// Package pagination walks the offset windows of partitioned search results.
//
// The search endpoint serves at most 150 records per request and reports the
// total through a Content-Range header. A Scanner drives one partition (one
// occupation code) from offset 0 until the total is reached or an empty page
// comes back; a BatchScanner runs many partitions through a bounded worker pool.
//
// Example usage:
//
//	scanner := pagination.NewScanner(fetcher, pagination.DefaultScanConfig(), logger)
//	batch := pagination.NewBatchScanner(scanner, pagination.DefaultConfig(), logger)
//	err := batch.ScanAll(ctx, keys, func(r pagination.PartitionResult) { ... })
//
// A partition either contributes all of its records or none of them: a failed
// window discards whatever the partition had accumulated. Token grant failures
// and cancellation are not partition failures; they stop the whole batch.
//
// All workers share the fetcher, so request spacing is governed by its rate
// limiter regardless of MaxConcurrency.
package pagination
