// Package rollup summarizes the live window into one DailyAverage document
// per calendar day.
//
// The aggregator polls the clock on a short interval rather than scheduling a
// timer for midnight, so clock jumps and suspended hosts are handled the same
// way as an ordinary boundary: the next check notices the date changed.
//
// Averages are arithmetic means of the per-sample counts, rounded half-up:
//
//	[10, 20, 30] -> 20
//	[1, 2]       -> 2
//
// Only the samples still in the window when the date changes contribute, so
// the average describes the tail of the day, not the whole day.
package rollup
