// Package export backs up and restores the population collections.
//
// GET /v1/export writes the stored samples and daily averages either as one
// JSON document, which POST /v1/import accepts back, or as CSV for
// spreadsheets. CSV carries one collection per download:
//
//	curl "http://localhost:8080/v1/export?start=2024-03-01T00:00:00Z" -o backup.json
//	curl "http://localhost:8080/v1/export?format=csv&collection=daily" -o daily.csv
//	curl -X POST -H "Content-Type: application/json" \
//	  --data @backup.json http://localhost:8080/v1/import
//
// The time range filters samples by timestamp and daily averages by the
// date they summarize. Imports write through the same document IDs the
// sampler and the daily rollup use, so a restored minute replaces whatever
// is stored for that minute and the live window picks it up from the
// subscription.
package export
