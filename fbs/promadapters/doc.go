// Package promadapters provides a Prometheus adapter for the dependency-free
// observability interfaces in the fbs package.
//
// The collector creates one Prometheus metric vector per metric name on first
// use and registers it with the configured Registerer. Label keys are fixed by
// the first observation of a metric name; later observations carrying unknown
// keys have those keys dropped, and missing keys are reported as empty values.
// Scrape the configured registry via promhttp to expose the metrics.
package promadapters
