// Package samples supplies metric windows to the alert engine.
//
// Buffer keeps recent samples per (workspace, metric) in memory and
// implements the engine's MetricSource. Scraper fills a Buffer by polling
// Prometheus text-format endpoints: each metric family listed for a target
// is summed across its series and appended as one sample per scrape.
package samples
