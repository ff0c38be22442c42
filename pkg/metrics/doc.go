// Package metrics defines and registers the Prometheus metrics exposed by
// the component framework: container/component counts, and scheduler
// firing/drop/jitter statistics. Metrics are registered at package init
// time and exposed for scraping via Handler.
package metrics
