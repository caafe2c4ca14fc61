// Package scheduler runs the periodic jobs of the alerting pipeline:
// market-hours gated watchlist collection, alert rule evaluation and the
// trigger retry sweep. Each job is an explicit object armed through a
// TickerFactory so tests can drive ticks without timers.
package scheduler
