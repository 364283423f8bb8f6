// Package triage provides the business boundary for HyperStream's alert
// review pipeline. It defines the Store interface (persistence), the
// Coordinator (per-alert claim state machine), and the domain metrics.
package triage
