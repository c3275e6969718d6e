// Package observability provides structured logging, Prometheus metrics and
// health checks for billingd.
package observability
