// Package sinks implements progress consumers backed by zap and Prometheus.
package sinks
