// Package timeouts defines shared timeout constants used by the run
// runtime. Centralizing these values keeps the durations discoverable.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// ReportDrain limits how long a finished or canceled run waits for queued
// daily reports to reach their sinks.
const ReportDrain = 30 * time.Second
