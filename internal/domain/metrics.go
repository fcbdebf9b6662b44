package domain

import (
	"context"
	"time"
)

// Metrics contains everything pushed after a run.
type Metrics struct {
	// Timestamp when metrics were collected.
	Timestamp time.Time

	// Instance identifies the machine running the orchestrator.
	Instance string

	// Up is false on the final push of an interrupted run.
	Up bool

	// Run is the completed run, nil when only liveness is reported.
	Run *RunResult
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(instance string, run *RunResult) *Metrics {
	return &Metrics{
		Timestamp: time.Now(),
		Instance:  instance,
		Up:        true,
		Run:       run,
	}
}

// MetricsPusher defines the interface for pushing metrics to a remote endpoint.
type MetricsPusher interface {
	// Push sends metrics to the remote endpoint.
	Push(ctx context.Context, metrics *Metrics) error

	// Validate checks if the pusher is properly configured.
	Validate(ctx context.Context) error
}
