package session

import (
	"context"
	"errors"
	"time"
)

// Kind names an event type.
type Kind string

const (
	KindSessionStarted     Kind = "session_started"
	KindPlaced             Kind = "placed"
	KindPlacementFailed    Kind = "placement_failed"
	KindTapIgnored         Kind = "tap_ignored"
	KindPlaneVisualization Kind = "plane_visualization"
	KindEditChanged        Kind = "edit_changed"
	KindTrackingFailure    Kind = "tracking_failure"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{
	KindSessionStarted,
	KindPlaced,
	KindPlacementFailed,
	KindTapIgnored,
	KindPlaneVisualization,
	KindEditChanged,
	KindTrackingFailure,
}

// Event is one observable outcome of the session.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	Time      time.Time `json:"time"`

	ObjectID string `json:"object_id,omitempty"`
	Source   string `json:"source,omitempty"`

	// Pool counts right after the event.
	InstancesIssued    int `json:"instances_issued"`
	InstancesRemaining int `json:"instances_remaining"`

	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Sink receives session events. Errors are logged by the router and never
// affect placement.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// MultiSink fans an event out to every sink, in order, and joins their
// errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
