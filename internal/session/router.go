// Package session routes AR session callbacks to the placement policy and
// reports every outcome as an Event.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/anchorplace/internal/ar"
	"github.com/banshee-data/anchorplace/internal/monitoring"
	"github.com/banshee-data/anchorplace/internal/placement"
	"github.com/banshee-data/anchorplace/internal/policy"
	"github.com/banshee-data/anchorplace/internal/pool"
	"github.com/banshee-data/anchorplace/internal/timeutil"
	"github.com/google/uuid"
)

var logf = monitoring.Tagged("Session")

// Config wires a Router.
type Config struct {
	Policy *policy.Policy
	Pool   *pool.Pool
	// Sink receives every event. Nil discards them.
	Sink Sink
	// Features is resolved against device capabilities by Start.
	Features ar.FeaturePolicy
	// SessionID defaults to a random UUID.
	SessionID string
	Clock     timeutil.Clock
}

// Stats is a snapshot of the router for status reporting.
type Stats struct {
	SessionID           string                   `json:"session_id"`
	Started             bool                     `json:"started"`
	Settings            ar.SessionSettings       `json:"settings"`
	Phase               string                   `json:"phase"`
	HasAutoPlaced       bool                     `json:"has_auto_placed"`
	PlaneVisualization  bool                     `json:"plane_visualization"`
	Placed              int                      `json:"placed"`
	InstancesIssued     int                      `json:"instances_issued"`
	InstancesRemaining  int                      `json:"instances_remaining"`
	MaxInstances        int                      `json:"max_instances"`
	LastTrackingFailure ar.TrackingFailureReason `json:"last_tracking_failure"`
	Events              map[Kind]int             `json:"events"`
}

// Router serialises session callbacks. It forwards plane updates to the
// policy only while nothing is placed, forwards every tap, and records
// tracking failure changes.
type Router struct {
	policy *policy.Policy
	pool   *pool.Pool
	sink   Sink
	clock  timeutil.Clock
	id     string

	features ar.FeaturePolicy

	mu          sync.Mutex
	started     bool
	settings    ar.SessionSettings
	lastFrame   ar.Frame
	lastFailure ar.TrackingFailureReason
	counts      map[Kind]int
}

// NewRouter creates a router.
func NewRouter(cfg Config) *Router {
	r := &Router{
		policy:      cfg.Policy,
		pool:        cfg.Pool,
		sink:        cfg.Sink,
		clock:       cfg.Clock,
		id:          cfg.SessionID,
		features:    cfg.Features,
		lastFailure: ar.TrackingFailureNone,
		counts:      make(map[Kind]int),
	}
	if r.clock == nil {
		r.clock = timeutil.RealClock{}
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	if r.features == (ar.FeaturePolicy{}) {
		r.features = ar.DefaultFeaturePolicy()
	}
	return r
}

// ID is the session id stamped on every event.
func (r *Router) ID() string { return r.id }

// Start applies the session configuration policy. Only the first call
// configures; later calls return the settings chosen then.
func (r *Router) Start(ctx context.Context, caps ar.Capabilities) ar.SessionSettings {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return r.settings
	}
	r.started = true
	r.settings = ar.Configure(caps, r.features)
	logf("session %s configured: depth=%s instant_placement=%s light=%s",
		r.id, r.settings.DepthMode, r.settings.InstantPlacementMode, r.settings.LightEstimationMode)

	ev := r.newEvent(KindSessionStarted)
	ev.Detail = fmt.Sprintf("depth=%s instant_placement=%s light=%s",
		r.settings.DepthMode, r.settings.InstantPlacementMode, r.settings.LightEstimationMode)
	r.emit(ctx, ev)
	return r.settings
}

// OnSessionUpdated handles a new camera frame.
func (r *Router) OnSessionUpdated(ctx context.Context, frame ar.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastFrame = frame
	if frame == nil || r.policy.PlacedCount() > 0 {
		return nil
	}
	res, err := r.policy.OnPlanesDetected(ctx, frame.UpdatedPlanes())
	r.report(ctx, res, err)
	return err
}

// OnSingleTapConfirmed handles a confirmed tap. A tap without a frame is
// hit-tested against the latest frame seen by OnSessionUpdated.
func (r *Router) OnSingleTapConfirmed(ctx context.Context, tap ar.TapEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tap.Frame == nil {
		tap.Frame = r.lastFrame
	}
	res, err := r.policy.OnTap(ctx, tap)
	r.report(ctx, res, err)
	return err
}

// OnTrackingFailureChanged records a new tracking failure reason. Repeats
// of the current reason are dropped. It has no effect on placement.
func (r *Router) OnTrackingFailureChanged(reason ar.TrackingFailureReason) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reason == "" {
		reason = ar.TrackingFailureNone
	}
	if reason == r.lastFailure {
		return
	}
	logf("tracking failure reason: %s -> %s", r.lastFailure, reason)
	r.lastFailure = reason

	ev := r.newEvent(KindTrackingFailure)
	ev.Reason = string(reason)
	r.emit(context.Background(), ev)
}

// OnEditChanged is a placement.EditObserver. It reports edit-set changes
// on placed objects.
func (r *Router) OnEditChanged(obj *placement.PlacedObject, active ar.EditTransform, editingChanged bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := r.newEvent(KindEditChanged)
	ev.ObjectID = obj.ID
	ev.Source = string(obj.Source)
	ev.Detail = active.String()
	switch {
	case editingChanged && active.Empty():
		ev.Reason = "editing_ended"
	case editingChanged:
		ev.Reason = "editing_started"
	}
	r.emit(context.Background(), ev)
}

// Stats returns a snapshot for status reporting.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.policy.State()
	asset := r.policy.Asset()
	s := Stats{
		SessionID:           r.id,
		Started:             r.started,
		Settings:            r.settings,
		Phase:               state.Phase.String(),
		HasAutoPlaced:       state.HasAutoPlaced,
		PlaneVisualization:  state.PlaneVisualizationEnabled,
		Placed:              r.policy.PlacedCount(),
		MaxInstances:        asset.MaxInstances,
		LastTrackingFailure: r.lastFailure,
		Events:              make(map[Kind]int, len(r.counts)),
	}
	if r.pool != nil {
		s.InstancesIssued = r.pool.Issued(asset)
		s.InstancesRemaining = r.pool.Remaining(asset)
	}
	for k, v := range r.counts {
		s.Events[k] = v
	}
	return s
}

// report turns a policy result into events.
func (r *Router) report(ctx context.Context, res policy.Result, err error) {
	if res.PlaneVisualizationChanged {
		ev := r.newEvent(KindPlaneVisualization)
		ev.Source = string(res.Source)
		ev.Detail = "disabled"
		r.emit(ctx, ev)
	}

	switch res.Outcome {
	case policy.OutcomePlaced:
		ev := r.newEvent(KindPlaced)
		ev.ObjectID = res.Object.ID
		ev.Source = string(res.Object.Source)
		ev.Detail = res.Object.Anchor.Pose().String()
		r.emit(ctx, ev)

	case policy.OutcomeFailed:
		var exhausted *pool.ExhaustedError
		if errors.As(err, &exhausted) {
			logf("%s placement refused: %d of %d instances of %s already issued",
				res.Source, exhausted.Issued, exhausted.Asset.MaxInstances, exhausted.Asset.Path)
		} else {
			logf("%s placement failed: %v", res.Source, err)
		}
		ev := r.newEvent(KindPlacementFailed)
		ev.Source = string(res.Source)
		ev.Reason = failureReason(err)
		ev.Detail = err.Error()
		r.emit(ctx, ev)

	case policy.OutcomeTapIgnored:
		ev := r.newEvent(KindTapIgnored)
		ev.Source = string(res.Source)
		ev.Detail = "tap on existing node"
		r.emit(ctx, ev)

	default:
		// Recovered locally and retried on the next event.
		if err != nil {
			logf("%s: %v", res.Source, err)
		}
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, pool.ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, pool.ErrLoadFailed):
		return "load_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func (r *Router) newEvent(kind Kind) Event {
	ev := Event{
		ID:        uuid.NewString(),
		SessionID: r.id,
		Kind:      kind,
		Time:      r.clock.Now().UTC(),
	}
	if r.pool != nil && r.policy != nil {
		asset := r.policy.Asset()
		ev.InstancesIssued = r.pool.Issued(asset)
		ev.InstancesRemaining = r.pool.Remaining(asset)
	}
	return ev
}

// emit must be called with r.mu held.
func (r *Router) emit(ctx context.Context, ev Event) {
	r.counts[ev.Kind]++
	if r.sink == nil {
		return
	}
	if err := r.sink.Publish(ctx, ev); err != nil {
		logf("sink error for %s event %s: %v", ev.Kind, ev.ID, err)
	}
}
