// Package policy decides when a placement is attempted.
//
// A fresh session waits for the first horizontal upward-facing plane and
// places one object on it automatically. A tap on empty space with a valid
// surface hit always places an additional object, turns plane
// visualization off and ends automatic placement for the session.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/anchorplace/internal/ar"
	"github.com/banshee-data/anchorplace/internal/monitoring"
	"github.com/banshee-data/anchorplace/internal/placement"
	"github.com/banshee-data/anchorplace/internal/pool"
)

var logf = monitoring.Tagged("Policy")

var (
	// ErrNoValidHit means no hit-test result qualified for tap placement.
	ErrNoValidHit = errors.New("no valid surface hit")
	// ErrAnchorCreation means the tracking service refused an anchor. The
	// attempt is retried on the next event.
	ErrAnchorCreation = errors.New("anchor creation failed")
)

// Phase is the policy's placement phase.
type Phase int

const (
	AwaitingFirstPlacement Phase = iota
	Placed
)

func (p Phase) String() string {
	if p == Placed {
		return "placed"
	}
	return "awaiting_first_placement"
}

// State is a snapshot of the placement state.
type State struct {
	Phase                     Phase
	HasAutoPlaced             bool
	PlaneVisualizationEnabled bool
}

// Outcome classifies what one event did.
type Outcome int

const (
	// OutcomeNone: preconditions not met, nothing changed.
	OutcomeNone Outcome = iota
	OutcomePlaced
	// OutcomeFailed: an anchor existed but the placement service failed.
	OutcomeFailed
	// OutcomeTapIgnored: the tap landed on an existing node.
	OutcomeTapIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomePlaced:
		return "placed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTapIgnored:
		return "tap_ignored"
	default:
		return "none"
	}
}

// Result reports the effect of one plane or tap event.
type Result struct {
	Outcome Outcome
	Source  placement.Source
	// Object is set when Outcome is OutcomePlaced.
	Object *placement.PlacedObject
	// PlaneVisualizationChanged is set when this event turned plane
	// visualization off.
	PlaneVisualizationChanged bool
	State                     State
}

// Placer is the part of the placement service the policy drives.
type Placer interface {
	Place(ctx context.Context, anchor ar.Anchor, asset pool.Asset, source placement.Source) (*placement.PlacedObject, error)
}

// PlaneRenderer toggles plane visualization.
type PlaneRenderer interface {
	SetPlaneRendererEnabled(enabled bool)
}

// Policy is the placement state machine. Each transition runs under one
// mutex, so concurrent events never interleave.
type Policy struct {
	placer   Placer
	renderer PlaneRenderer
	asset    pool.Asset
	filter   ar.HitFilter

	mu     sync.Mutex
	state  State
	placed []*placement.PlacedObject
}

// New creates a policy placing asset through placer. renderer may be nil.
func New(placer Placer, renderer PlaneRenderer, asset pool.Asset) *Policy {
	return &Policy{
		placer:   placer,
		renderer: renderer,
		asset:    asset,
		filter:   ar.SurfaceHitFilter(),
		state: State{
			Phase:                     AwaitingFirstPlacement,
			PlaneVisualizationEnabled: true,
		},
	}
}

// OnPlanesDetected places one object on the first horizontal upward-facing
// plane, but only while no object has been placed yet.
func (p *Policy) OnPlanesDetected(ctx context.Context, planes []ar.Plane) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := Result{Source: placement.SourcePlane}
	if p.state.Phase != AwaitingFirstPlacement || len(p.placed) > 0 {
		res.State = p.state
		return res, nil
	}

	var plane *ar.Plane
	for i := range planes {
		if planes[i].Type == ar.PlaneHorizontalUpward {
			plane = &planes[i]
			break
		}
	}
	if plane == nil {
		res.State = p.state
		return res, nil
	}

	anchor, err := plane.CreateAnchor(plane.CenterPose)
	if err != nil {
		res.State = p.state
		return res, fmt.Errorf("plane %s: %w: %w", plane.ID, ErrAnchorCreation, err)
	}

	obj, err := p.placer.Place(ctx, anchor, p.asset, placement.SourcePlane)
	if err != nil {
		anchor.Detach()
		res.Outcome = OutcomeFailed
		res.State = p.state
		return res, err
	}

	p.placed = append(p.placed, obj)
	p.state.HasAutoPlaced = true
	p.state.Phase = Placed
	logf("auto-placed %s on plane %s", obj.ID, plane.ID)

	res.Outcome = OutcomePlaced
	res.Object = obj
	res.State = p.state
	return res, nil
}

// OnTap places an object at the first valid surface hit under the tap.
// Taps on existing nodes are ignored.
func (p *Policy) OnTap(ctx context.Context, tap ar.TapEvent) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := Result{Source: placement.SourceTap}
	if tap.Node != nil {
		res.Outcome = OutcomeTapIgnored
		res.State = p.state
		return res, nil
	}
	if tap.Frame == nil {
		res.State = p.state
		return res, fmt.Errorf("tap (%.0f, %.0f): %w: no frame", tap.X, tap.Y, ErrNoValidHit)
	}

	hit, ok := ar.FirstValidHit(tap.Frame.HitTest(tap.X, tap.Y), p.filter)
	if !ok {
		res.State = p.state
		return res, fmt.Errorf("tap (%.0f, %.0f): %w", tap.X, tap.Y, ErrNoValidHit)
	}
	anchor, err := hit.CreateAnchor()
	if err != nil {
		res.State = p.state
		return res, fmt.Errorf("tap (%.0f, %.0f) on %s: %w: %w", tap.X, tap.Y, hit.Kind, ErrAnchorCreation, err)
	}

	// An anchor exists: the tap wins over automatic placement whether or
	// not the placement below succeeds.
	if p.state.PlaneVisualizationEnabled {
		p.state.PlaneVisualizationEnabled = false
		res.PlaneVisualizationChanged = true
		if p.renderer != nil {
			p.renderer.SetPlaneRendererEnabled(false)
		}
	}
	p.state.Phase = Placed

	obj, err := p.placer.Place(ctx, anchor, p.asset, placement.SourceTap)
	if err != nil {
		anchor.Detach()
		res.Outcome = OutcomeFailed
		res.State = p.state
		return res, err
	}
	p.placed = append(p.placed, obj)
	logf("tap-placed %s on %s hit at (%.0f, %.0f)", obj.ID, hit.Kind, tap.X, tap.Y)

	res.Outcome = OutcomePlaced
	res.Object = obj
	res.State = p.state
	return res, nil
}

// State returns a snapshot of the placement state.
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Placed returns the placed objects in placement order.
func (p *Policy) Placed() []*placement.PlacedObject {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*placement.PlacedObject(nil), p.placed...)
}

// PlacedCount returns the number of placed objects.
func (p *Policy) PlacedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.placed)
}

// Asset is the model asset this policy places.
func (p *Policy) Asset() pool.Asset { return p.asset }
