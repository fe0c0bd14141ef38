package arsim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/anchorplace/internal/ar"
	"github.com/banshee-data/anchorplace/internal/geom"
	"github.com/banshee-data/anchorplace/internal/monitoring"
	"gonum.org/v1/gonum/spatial/r3"
)

var logf = monitoring.Tagged("Scenario")

// maxScenarioFileSize caps scenario files at 1MB.
const maxScenarioFileSize = 1 * 1024 * 1024

// Step types.
const (
	StepFrame           = "frame"
	StepTap             = "tap"
	StepTrackingFailure = "tracking_failure"
	StepEdit            = "edit"
)

// Scenario is a scripted AR session: frames, taps, tracking failures and
// edit gestures, replayed in order against a Handler.
type Scenario struct {
	Name           string `json:"name,omitempty"`
	DepthSupported bool   `json:"depth_supported"`
	// ModelSize and ModelCenter are the natural bounds of the loaded model.
	ModelSize   Vec3   `json:"model_size"`
	ModelCenter Vec3   `json:"model_center,omitempty"`
	Steps       []Step `json:"steps"`
}

// Vec3 is an [x, y, z] triple.
type Vec3 [3]float64

func (v Vec3) r3() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// Step is one scripted event. Which fields apply depends on Type.
type Step struct {
	Type string `json:"type"`

	// frame
	Planes []PlaneSpec `json:"planes,omitempty"`

	// tap
	X        float32   `json:"x,omitempty"`
	Y        float32   `json:"y,omitempty"`
	Hits     []HitSpec `json:"hits,omitempty"`
	OnObject *int      `json:"on_object,omitempty"` // index of a placed object under the tap

	// tracking_failure
	Reason string `json:"reason,omitempty"`

	// edit
	Object     int      `json:"object,omitempty"`
	Node       string   `json:"node,omitempty"` // "model" (default) or "anchor"
	Transforms []string `json:"transforms,omitempty"`
}

// PlaneSpec describes a plane reported in a frame. Planes with the same ID
// across frames share one trackable.
type PlaneSpec struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Position    Vec3   `json:"position"`
	Tracking    string `json:"tracking,omitempty"`
	FailAnchors int    `json:"fail_anchors,omitempty"`
}

// HitSpec describes one hit-test result of a tap, nearest first.
type HitSpec struct {
	Kind        string  `json:"kind"`
	Position    Vec3    `json:"position"`
	Distance    float64 `json:"distance,omitempty"`
	InPolygon   *bool   `json:"in_polygon,omitempty"` // plane hits default to inside
	Tracking    string  `json:"tracking,omitempty"`
	FailAnchors int     `json:"fail_anchors,omitempty"`
}

// Handler receives replayed session callbacks. Returned errors are
// reported in the Result and do not stop the replay.
type Handler interface {
	OnSessionUpdated(ctx context.Context, frame ar.Frame) error
	OnSingleTapConfirmed(ctx context.Context, tap ar.TapEvent) error
	OnTrackingFailureChanged(reason ar.TrackingFailureReason)
}

// LoadScenario reads and validates a .json scenario file.
func LoadScenario(path string) (*Scenario, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".json" {
		return nil, fmt.Errorf("scenario file must have .json extension, got %q", ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario %s: %w", path, err)
	}
	defer f.Close()

	sc, err := ParseScenario(io.LimitReader(f, maxScenarioFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes and validates a scenario. Unknown fields are
// rejected.
func ParseScenario(r io.Reader) (*Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) > maxScenarioFileSize {
		return nil, fmt.Errorf("scenario exceeds %d bytes", maxScenarioFileSize)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks every step's names and indices.
func (sc *Scenario) Validate() error {
	for i, s := range sc.Steps {
		if err := s.validate(); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, s.Type, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	switch s.Type {
	case StepFrame:
		for _, p := range s.Planes {
			if p.ID == "" {
				return fmt.Errorf("plane without id")
			}
			if _, err := ar.ParsePlaneType(p.Type); err != nil {
				return err
			}
			if _, err := ar.ParseTrackingState(p.Tracking); err != nil {
				return err
			}
		}
	case StepTap:
		for _, h := range s.Hits {
			if _, err := ar.ParseTrackableKind(h.Kind); err != nil {
				return err
			}
			if _, err := ar.ParseTrackingState(h.Tracking); err != nil {
				return err
			}
		}
		if s.OnObject != nil && *s.OnObject < 0 {
			return fmt.Errorf("on_object must be >= 0, got %d", *s.OnObject)
		}
	case StepTrackingFailure:
		if _, err := ar.ParseTrackingFailureReason(s.Reason); err != nil {
			return err
		}
	case StepEdit:
		if s.Object < 0 {
			return fmt.Errorf("object must be >= 0, got %d", s.Object)
		}
		if s.Node != "" && s.Node != "model" && s.Node != "anchor" {
			return fmt.Errorf("node must be model or anchor, got %q", s.Node)
		}
	default:
		return fmt.Errorf("unknown step type")
	}
	return nil
}

// Result summarises a replay.
type Result struct {
	Frames           int
	Taps             int
	TrackingFailures int
	Edits            int
	// Errors holds handler errors, by step index.
	Errors map[int]error
}

// Player replays a scenario against a simulated session and scene.
type Player struct {
	scenario *Scenario
	session  *Session
	scene    *Scene

	planes map[string]ar.Plane
}

// NewPlayer creates a Player. Placed objects are looked up in scene, in
// placement order, for on_object taps and edit steps.
func NewPlayer(sc *Scenario, session *Session, scene *Scene) *Player {
	return &Player{
		scenario: sc,
		session:  session,
		scene:    scene,
		planes:   make(map[string]ar.Plane),
	}
}

// Extents returns the scenario's model bounds.
func (sc *Scenario) Extents() geom.Extents {
	return geom.Extents{Size: sc.ModelSize.r3(), Center: sc.ModelCenter.r3()}
}

// Play runs every step in order. It stops early when ctx is cancelled or a
// step refers to an object that has not been placed.
func (p *Player) Play(ctx context.Context, h Handler) (Result, error) {
	res := Result{Errors: make(map[int]error)}
	for i, step := range p.scenario.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var herr error
		switch step.Type {
		case StepFrame:
			frame := p.session.NewFrame(p.framePlanes(step.Planes), nil)
			herr = h.OnSessionUpdated(ctx, frame)
			res.Frames++
		case StepTap:
			tap, err := p.tap(step)
			if err != nil {
				return res, fmt.Errorf("step %d: %w", i, err)
			}
			herr = h.OnSingleTapConfirmed(ctx, tap)
			res.Taps++
		case StepTrackingFailure:
			reason, _ := ar.ParseTrackingFailureReason(step.Reason)
			h.OnTrackingFailureChanged(reason)
			res.TrackingFailures++
		case StepEdit:
			if err := p.edit(step); err != nil {
				return res, fmt.Errorf("step %d: %w", i, err)
			}
			res.Edits++
		default:
			return res, fmt.Errorf("step %d: unknown step type %q", i, step.Type)
		}
		if herr != nil {
			logf("step %d (%s): %v", i, step.Type, herr)
			res.Errors[i] = herr
		}
	}
	return res, nil
}

func (p *Player) framePlanes(specs []PlaneSpec) []ar.Plane {
	planes := make([]ar.Plane, 0, len(specs))
	for _, spec := range specs {
		typ, _ := ar.ParsePlaneType(spec.Type)
		state, _ := ar.ParseTrackingState(spec.Tracking)
		plane, ok := p.planes[spec.ID]
		if !ok {
			plane = p.session.NewPlane(spec.ID, typ, geom.NewPose(spec.Position.r3()))
		}
		plane.Type = typ
		plane.CenterPose = geom.NewPose(spec.Position.r3())
		if t, ok := plane.Trackable.(*Trackable); ok {
			t.SetTrackingState(state)
			if spec.FailAnchors > 0 {
				t.FailNextAnchors(spec.FailAnchors)
			}
		}
		p.planes[spec.ID] = plane
		planes = append(planes, plane)
	}
	return planes
}

func (p *Player) tap(step Step) (ar.TapEvent, error) {
	hits := make([]ar.HitResult, 0, len(step.Hits))
	for _, spec := range step.Hits {
		kind, _ := ar.ParseTrackableKind(spec.Kind)
		state, _ := ar.ParseTrackingState(spec.Tracking)
		hit := p.session.NewHit(kind, geom.NewPose(spec.Position.r3()), spec.Distance)
		hit.TrackingState = state
		if spec.InPolygon != nil {
			hit.InPolygon = *spec.InPolygon
		}
		if spec.FailAnchors > 0 {
			hit.Trackable.(*Trackable).FailNextAnchors(spec.FailAnchors)
		}
		hits = append(hits, hit)
	}
	frame := p.session.NewFrame(nil, hits)
	tap := ar.TapEvent{X: step.X, Y: step.Y, Frame: frame}
	if step.OnObject != nil {
		obj, err := p.object(*step.OnObject)
		if err != nil {
			return tap, err
		}
		tap.Node = obj
		if children := obj.Children(); len(children) > 0 {
			tap.Node = children[0]
		}
	}
	return tap, nil
}

func (p *Player) edit(step Step) error {
	obj, err := p.object(step.Object)
	if err != nil {
		return err
	}
	active := ar.ParseEditTransforms(step.Transforms)
	if step.Node == "anchor" {
		obj.SimulateEdit(active)
		return nil
	}
	for _, c := range obj.Children() {
		if m, ok := c.(*ModelNode); ok {
			m.SimulateEdit(active)
			return nil
		}
	}
	return fmt.Errorf("object %d has no model node", step.Object)
}

func (p *Player) object(i int) (*AnchorNode, error) {
	nodes := p.scene.AnchorNodes()
	if i < 0 || i >= len(nodes) {
		return nil, fmt.Errorf("object %d not placed (%d in scene)", i, len(nodes))
	}
	return nodes[i], nil
}
