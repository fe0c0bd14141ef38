package placement

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/banshee-data/anchorplace/internal/ar"
	"github.com/banshee-data/anchorplace/internal/geom"
	"github.com/banshee-data/anchorplace/internal/monitoring"
	"github.com/banshee-data/anchorplace/internal/pool"
	"github.com/banshee-data/anchorplace/internal/timeutil"
	"github.com/google/uuid"
)

var logf = monitoring.Tagged("Placement")

// Source records which path created a placed object.
type Source string

const (
	SourcePlane Source = "plane"
	SourceTap   Source = "tap"
)

// DefaultScaleToUnits is the edge of the cube a placed model is fitted into.
const DefaultScaleToUnits = 0.5

// DefaultBoundingBoxColor is translucent white.
var DefaultBoundingBoxColor = color.NRGBA{R: 255, G: 255, B: 255, A: 128}

// PlacedObject is the result of one placement. It owns its model instance.
type PlacedObject struct {
	ID       string
	Source   Source
	PlacedAt time.Time

	Anchor      ar.Anchor
	AnchorNode  ar.AnchorNode
	ModelNode   ar.ModelNode
	BoundingBox ar.BoxNode

	mu sync.Mutex
	// active edit sets as last reported by each editable node
	anchorEdits ar.EditTransform
	modelEdits  ar.EditTransform
}

// Instance is the model instance rendered by this object.
func (o *PlacedObject) Instance() ar.ModelInstance {
	return o.ModelNode.Instance()
}

// ActiveEdits returns the union of edit gestures in progress on the
// object's anchor and model nodes.
func (o *PlacedObject) ActiveEdits() ar.EditTransform {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.anchorEdits | o.modelEdits
}

// Editing reports whether any edit gesture is in progress.
func (o *PlacedObject) Editing() bool {
	return !o.ActiveEdits().Empty()
}

// FittedExtents are the model's extents after the fit-to-cube scale.
func (o *PlacedObject) FittedExtents() geom.Extents {
	e := geom.Extents{Size: o.ModelNode.Extents(), Center: o.ModelNode.Center()}
	return e.Scaled(o.ModelNode.Scale())
}

// setEdits records the edit set reported by one node and applies the
// bounding-box visibility rule. It returns the new union and whether the
// editing flag flipped.
func (o *PlacedObject) setEdits(fromModel bool, active ar.EditTransform) (ar.EditTransform, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	was := !(o.anchorEdits | o.modelEdits).Empty()
	if fromModel {
		o.modelEdits = active
	} else {
		o.anchorEdits = active
	}
	union := o.anchorEdits | o.modelEdits
	o.BoundingBox.SetVisible(!union.Empty())
	return union, was != !union.Empty()
}

// EditObserver is told about every edit-set change on a placed object.
// editingChanged is true when the bounding box visibility flipped.
type EditObserver func(obj *PlacedObject, active ar.EditTransform, editingChanged bool)

// Options configures the visuals of placed objects.
type Options struct {
	// ScaleToUnits is the target edge length for the model's largest
	// dimension. Zero means DefaultScaleToUnits.
	ScaleToUnits float64
	// BoundingBoxColor is the selection box material. The zero value means
	// DefaultBoundingBoxColor.
	BoundingBoxColor color.NRGBA
	OnEdit           EditObserver
	// Clock stamps PlacedAt. Nil means timeutil.RealClock.
	Clock timeutil.Clock
}

// Service builds placed objects from anchors.
type Service struct {
	pool    *pool.Pool
	scene   ar.SceneGraph
	opts    Options
	boxMat  ar.Material
	matOnce sync.Once
}

// NewService creates a Service drawing instances from p and attaching nodes
// to scene.
func NewService(p *pool.Pool, scene ar.SceneGraph, opts Options) *Service {
	if opts.ScaleToUnits <= 0 {
		opts.ScaleToUnits = DefaultScaleToUnits
	}
	if opts.BoundingBoxColor == (color.NRGBA{}) {
		opts.BoundingBoxColor = DefaultBoundingBoxColor
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Service{
		pool:  p,
		scene: scene,
		opts:  opts,
	}
}

// SetEditObserver replaces the edit observer for objects placed afterwards.
func (s *Service) SetEditObserver(fn EditObserver) {
	s.opts.OnEdit = fn
}

func (s *Service) material() ar.Material {
	s.matOnce.Do(func() {
		s.boxMat = s.scene.NewColorMaterial(s.opts.BoundingBoxColor)
	})
	return s.boxMat
}

// Place acquires one instance of asset and attaches a new object to the
// world at anchor. Pool errors are returned unchanged in meaning (wrapped)
// and nothing is attached to the scene; the anchor stays with the caller.
func (s *Service) Place(ctx context.Context, anchor ar.Anchor, asset pool.Asset, source Source) (*PlacedObject, error) {
	if anchor == nil {
		return nil, fmt.Errorf("place %s: nil anchor", asset.Path)
	}

	inst, err := s.pool.Acquire(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("place %s: %w", asset.Path, err)
	}

	anchorNode := s.scene.NewAnchorNode(anchor)
	modelNode := s.scene.NewModelNode(inst, ar.ModelNodeOptions{
		ScaleToUnits: s.opts.ScaleToUnits,
		Editable:     true,
	})

	// The box lives in model-local space so it inherits the fit scale.
	box := s.scene.NewBoxNode(modelNode.Extents(), modelNode.Center(), s.material())
	box.SetVisible(false)

	modelNode.AddChild(box)
	anchorNode.AddChild(modelNode)

	obj := &PlacedObject{
		ID:          uuid.New().String(),
		Source:      source,
		PlacedAt:    s.opts.Clock.Now(),
		Anchor:      anchor,
		AnchorNode:  anchorNode,
		ModelNode:   modelNode,
		BoundingBox: box,
	}

	observer := s.opts.OnEdit
	watch := func(fromModel bool) func(ar.EditTransform) {
		return func(active ar.EditTransform) {
			union, flipped := obj.setEdits(fromModel, active)
			if observer != nil {
				observer(obj, union, flipped)
			}
		}
	}
	anchorNode.SetOnEditingChanged(watch(false))
	modelNode.SetOnEditingChanged(watch(true))

	s.scene.Add(anchorNode)

	logf("placed %s from %s: instance #%d at %s (scale %.3f)",
		obj.ID, source, inst.Index(), anchor.Pose(), modelNode.Scale())
	return obj, nil
}
