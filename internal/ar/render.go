package ar

import (
	"context"
	"image/color"
	"strings"

	"github.com/banshee-data/anchorplace/internal/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// ModelInstance is one renderable instance of a loaded model asset. It is
// not shareable: a model node takes exclusive ownership.
type ModelInstance interface {
	// Index is the instance's position within its loaded batch.
	Index() int
	// Extents are the model's natural (unscaled) bounds.
	Extents() geom.Extents
}

// ModelLoader loads instanced models from an asset path.
type ModelLoader interface {
	LoadInstancedModel(ctx context.Context, path string, count int) ([]ModelInstance, error)
}

// EditTransform is a set of in-progress edit gestures on a node.
type EditTransform uint8

const (
	EditMove EditTransform = 1 << iota
	EditRotate
	EditScale

	EditNone EditTransform = 0
)

// Has reports whether every bit of t is set.
func (e EditTransform) Has(t EditTransform) bool { return e&t == t }

// Empty reports whether no edit gesture is active.
func (e EditTransform) Empty() bool { return e == EditNone }

func (e EditTransform) String() string {
	if e.Empty() {
		return "none"
	}
	var parts []string
	if e.Has(EditMove) {
		parts = append(parts, "move")
	}
	if e.Has(EditRotate) {
		parts = append(parts, "rotate")
	}
	if e.Has(EditScale) {
		parts = append(parts, "scale")
	}
	return strings.Join(parts, "+")
}

// ParseEditTransforms folds names ("move", "rotate", "scale") into a set.
// Unknown names are ignored.
func ParseEditTransforms(names []string) EditTransform {
	var e EditTransform
	for _, n := range names {
		switch n {
		case "move", "position":
			e |= EditMove
		case "rotate", "rotation":
			e |= EditRotate
		case "scale":
			e |= EditScale
		}
	}
	return e
}

// Node is a scene-graph node.
type Node interface {
	AddChild(child Node)
	Children() []Node
	SetVisible(visible bool)
	Visible() bool
}

// EditableNode reports edit gestures in progress on it.
type EditableNode interface {
	Node
	// SetOnEditingChanged registers the callback invoked with the node's
	// full active edit set whenever it changes. It replaces any earlier one.
	SetOnEditingChanged(fn func(active EditTransform))
}

// AnchorNode is a node positioned by an anchor.
type AnchorNode interface {
	EditableNode
	Anchor() Anchor
}

// ModelNodeOptions configures a model node.
type ModelNodeOptions struct {
	// ScaleToUnits uniformly scales the model so its largest dimension
	// equals this size. Zero leaves the model unscaled.
	ScaleToUnits float64
	// Editable lets gestures move, rotate and scale the node
	// independently of its parent.
	Editable bool
}

// ModelNode renders one model instance.
type ModelNode interface {
	EditableNode
	Instance() ModelInstance
	// Extents and Center are in the node's local (unscaled) space.
	Extents() r3.Vec
	Center() r3.Vec
	Scale() float64
	Editable() bool
}

// Material is a renderer material instance.
type Material interface {
	Color() color.NRGBA
}

// BoxNode is a box-shaped visual node.
type BoxNode interface {
	Node
	Size() r3.Vec
	Center() r3.Vec
	Material() Material
}

// SceneGraph creates and attaches render nodes.
type SceneGraph interface {
	NewAnchorNode(anchor Anchor) AnchorNode
	NewModelNode(instance ModelInstance, opts ModelNodeOptions) ModelNode
	NewBoxNode(size, center r3.Vec, material Material) BoxNode
	NewColorMaterial(c color.NRGBA) Material
	// Add attaches a top-level node to the rendered world.
	Add(node Node)
	SetPlaneRendererEnabled(enabled bool)
}
