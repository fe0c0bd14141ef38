package arsim

import (
	"context"
	"image/color"
	"sync"

	"github.com/banshee-data/anchorplace/internal/ar"
	"github.com/banshee-data/anchorplace/internal/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// Ensure the simulated types satisfy the render contracts.
var (
	_ ar.SceneGraph  = (*Scene)(nil)
	_ ar.AnchorNode  = (*AnchorNode)(nil)
	_ ar.ModelNode   = (*ModelNode)(nil)
	_ ar.BoxNode     = (*BoxNode)(nil)
	_ ar.ModelLoader = (*Loader)(nil)
)

// node is the shared part of every simulated scene node.
type node struct {
	mu       sync.Mutex
	visible  bool
	children []ar.Node
	onEdit   func(ar.EditTransform)
}

func (n *node) AddChild(child ar.Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = append(n.children, child)
}

func (n *node) Children() []ar.Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ar.Node(nil), n.children...)
}

func (n *node) SetVisible(visible bool) {
	n.mu.Lock()
	n.visible = visible
	n.mu.Unlock()
}

func (n *node) Visible() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visible
}

func (n *node) SetOnEditingChanged(fn func(active ar.EditTransform)) {
	n.mu.Lock()
	n.onEdit = fn
	n.mu.Unlock()
}

// SimulateEdit reports active as the node's current edit set, as a
// gesture detector would when a drag, rotate or pinch starts or ends.
func (n *node) SimulateEdit(active ar.EditTransform) {
	n.mu.Lock()
	fn := n.onEdit
	n.mu.Unlock()
	if fn != nil {
		fn(active)
	}
}

// AnchorNode is a simulated node bound to an anchor.
type AnchorNode struct {
	node
	anchor ar.Anchor
}

func (a *AnchorNode) Anchor() ar.Anchor { return a.anchor }

// ModelNode is a simulated model node.
type ModelNode struct {
	node
	instance ar.ModelInstance
	scale    float64
	editable bool
}

func (m *ModelNode) Instance() ar.ModelInstance { return m.instance }
func (m *ModelNode) Extents() r3.Vec             { return m.instance.Extents().Size }
func (m *ModelNode) Center() r3.Vec              { return m.instance.Extents().Center }
func (m *ModelNode) Scale() float64              { return m.scale }
func (m *ModelNode) Editable() bool              { return m.editable }

// BoxNode is a simulated box-shaped node.
type BoxNode struct {
	node
	size, center r3.Vec
	material     ar.Material
}

func (b *BoxNode) Size() r3.Vec           { return b.size }
func (b *BoxNode) Center() r3.Vec         { return b.center }
func (b *BoxNode) Material() ar.Material { return b.material }

type colorMaterial struct{ c color.NRGBA }

func (m colorMaterial) Color() color.NRGBA { return m.c }

// Scene is a simulated scene graph. Top-level nodes are kept in the order
// they were added.
type Scene struct {
	mu            sync.Mutex
	roots         []ar.Node
	planeRenderer bool
	materials     int
}

// NewScene creates an empty scene with plane rendering enabled.
func NewScene() *Scene {
	return &Scene{planeRenderer: true}
}

func (s *Scene) NewAnchorNode(anchor ar.Anchor) ar.AnchorNode {
	return &AnchorNode{node: node{visible: true}, anchor: anchor}
}

func (s *Scene) NewModelNode(instance ar.ModelInstance, opts ar.ModelNodeOptions) ar.ModelNode {
	scale := 1.0
	if opts.ScaleToUnits > 0 {
		scale = geom.FitScale(instance.Extents(), opts.ScaleToUnits)
	}
	return &ModelNode{
		node:     node{visible: true},
		instance: instance,
		scale:    scale,
		editable: opts.Editable,
	}
}

func (s *Scene) NewBoxNode(size, center r3.Vec, material ar.Material) ar.BoxNode {
	return &BoxNode{node: node{visible: true}, size: size, center: center, material: material}
}

func (s *Scene) NewColorMaterial(c color.NRGBA) ar.Material {
	s.mu.Lock()
	s.materials++
	s.mu.Unlock()
	return colorMaterial{c: c}
}

func (s *Scene) Add(n ar.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = append(s.roots, n)
}

func (s *Scene) SetPlaneRendererEnabled(enabled bool) {
	s.mu.Lock()
	s.planeRenderer = enabled
	s.mu.Unlock()
}

// PlaneRendererEnabled reports the plane visualization flag.
func (s *Scene) PlaneRendererEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.planeRenderer
}

// Roots returns the top-level nodes.
func (s *Scene) Roots() []ar.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ar.Node(nil), s.roots...)
}

// AnchorNodes returns the top-level anchor nodes in placement order.
func (s *Scene) AnchorNodes() []*AnchorNode {
	var out []*AnchorNode
	for _, n := range s.Roots() {
		if a, ok := n.(*AnchorNode); ok {
			out = append(out, a)
		}
	}
	return out
}

// Materials counts materials created through NewColorMaterial.
func (s *Scene) Materials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.materials
}

// Instance is a simulated model instance.
type Instance struct {
	idx     int
	extents geom.Extents
}

func (i *Instance) Index() int             { return i.idx }
func (i *Instance) Extents() geom.Extents { return i.extents }

// Loader is a simulated instanced-model loader.
type Loader struct {
	// Extents are the natural bounds given to every loaded instance.
	Extents geom.Extents
	// Err, when set, is returned by the next load and then cleared.
	Err error

	mu    sync.Mutex
	loads map[string]int
}

// NewLoader creates a loader whose model has the given natural bounds.
func NewLoader(extents geom.Extents) *Loader {
	return &Loader{Extents: extents, loads: make(map[string]int)}
}

// LoadInstancedModel implements ar.ModelLoader.
func (l *Loader) LoadInstancedModel(ctx context.Context, path string, count int) ([]ar.ModelInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loads == nil {
		l.loads = make(map[string]int)
	}
	l.loads[path]++
	if err := l.Err; err != nil {
		l.Err = nil
		return nil, err
	}
	out := make([]ar.ModelInstance, count)
	for i := range out {
		out[i] = &Instance{idx: i, extents: l.Extents}
	}
	return out, nil
}

// Loads reports how many times path was loaded.
func (l *Loader) Loads(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[path]
}
