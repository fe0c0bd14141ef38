// Package ar defines the contracts the placement core needs from the AR
// tracking service and the scene-graph renderer.
//
// Responsibilities: session feature policy (depth, instant placement,
// light estimation), per-frame plane and hit-test data, anchor creation,
// instanced model loading and the render-graph primitives used to build a
// placed object.
// Key types: Frame, Plane, HitResult, Anchor, ModelLoader, SceneGraph.
//
// Dependency rule: ar may depend on geom only. Concrete backends live in
// subpackages (arsim) or outside this module.
package ar
