// Package placement turns an anchor into a rendered, editable object.
//
// Responsibilities: acquiring one model instance per placement, scaling
// the model to fit the target cube, building the anchor -> model ->
// bounding-box node graph, and keeping the bounding box visible exactly
// while an edit gesture is active on the object.
// Key types: Service, PlacedObject.
//
// Dependency rule: placement depends on ar, geom and pool. It never
// decides when to place; that belongs to policy.
package placement
