// Package arsim is a deterministic in-memory AR backend. It implements the
// ar tracking and rendering contracts for tests, demos and scenario replay.
// This file provides the simulated tracking session: trackables, anchors
// and frames.
package arsim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/anchorplace/internal/ar"
	"github.com/banshee-data/anchorplace/internal/geom"
)

// ErrNotTracking is returned when an anchor is requested on a trackable
// that has lost tracking.
var ErrNotTracking = errors.New("trackable is not tracking")

// Session is a simulated tracking session.
type Session struct {
	DepthSupported bool

	anchorSeq atomic.Uint64
	frameSeq  atomic.Int64

	mu      sync.Mutex
	anchors []*Anchor
}

// NewSession creates a session. depthSupported controls what
// IsDepthModeSupported reports.
func NewSession(depthSupported bool) *Session {
	return &Session{DepthSupported: depthSupported}
}

// IsDepthModeSupported implements ar.Capabilities.
func (s *Session) IsDepthModeSupported(mode ar.DepthMode) bool {
	switch mode {
	case ar.DepthDisabled:
		return true
	case ar.DepthAutomatic, ar.DepthAuto:
		return s.DepthSupported
	}
	return false
}

// Anchors returns every anchor created in this session, detached or not.
func (s *Session) Anchors() []*Anchor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Anchor(nil), s.anchors...)
}

// AttachedAnchors counts anchors that have not been detached.
func (s *Session) AttachedAnchors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.anchors {
		if !a.Detached() {
			n++
		}
	}
	return n
}

// NewTrackable creates a trackable in the given state.
func (s *Session) NewTrackable(state ar.TrackingState) *Trackable {
	return &Trackable{session: s, state: state}
}

// NewPlane returns a plane backed by a tracking trackable.
func (s *Session) NewPlane(id string, typ ar.PlaneType, center geom.Pose) ar.Plane {
	return ar.Plane{ID: id, Type: typ, CenterPose: center, Trackable: s.NewTrackable(ar.Tracking)}
}

// NewHit returns a tracked hit result on a new trackable. Plane hits are
// inside the polygon.
func (s *Session) NewHit(kind ar.TrackableKind, pose geom.Pose, distance float64) ar.HitResult {
	return ar.HitResult{
		Pose:          pose,
		Kind:          kind,
		TrackingState: ar.Tracking,
		InPolygon:     kind == ar.KindPlane,
		Distance:      distance,
		Trackable:     s.NewTrackable(ar.Tracking),
	}
}

// NewFrame builds the next frame with the given updated planes and a
// hit-test result list returned for every screen coordinate.
func (s *Session) NewFrame(planes []ar.Plane, hits []ar.HitResult) *Frame {
	seq := s.frameSeq.Add(1)
	return &Frame{
		Seq:    seq,
		Ts:     seq * 33_333_333, // ~30 fps
		Planes: planes,
		Hits:   hits,
	}
}

func (s *Session) newAnchor(pose geom.Pose) *Anchor {
	a := &Anchor{
		id:   fmt.Sprintf("anchor-%d", s.anchorSeq.Add(1)),
		pose: pose,
	}
	s.mu.Lock()
	s.anchors = append(s.anchors, a)
	s.mu.Unlock()
	return a
}

// Trackable is a simulated plane or point the session can anchor to.
type Trackable struct {
	session *Session

	mu          sync.Mutex
	state       ar.TrackingState
	failAnchors int
}

// SetTrackingState changes the trackable's tracking state.
func (t *Trackable) SetTrackingState(state ar.TrackingState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

// FailNextAnchors makes the next n CreateAnchor calls fail.
func (t *Trackable) FailNextAnchors(n int) {
	t.mu.Lock()
	t.failAnchors = n
	t.mu.Unlock()
}

// CreateAnchor implements ar.Trackable. It fails for invalid poses,
// trackables that are not tracking, and while FailNextAnchors is pending.
func (t *Trackable) CreateAnchor(pose geom.Pose) (ar.Anchor, error) {
	t.mu.Lock()
	if t.failAnchors > 0 {
		t.failAnchors--
		t.mu.Unlock()
		return nil, errors.New("anchor limit reached")
	}
	state := t.state
	t.mu.Unlock()

	if state != ar.Tracking {
		return nil, fmt.Errorf("%w (%s)", ErrNotTracking, state)
	}
	if err := pose.Validate(); err != nil {
		return nil, err
	}
	return t.session.newAnchor(pose), nil
}

// Anchor is a simulated anchor.
type Anchor struct {
	id       string
	pose     geom.Pose
	detached atomic.Bool
}

func (a *Anchor) ID() string       { return a.id }
func (a *Anchor) Pose() geom.Pose { return a.pose }

func (a *Anchor) TrackingState() ar.TrackingState {
	if a.detached.Load() {
		return ar.TrackingStopped
	}
	return ar.Tracking
}

func (a *Anchor) Detach()        { a.detached.Store(true) }
func (a *Anchor) Detached() bool { return a.detached.Load() }

// Frame is a simulated camera frame.
type Frame struct {
	Seq    int64
	Ts     int64
	Planes []ar.Plane
	Hits   []ar.HitResult
	// HitFunc, when set, overrides Hits per screen coordinate.
	HitFunc func(x, y float32) []ar.HitResult

	mu       sync.Mutex
	hitTests int
}

func (f *Frame) TimestampNanos() int64     { return f.Ts }
func (f *Frame) UpdatedPlanes() []ar.Plane { return f.Planes }

// HitTest implements ar.Frame.
func (f *Frame) HitTest(x, y float32) []ar.HitResult {
	f.mu.Lock()
	f.hitTests++
	f.mu.Unlock()
	if f.HitFunc != nil {
		return f.HitFunc(x, y)
	}
	return f.Hits
}

// HitTests counts HitTest calls on this frame.
func (f *Frame) HitTests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hitTests
}
