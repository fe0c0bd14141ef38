// Package pool owns the bounded set of pre-instantiated model instances
// handed out to placed objects.
//
// Each asset is loaded lazily, in one batch of MaxInstances instances, on
// its first Acquire. Acquire then pops from the end of the batch. There is
// no release: the pool is a draining allocation counter and fails with
// ErrPoolExhausted once every instance has been issued.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/anchorplace/internal/ar"
	"github.com/banshee-data/anchorplace/internal/monitoring"
)

var logf = monitoring.Tagged("Pool")

var (
	// ErrPoolExhausted is returned once every instance of an asset is issued.
	ErrPoolExhausted = errors.New("model instance pool exhausted")
	// ErrLoadFailed wraps a model loader failure. The next Acquire retries.
	ErrLoadFailed = errors.New("model instance load failed")
)

// Asset is an immutable reference to a model file plus the maximum number
// of instances of it that may ever be rendered.
type Asset struct {
	Path         string
	MaxInstances int
}

func (a Asset) String() string {
	return fmt.Sprintf("%s (max %d)", a.Path, a.MaxInstances)
}

// ExhaustedError carries the asset and issue count of an exhausted pool.
// It matches ErrPoolExhausted under errors.Is.
type ExhaustedError struct {
	Asset  Asset
	Issued int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v: %s issued %d of %d", ErrPoolExhausted, e.Asset.Path, e.Issued, e.Asset.MaxInstances)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrPoolExhausted }

type batch struct {
	capacity  int
	available []ar.ModelInstance
}

// Pool hands out model instances per asset path.
type Pool struct {
	loader ar.ModelLoader

	// mu guards load, remaining check and pop as one unit.
	mu      sync.Mutex
	batches map[string]*batch
}

// New creates a pool that loads instances through loader.
func New(loader ar.ModelLoader) *Pool {
	return &Pool{
		loader:  loader,
		batches: make(map[string]*batch),
	}
}

// Acquire removes and returns one instance of asset, loading the batch on
// first use. The returned instance is owned exclusively by the caller.
func (p *Pool) Acquire(ctx context.Context, asset Asset) (ar.ModelInstance, error) {
	if asset.MaxInstances < 1 {
		return nil, fmt.Errorf("asset %s: max instances must be at least 1", asset.Path)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := p.loadLocked(ctx, asset)
	if err != nil {
		return nil, err
	}

	n := len(b.available)
	if n == 0 {
		return nil, &ExhaustedError{Asset: asset, Issued: b.capacity}
	}
	inst := b.available[n-1]
	b.available[n-1] = nil
	b.available = b.available[:n-1]

	if len(b.available) == 0 {
		logf("last instance of %s issued (%d total)", asset.Path, b.capacity)
	}
	return inst, nil
}

func (p *Pool) loadLocked(ctx context.Context, asset Asset) (*batch, error) {
	if b, ok := p.batches[asset.Path]; ok {
		return b, nil
	}

	instances, err := p.loader.LoadInstancedModel(ctx, asset.Path, asset.MaxInstances)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, asset.Path, err)
	}
	if len(instances) > asset.MaxInstances {
		instances = instances[:asset.MaxInstances]
	}
	if len(instances) < asset.MaxInstances {
		logf("loader returned %d of %d requested instances of %s", len(instances), asset.MaxInstances, asset.Path)
	}

	b := &batch{
		capacity:  len(instances),
		available: append([]ar.ModelInstance(nil), instances...),
	}
	p.batches[asset.Path] = b
	logf("loaded %d instances of %s", b.capacity, asset.Path)
	return b, nil
}

// Remaining reports how many instances of asset can still be acquired.
// Before the first load this is asset.MaxInstances.
func (p *Pool) Remaining(asset Asset) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.batches[asset.Path]; ok {
		return len(b.available)
	}
	return asset.MaxInstances
}

// Issued reports how many instances of asset have been handed out.
func (p *Pool) Issued(asset Asset) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.batches[asset.Path]; ok {
		return b.capacity - len(b.available)
	}
	return 0
}

// Loaded reports whether the batch for asset has been loaded.
func (p *Pool) Loaded(asset Asset) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.batches[asset.Path]
	return ok
}
