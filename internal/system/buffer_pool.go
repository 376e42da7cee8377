package system

import (
	"image"
	"sync"
)

// SurfacePool recycles *image.RGBA frame surfaces by size. A render session
// holds one surface for its whole lifetime; repeated renders at the same
// resolution reuse the allocation instead of churning the GC.
type SurfacePool struct {
	mu    sync.Mutex
	pools map[image.Point]*sync.Pool
}

var defaultPool = NewSurfacePool()

// NewSurfacePool returns an empty pool.
func NewSurfacePool() *SurfacePool {
	return &SurfacePool{pools: make(map[image.Point]*sync.Pool)}
}

// GetSurface takes a width x height surface from the shared pool.
func GetSurface(width, height int) *image.RGBA {
	return defaultPool.Get(width, height)
}

// PutSurface returns a surface to the shared pool.
func PutSurface(img *image.RGBA) {
	defaultPool.Put(img)
}

// Get returns a surface of the requested size anchored at the origin.
// Contents are unspecified; callers must overwrite every pixel.
func (p *SurfacePool) Get(width, height int) *image.RGBA {
	size := image.Pt(width, height)

	p.mu.Lock()
	pool, ok := p.pools[size]
	if !ok {
		pool = &sync.Pool{
			New: func() any {
				return image.NewRGBA(image.Rectangle{Max: size})
			},
		}
		p.pools[size] = pool
	}
	p.mu.Unlock()

	return pool.Get().(*image.RGBA)
}

// Put recycles img. Surfaces not anchored at the origin are dropped.
func (p *SurfacePool) Put(img *image.RGBA) {
	if img == nil || img.Rect.Min != (image.Point{}) {
		return
	}

	p.mu.Lock()
	pool, ok := p.pools[img.Rect.Max]
	p.mu.Unlock()

	if ok {
		pool.Put(img)
	}
}
