// Package engine defines the seams between the transfer core and the
// rendering host: texture registration, main-context execution, and the
// per-participant override lookup the renderer consults.
package engine

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle identifies a registered texture.
type Handle string

// TextureRegistry registers and destroys engine textures.
// Implementations are only called from the main context.
type TextureRegistry interface {
	RegisterTexture(id string, img image.Image) (Handle, error)
	DestroyTexture(h Handle)
}

// Executor delivers work to the main context.
type Executor interface {
	Execute(fn func())
}

// Override is the texture substituted for a participant's default skin.
type Override struct {
	Handle Handle
	Slim   bool
}

// OverrideLookup is consulted by the renderer for each participant.
type OverrideLookup interface {
	LookupOverride(participant uuid.UUID) (Override, bool)
}

// ImmediateExecutor runs work inline on the calling goroutine.
// Suitable for headless clients and tests.
type ImmediateExecutor struct{}

// Execute implements Executor.
func (ImmediateExecutor) Execute(fn func()) { fn() }

// QueueExecutor buffers work until the host loop calls Drain.
type QueueExecutor struct {
	mu    sync.Mutex
	queue []func()
}

// NewQueueExecutor creates an empty queue executor.
func NewQueueExecutor() *QueueExecutor {
	return &QueueExecutor{}
}

// Execute implements Executor.
func (q *QueueExecutor) Execute(fn func()) {
	q.mu.Lock()
	q.queue = append(q.queue, fn)
	q.mu.Unlock()
}

// Drain runs every queued function in submission order and returns the count.
// Functions queued while draining run on the next Drain.
func (q *QueueExecutor) Drain() int {
	q.mu.Lock()
	work := q.queue
	q.queue = nil
	q.mu.Unlock()

	for _, fn := range work {
		fn()
	}
	return len(work)
}

// Len returns the number of queued functions.
func (q *QueueExecutor) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// MemoryRegistry is an in-process TextureRegistry that keeps decoded images.
// Used by the headless client and in tests to observe texture lifecycle.
type MemoryRegistry struct {
	mu        sync.Mutex
	next      atomic.Int64
	textures  map[Handle]image.Image
	destroyed int
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{textures: make(map[Handle]image.Image)}
}

// RegisterTexture implements TextureRegistry.
func (r *MemoryRegistry) RegisterTexture(id string, img image.Image) (Handle, error) {
	if img == nil {
		return "", fmt.Errorf("register %s: nil image", id)
	}
	h := Handle(fmt.Sprintf("%s#%d", id, r.next.Add(1)))

	r.mu.Lock()
	r.textures[h] = img
	r.mu.Unlock()
	return h, nil
}

// DestroyTexture implements TextureRegistry.
func (r *MemoryRegistry) DestroyTexture(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.textures[h]; ok {
		delete(r.textures, h)
		r.destroyed++
	}
}

// Live returns the number of registered, not yet destroyed textures.
func (r *MemoryRegistry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.textures)
}

// Destroyed returns how many textures have been destroyed.
func (r *MemoryRegistry) Destroyed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// Texture returns the image behind h.
func (r *MemoryRegistry) Texture(h Handle) (image.Image, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.textures[h]
	return img, ok
}

var (
	_ TextureRegistry = (*MemoryRegistry)(nil)
	_ Executor        = ImmediateExecutor{}
	_ Executor        = (*QueueExecutor)(nil)
)
