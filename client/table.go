package client

import (
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"

	"github.com/KendoTarakate/skin/engine"
)

// SkinTable maps participants to their registered override textures.
//
// Apply and Remove touch the texture registry and must run on the engine's
// main context (via engine.Executor). LookupOverride may be called from any
// goroutine, typically the renderer.
type SkinTable struct {
	registry engine.TextureRegistry

	mu      sync.RWMutex
	entries map[uuid.UUID]engine.Override
}

// NewSkinTable creates an empty table backed by registry.
func NewSkinTable(registry engine.TextureRegistry) *SkinTable {
	return &SkinTable{
		registry: registry,
		entries:  make(map[uuid.UUID]engine.Override),
	}
}

// Apply registers img as owner's texture. The previous texture is destroyed
// first, so registries that key textures by id never see two live
// textures for one owner. If registration fails the owner has no override
// and renders with the default skin.
func (t *SkinTable) Apply(owner uuid.UUID, img image.Image, slim bool) error {
	t.mu.Lock()
	prev, hadPrev := t.entries[owner]
	delete(t.entries, owner)
	t.mu.Unlock()

	if hadPrev {
		t.registry.DestroyTexture(prev.Handle)
	}

	h, err := t.registry.RegisterTexture("skin/"+owner.String(), img)
	if err != nil {
		return fmt.Errorf("register texture for %s: %w", owner, err)
	}

	t.mu.Lock()
	t.entries[owner] = engine.Override{Handle: h, Slim: slim}
	t.mu.Unlock()
	return nil
}

// Remove drops owner's override and destroys its texture.
func (t *SkinTable) Remove(owner uuid.UUID) bool {
	t.mu.Lock()
	prev, ok := t.entries[owner]
	delete(t.entries, owner)
	t.mu.Unlock()

	if ok {
		t.registry.DestroyTexture(prev.Handle)
	}
	return ok
}

// Clear removes every override.
func (t *SkinTable) Clear() int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uuid.UUID]engine.Override)
	t.mu.Unlock()

	for _, o := range entries {
		t.registry.DestroyTexture(o.Handle)
	}
	return len(entries)
}

// LookupOverride implements engine.OverrideLookup.
func (t *SkinTable) LookupOverride(id uuid.UUID) (engine.Override, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.entries[id]
	return o, ok
}

// Len returns the number of overrides.
func (t *SkinTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

var _ engine.OverrideLookup = (*SkinTable)(nil)
