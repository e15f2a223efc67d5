package engine

import (
	"image"
	"testing"
)

func TestQueueExecutor_DrainOrder(t *testing.T) {
	q := NewQueueExecutor()
	var order []int
	for i := range 3 {
		q.Execute(func() { order = append(order, i) })
	}

	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	if n := q.Drain(); n != 3 {
		t.Errorf("Drain = %d, want 3", n)
	}
	if len(order) != 3 || order[0] != 0 || order[2] != 2 {
		t.Errorf("order = %v", order)
	}
	if q.Len() != 0 {
		t.Error("queue should be empty after Drain")
	}
}

func TestQueueExecutor_WorkQueuedDuringDrainWaits(t *testing.T) {
	q := NewQueueExecutor()
	ran := false
	q.Execute(func() {
		q.Execute(func() { ran = true })
	})

	q.Drain()
	if ran {
		t.Fatal("nested work should wait for the next Drain")
	}
	q.Drain()
	if !ran {
		t.Error("nested work did not run on the second Drain")
	}
}

func TestMemoryRegistry_Lifecycle(t *testing.T) {
	r := NewMemoryRegistry()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))

	h1, err := r.RegisterTexture("skin/a", img)
	if err != nil {
		t.Fatalf("RegisterTexture failed: %v", err)
	}
	h2, _ := r.RegisterTexture("skin/a", img)
	if h1 == h2 {
		t.Error("handles must be unique per registration")
	}
	if r.Live() != 2 {
		t.Errorf("Live = %d, want 2", r.Live())
	}

	r.DestroyTexture(h1)
	r.DestroyTexture(h1)
	if r.Live() != 1 || r.Destroyed() != 1 {
		t.Errorf("Live = %d Destroyed = %d, want 1/1", r.Live(), r.Destroyed())
	}
	if _, ok := r.Texture(h2); !ok {
		t.Error("h2 should still be registered")
	}

	if _, err := r.RegisterTexture("skin/b", nil); err == nil {
		t.Error("expected error for nil image")
	}
}
