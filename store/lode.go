package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/justapithecus/lode/lode"

	"github.com/KendoTarakate/skin/iox"
	"github.com/KendoTarakate/skin/log"
	"github.com/KendoTarakate/skin/metrics"
	"github.com/KendoTarakate/skin/types"
)

// DefaultPrefix is the object key prefix for stored records.
const DefaultPrefix = "skins"

// LodeConfig configures a LodeStore.
type LodeConfig struct {
	// Prefix is the key prefix under which images/ and data/ live (default "skins").
	Prefix string
	// Logger is optional.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// LodeStore is a write-through Store over a Lode object store.
//
// Layout:
//
//	<prefix>/images/<owner>.png
//	<prefix>/data/<owner>.json
//
// Reads are served from an in-memory index populated on open.
type LodeStore struct {
	mu      sync.Mutex // serializes object writes per store
	backend lode.Store
	cache   *Memory
	prefix  string
	logger  *log.Logger
	metrics *metrics.Collector
}

// NewFSFactory returns a Lode store factory rooted at dir, creating dir if needed.
func NewFSFactory(dir string) (lode.StoreFactory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapError("open", dir, err)
	}
	return lode.NewFSFactory(dir), nil
}

// OpenLode creates a LodeStore from factory and loads existing records.
// Records whose image or sidecar cannot be read are skipped with a warning.
func OpenLode(ctx context.Context, factory lode.StoreFactory, cfg LodeConfig) (*LodeStore, error) {
	backend, err := factory()
	if err != nil {
		return nil, wrapError("open", "", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}

	s := &LodeStore{
		backend: backend,
		cache:   NewMemory(),
		prefix:  strings.TrimSuffix(cfg.Prefix, "/"),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LodeStore) imagePath(owner uuid.UUID) string {
	return path.Join(s.prefix, "images", owner.String()+".png")
}

func (s *LodeStore) dataPath(owner uuid.UUID) string {
	return path.Join(s.prefix, "data", owner.String()+".json")
}

// load reads every sidecar under <prefix>/data and its image.
func (s *LodeStore) load(ctx context.Context) error {
	dataDir := path.Join(s.prefix, "data")
	paths, err := s.backend.List(ctx, dataDir)
	if err != nil {
		wrapped := wrapError("list", dataDir, err)
		if errors.Is(wrapped, ErrNotFound) {
			return nil
		}
		return wrapped
	}

	loaded := 0
	for _, p := range paths {
		if !strings.HasSuffix(p, ".json") {
			continue
		}
		rec, err := s.readRecord(ctx, p)
		if err != nil {
			s.logger.Warn("skipping stored record", map[string]any{
				"path":  p,
				"error": err.Error(),
			})
			continue
		}
		if err := s.cache.Put(ctx, rec); err != nil {
			return err
		}
		loaded++
	}

	s.logger.Info("loaded stored records", map[string]any{
		"count":  loaded,
		"prefix": s.prefix,
	})
	return nil
}

func (s *LodeStore) readRecord(ctx context.Context, dataPath string) (*types.StoredRecord, error) {
	raw, err := s.readObject(ctx, dataPath, 64*1024)
	if err != nil {
		return nil, err
	}
	var meta types.RecordMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", dataPath, err)
	}
	owner, err := uuid.Parse(meta.Owner)
	if err != nil {
		return nil, fmt.Errorf("decode %s: owner: %w", dataPath, err)
	}

	payload, err := s.readObject(ctx, s.imagePath(owner), MaxRecordSize)
	if err != nil {
		return nil, err
	}

	return &types.StoredRecord{
		Owner:    owner,
		Name:     meta.Name,
		Payload:  payload,
		Slim:     meta.Slim,
		StoredAt: time.UnixMilli(meta.Timestamp).UTC(),
	}, nil
}

func (s *LodeStore) readObject(ctx context.Context, p string, limit int64) ([]byte, error) {
	rc, err := s.backend.Get(ctx, p)
	if err != nil {
		return nil, wrapError("get", p, err)
	}
	defer iox.DiscardClose(rc)

	data, err := iox.ReadAllLimit(rc, limit)
	if err != nil {
		return nil, wrapError("get", p, err)
	}
	return data, nil
}

// replaceObject writes data at p, removing any previous object first.
func (s *LodeStore) replaceObject(ctx context.Context, p string, data []byte) error {
	if err := s.removeObject(ctx, p); err != nil {
		return err
	}
	if err := s.backend.Put(ctx, p, bytes.NewReader(data)); err != nil {
		return wrapError("put", p, err)
	}
	return nil
}

func (s *LodeStore) removeObject(ctx context.Context, p string) error {
	exists, err := s.backend.Exists(ctx, p)
	if err != nil {
		return wrapError("exists", p, err)
	}
	if !exists {
		return nil
	}
	if err := s.backend.Delete(ctx, p); err != nil {
		return wrapError("delete", p, err)
	}
	return nil
}

// Put implements Store. The old sidecar is removed before the image is
// replaced and the new sidecar is written last, so a sidecar never points
// at a missing image. A failed Put drops owner's record.
func (s *LodeStore) Put(ctx context.Context, rec *types.StoredRecord) error {
	meta, err := json.MarshalIndent(rec.Meta(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode record meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.removeObject(ctx, s.dataPath(rec.Owner)); err != nil {
		s.metrics.IncStoreWriteFailure()
		return err
	}
	if err := s.replaceObject(ctx, s.imagePath(rec.Owner), rec.Payload); err != nil {
		s.metrics.IncStoreWriteFailure()
		_, _ = s.cache.Delete(ctx, rec.Owner)
		return err
	}
	if err := s.replaceObject(ctx, s.dataPath(rec.Owner), meta); err != nil {
		s.metrics.IncStoreWriteFailure()
		_, _ = s.cache.Delete(ctx, rec.Owner)
		return err
	}
	s.metrics.IncStoreWriteSuccess()

	return s.cache.Put(ctx, rec)
}

// Get implements Store.
func (s *LodeStore) Get(ctx context.Context, owner uuid.UUID) (*types.StoredRecord, bool, error) {
	return s.cache.Get(ctx, owner)
}

// Delete implements Store. The sidecar is removed first so a partial
// delete leaves an orphan image rather than a dangling sidecar.
func (s *LodeStore) Delete(ctx context.Context, owner uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.removeObject(ctx, s.dataPath(owner)); err != nil {
		return false, err
	}
	if err := s.removeObject(ctx, s.imagePath(owner)); err != nil {
		return false, err
	}
	return s.cache.Delete(ctx, owner)
}

// All implements Store.
func (s *LodeStore) All(ctx context.Context) ([]*types.StoredRecord, error) {
	return s.cache.All(ctx)
}

// Close implements Store.
func (s *LodeStore) Close() error { return nil }

var _ Store = (*LodeStore)(nil)
