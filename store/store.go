// Package store holds the server's latest skin per participant.
//
// Memory keeps records in process. LodeStore writes through to a Lode
// object store (filesystem, S3, or Lode's in-memory store) so records
// survive restarts, and reloads them on open.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/KendoTarakate/skin/types"
)

// MaxRecordSize bounds a stored payload read back from persistent storage.
const MaxRecordSize = 2 * 1024 * 1024

// Store is an owner-keyed record store with last-write-wins semantics.
type Store interface {
	// Put inserts or replaces the record for rec.Owner.
	Put(ctx context.Context, rec *types.StoredRecord) error
	// Get returns the record for owner, if any.
	Get(ctx context.Context, owner uuid.UUID) (*types.StoredRecord, bool, error)
	// Delete removes the record for owner. Reports whether one existed.
	Delete(ctx context.Context, owner uuid.UUID) (bool, error)
	// All returns every record ordered by StoredAt, oldest first.
	All(ctx context.Context) ([]*types.StoredRecord, error)
	// Close releases backend resources.
	Close() error
}

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*types.StoredRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[uuid.UUID]*types.StoredRecord)}
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, rec *types.StoredRecord) error {
	cp := *rec
	m.mu.Lock()
	m.records[rec.Owner] = &cp
	m.mu.Unlock()
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, owner uuid.UUID) (*types.StoredRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[owner]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, owner uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[owner]
	delete(m.records, owner)
	return ok, nil
}

// All implements Store.
func (m *Memory) All(_ context.Context) ([]*types.StoredRecord, error) {
	m.mu.RLock()
	out := make([]*types.StoredRecord, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sortRecords(out)
	return out, nil
}

// Len returns the number of records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// sortRecords orders by StoredAt, then owner for a stable replay order.
func sortRecords(recs []*types.StoredRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].StoredAt.Equal(recs[j].StoredAt) {
			return recs[i].Owner.String() < recs[j].Owner.String()
		}
		return recs[i].StoredAt.Before(recs[j].StoredAt)
	})
}

var _ Store = (*Memory)(nil)
