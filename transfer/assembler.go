package transfer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KendoTarakate/skin/log"
	"github.com/KendoTarakate/skin/metrics"
	"github.com/KendoTarakate/skin/schedule"
	"github.com/KendoTarakate/skin/types"
)

// DefaultIdleTimeout is how long a transfer may go without progress
// before the janitor evicts it.
const DefaultIdleTimeout = 60 * time.Second

// CompletionHandler receives every successfully assembled payload.
// It is called outside the assembler lock, once per completed transfer.
type CompletionHandler func(key uuid.UUID, payload []byte, slim bool)

// State is the accumulation state of one in-flight transfer.
type State struct {
	TotalChunks   int
	ExpectedBytes int
	Slim          bool
	Chunks        map[int][]byte
	// ReceivedBytes is the sum of stored chunk lengths.
	ReceivedBytes int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AssemblerConfig configures an Assembler.
type AssemblerConfig struct {
	// IdleTimeout is the eviction threshold (default 60s).
	IdleTimeout time.Duration
	// Clock supplies timestamps (default schedule.Real).
	Clock schedule.Clock
	// Logger receives drop and failure diagnostics (default log.Nop).
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// AssemblerStats is a point-in-time view of the assembler.
type AssemblerStats struct {
	InFlight int      `json:"in_flight"`
	Keys     []string `json:"keys"`
}

// Assembler reassembles chunked transfers keyed by originator.
// At most one transfer per key is in flight; a new start discards any
// incomplete state for the same key. Thread-safe: every state transition
// happens under a single mutex, so concurrent starts for one key resolve to
// whichever acquires the lock last.
type Assembler struct {
	mu      sync.Mutex
	states  map[uuid.UUID]*State
	handler CompletionHandler

	idleTimeout time.Duration
	clock       schedule.Clock
	logger      *log.Logger
	metrics     *metrics.Collector
}

// NewAssembler creates an assembler that reports completed payloads to handler.
func NewAssembler(cfg AssemblerConfig, handler CompletionHandler) *Assembler {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	return &Assembler{
		states:      make(map[uuid.UUID]*State),
		handler:     handler,
		idleTimeout: cfg.IdleTimeout,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// OnStart begins a transfer for key, replacing any in-flight state.
//
// Returns ErrInvalidStart if totalChunks or totalBytes is not positive,
// totalBytes exceeds MaxPayloadSize, or there are more chunks than bytes.
// An invalid start leaves existing state untouched.
func (a *Assembler) OnStart(key uuid.UUID, totalChunks, totalBytes int32, slim bool) error {
	if totalChunks < 1 || totalBytes < 1 || totalBytes > MaxPayloadSize || totalChunks > totalBytes {
		a.logger.Warn("rejected transfer start", map[string]any{
			"key":          key.String(),
			"total_chunks": totalChunks,
			"total_bytes":  totalBytes,
		})
		return fmt.Errorf("%w: key %s: %d chunks, %d bytes", ErrInvalidStart, key, totalChunks, totalBytes)
	}

	now := a.clock.Now()

	a.mu.Lock()
	_, replaced := a.states[key]
	a.states[key] = &State{
		TotalChunks:   int(totalChunks),
		ExpectedBytes: int(totalBytes),
		Slim:          slim,
		Chunks:        make(map[int][]byte, totalChunks),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	a.mu.Unlock()

	a.metrics.IncTransferStarted()
	a.logger.Debug("transfer started", map[string]any{
		"key":          key.String(),
		"total_chunks": totalChunks,
		"total_bytes":  totalBytes,
		"slim":         slim,
		"replaced":     replaced,
	})
	return nil
}

// OnChunk stores chunk data at index for key. A repeated index overwrites.
//
// Returns ErrMissingState if no transfer is active for key (the chunk is
// dropped), or ErrChunkOutOfRange for an index outside [0, totalChunks).
func (a *Assembler) OnChunk(key uuid.UUID, index int32, data []byte) error {
	now := a.clock.Now()

	a.mu.Lock()
	st, ok := a.states[key]
	if !ok {
		a.mu.Unlock()
		a.metrics.IncChunkDropped()
		a.logger.Debug("dropped chunk without active transfer", map[string]any{
			"key":   key.String(),
			"index": index,
		})
		return fmt.Errorf("%w: key %s: chunk %d", ErrMissingState, key, index)
	}
	if index < 0 || int(index) >= st.TotalChunks {
		total := st.TotalChunks
		a.mu.Unlock()
		a.metrics.IncChunkDropped()
		return fmt.Errorf("%w: key %s: index %d, total %d", ErrChunkOutOfRange, key, index, total)
	}

	if prev, dup := st.Chunks[int(index)]; dup {
		st.ReceivedBytes -= len(prev)
	}
	st.Chunks[int(index)] = data
	st.ReceivedBytes += len(data)
	st.UpdatedAt = now
	a.mu.Unlock()

	a.metrics.IncChunkReceived()
	return nil
}

// OnEnd finishes the transfer for key. State is removed in every case.
// On success the chunks are concatenated in index order and passed to the
// completion handler after the lock is released.
//
// Returns ErrMissingState if no transfer is active, or ErrIncompleteTransfer
// if a chunk is missing or the assembled size differs from the declared size.
func (a *Assembler) OnEnd(key uuid.UUID) error {
	a.mu.Lock()
	st, ok := a.states[key]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("dropped end without active transfer", map[string]any{"key": key.String()})
		return fmt.Errorf("%w: key %s: end", ErrMissingState, key)
	}
	delete(a.states, key)
	a.mu.Unlock()

	if len(st.Chunks) != st.TotalChunks {
		a.metrics.IncTransferIncomplete()
		a.logger.Warn("incomplete transfer", map[string]any{
			"key":          key.String(),
			"received":     len(st.Chunks),
			"total_chunks": st.TotalChunks,
		})
		return fmt.Errorf("%w: key %s: received %d of %d chunks",
			ErrIncompleteTransfer, key, len(st.Chunks), st.TotalChunks)
	}
	if st.ReceivedBytes != st.ExpectedBytes {
		a.metrics.IncTransferIncomplete()
		a.logger.Warn("transfer size mismatch", map[string]any{
			"key":      key.String(),
			"received": st.ReceivedBytes,
			"expected": st.ExpectedBytes,
		})
		return fmt.Errorf("%w: key %s: assembled %d bytes, declared %d",
			ErrIncompleteTransfer, key, st.ReceivedBytes, st.ExpectedBytes)
	}

	payload := make([]byte, 0, st.ExpectedBytes)
	for i := range st.TotalChunks {
		payload = append(payload, st.Chunks[i]...)
	}

	a.metrics.IncTransferCompleted(len(payload))
	a.logger.Debug("transfer complete", map[string]any{
		"key":   key.String(),
		"bytes": len(payload),
	})

	if a.handler != nil {
		a.handler(key, payload, st.Slim)
	}
	return nil
}

// Handle routes a decoded transfer message for key to OnStart, OnChunk or
// OnEnd. Other message types are ignored and return nil.
func (a *Assembler) Handle(key uuid.UUID, msg types.Message) error {
	switch m := msg.(type) {
	case *types.TransferStart:
		return a.OnStart(key, m.TotalChunks, m.TotalBytes, m.Slim)
	case *types.TransferChunk:
		if int(m.Size) != len(m.Data) {
			a.metrics.IncChunkDropped()
			return fmt.Errorf("key %s: chunk %d declares %d bytes, carries %d",
				key, m.Index, m.Size, len(m.Data))
		}
		return a.OnChunk(key, m.Index, m.Data)
	case *types.TransferEnd:
		return a.OnEnd(key)
	default:
		return nil
	}
}

// Discard drops any in-flight state for key. Used when the key's
// connection closes or the owner resets.
func (a *Assembler) Discard(key uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.states[key]
	delete(a.states, key)
	return ok
}

// EvictIdle removes every state whose last progress is older than the idle
// timeout relative to now. Returns the number of evicted states.
func (a *Assembler) EvictIdle(now time.Time) int {
	a.mu.Lock()
	var evicted []string
	for key, st := range a.states {
		if now.Sub(st.UpdatedAt) > a.idleTimeout {
			delete(a.states, key)
			evicted = append(evicted, key.String())
		}
	}
	a.mu.Unlock()

	if len(evicted) > 0 {
		a.metrics.AddTransfersEvicted(len(evicted))
		a.logger.Info("evicted idle transfers", map[string]any{
			"count": len(evicted),
			"keys":  evicted,
		})
	}
	return len(evicted)
}

// StartJanitor runs EvictIdle every interval on s until ctx is done.
func (a *Assembler) StartJanitor(ctx context.Context, s schedule.Clock, interval time.Duration) {
	schedule.Every(ctx, s, interval, func() {
		a.EvictIdle(s.Now())
	})
}

// Stats returns the in-flight transfer count and keys.
func (a *Assembler) Stats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]string, 0, len(a.states))
	for key := range a.states {
		keys = append(keys, key.String())
	}
	sort.Strings(keys)
	return AssemblerStats{InFlight: len(a.states), Keys: keys}
}
