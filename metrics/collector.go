// Package metrics provides process-wide counters for the transfer,
// dispatch and storage paths.
//
// The Collector is a leaf package with no internal dependencies. Every
// component receives the same *Collector; a nil collector is valid and
// records nothing.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Transfer assembly
	TransfersStarted    int64 `json:"transfers_started"`
	TransfersCompleted  int64 `json:"transfers_completed"`
	TransfersIncomplete int64 `json:"transfers_incomplete"`
	TransfersEvicted    int64 `json:"transfers_evicted"`
	ChunksReceived      int64 `json:"chunks_received"`
	ChunksDropped       int64 `json:"chunks_dropped"`
	BytesAssembled      int64 `json:"bytes_assembled"`

	// Fan-out
	FanoutSent    int64 `json:"fanout_sent"`
	FanoutFailed  int64 `json:"fanout_failed"`
	Replays       int64 `json:"replays"`
	Resets        int64 `json:"resets"`
	RecordsStored int64 `json:"records_stored"`

	// Connections
	ConnectionsOpened int64 `json:"connections_opened"`
	ConnectionsClosed int64 `json:"connections_closed"`
	DecodeErrors      int64 `json:"decode_errors"`

	// Storage
	StoreWriteSuccess int64 `json:"store_write_success"`
	StoreWriteFailure int64 `json:"store_write_failure"`

	// Dimensions (informational, set at construction)
	Role           string `json:"role"`
	StorageBackend string `json:"storage_backend"`
	NodeID         string `json:"node_id"`
}

// Collector accumulates counters for the lifetime of a process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	transfersStarted    int64
	transfersCompleted  int64
	transfersIncomplete int64
	transfersEvicted    int64
	chunksReceived      int64
	chunksDropped       int64
	bytesAssembled      int64

	fanoutSent    int64
	fanoutFailed  int64
	replays       int64
	resets        int64
	recordsStored int64

	connectionsOpened int64
	connectionsClosed int64
	decodeErrors      int64

	storeWriteSuccess int64
	storeWriteFailure int64

	role           string
	storageBackend string
	nodeID         string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(role, storageBackend, nodeID string) *Collector {
	return &Collector{
		role:           role,
		storageBackend: storageBackend,
		nodeID:         nodeID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Transfer assembly ---

// IncTransferStarted records a TransferStart that created or replaced state.
func (c *Collector) IncTransferStarted() {
	if c == nil {
		return
	}
	c.add(&c.transfersStarted, 1)
}

// IncTransferCompleted records a completed transfer of n bytes.
func (c *Collector) IncTransferCompleted(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transfersCompleted++
	c.bytesAssembled += int64(n)
	c.mu.Unlock()
}

// IncTransferIncomplete records a TransferEnd that found missing chunks.
func (c *Collector) IncTransferIncomplete() {
	if c == nil {
		return
	}
	c.add(&c.transfersIncomplete, 1)
}

// AddTransfersEvicted records n states removed by idle eviction.
func (c *Collector) AddTransfersEvicted(n int) {
	if c == nil || n == 0 {
		return
	}
	c.add(&c.transfersEvicted, int64(n))
}

// IncChunkReceived records an accepted chunk.
func (c *Collector) IncChunkReceived() {
	if c == nil {
		return
	}
	c.add(&c.chunksReceived, 1)
}

// IncChunkDropped records a chunk dropped for lack of state.
func (c *Collector) IncChunkDropped() {
	if c == nil {
		return
	}
	c.add(&c.chunksDropped, 1)
}

// --- Fan-out ---

// IncFanoutSent records a successful per-recipient delivery.
func (c *Collector) IncFanoutSent() {
	if c == nil {
		return
	}
	c.add(&c.fanoutSent, 1)
}

// IncFanoutFailed records a failed per-recipient delivery.
func (c *Collector) IncFanoutFailed() {
	if c == nil {
		return
	}
	c.add(&c.fanoutFailed, 1)
}

// IncReplay records one stored record replayed to a joiner.
func (c *Collector) IncReplay() {
	if c == nil {
		return
	}
	c.add(&c.replays, 1)
}

// IncReset records a processed reset request.
func (c *Collector) IncReset() {
	if c == nil {
		return
	}
	c.add(&c.resets, 1)
}

// IncRecordStored records an upsert into the record store.
func (c *Collector) IncRecordStored() {
	if c == nil {
		return
	}
	c.add(&c.recordsStored, 1)
}

// --- Connections ---

// IncConnectionOpened records an accepted connection.
func (c *Collector) IncConnectionOpened() {
	if c == nil {
		return
	}
	c.add(&c.connectionsOpened, 1)
}

// IncConnectionClosed records a closed connection.
func (c *Collector) IncConnectionClosed() {
	if c == nil {
		return
	}
	c.add(&c.connectionsClosed, 1)
}

// IncDecodeErrors records a message that failed to decode.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.add(&c.decodeErrors, 1)
}

// --- Storage ---

// IncStoreWriteSuccess records a successful persistent write.
func (c *Collector) IncStoreWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.storeWriteSuccess, 1)
}

// IncStoreWriteFailure records a failed persistent write.
func (c *Collector) IncStoreWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.storeWriteFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		TransfersStarted:    c.transfersStarted,
		TransfersCompleted:  c.transfersCompleted,
		TransfersIncomplete: c.transfersIncomplete,
		TransfersEvicted:    c.transfersEvicted,
		ChunksReceived:      c.chunksReceived,
		ChunksDropped:       c.chunksDropped,
		BytesAssembled:      c.bytesAssembled,

		FanoutSent:    c.fanoutSent,
		FanoutFailed:  c.fanoutFailed,
		Replays:       c.replays,
		Resets:        c.resets,
		RecordsStored: c.recordsStored,

		ConnectionsOpened: c.connectionsOpened,
		ConnectionsClosed: c.connectionsClosed,
		DecodeErrors:      c.decodeErrors,

		StoreWriteSuccess: c.storeWriteSuccess,
		StoreWriteFailure: c.storeWriteFailure,

		Role:           c.role,
		StorageBackend: c.storageBackend,
		NodeID:         c.nodeID,
	}
}
