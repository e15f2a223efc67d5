//nolint:revive // types is a common Go package naming convention
package types

import (
	"time"

	"github.com/google/uuid"
)

// StoredRecord is the server's cached copy of a participant's latest skin.
// At most one exists per owner; a newer transfer replaces it.
type StoredRecord struct {
	// Owner is the participant the skin belongs to.
	Owner uuid.UUID
	// Name is the owner's display name at the time of storage.
	Name string
	// Payload is the encoded PNG.
	Payload []byte
	// Slim selects the slim model variant.
	Slim bool
	// StoredAt is when the record was written.
	StoredAt time.Time
}

// RecordMeta is the JSON sidecar persisted next to a stored payload.
type RecordMeta struct {
	Owner     string `json:"owner"`
	Name      string `json:"name,omitempty"`
	Slim      bool   `json:"slim"`
	Bytes     int    `json:"bytes"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// Meta returns the sidecar describing r.
func (r *StoredRecord) Meta() RecordMeta {
	return RecordMeta{
		Owner:     r.Owner.String(),
		Name:      r.Name,
		Slim:      r.Slim,
		Bytes:     len(r.Payload),
		Timestamp: r.StoredAt.UnixMilli(),
	}
}
