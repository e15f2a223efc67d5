// Package transfer implements the chunked transfer protocol: splitting an
// encoded payload into Start / Chunk / End messages and reassembling them
// on the receiving side.
package transfer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/KendoTarakate/skin/types"
)

const (
	// DefaultChunkSize is the number of payload bytes carried per chunk.
	DefaultChunkSize = 20000
	// MaxPayloadSize bounds a single transfer (2 MiB).
	MaxPayloadSize = 2 * 1024 * 1024
)

// Sequence is the ordered message list for one transfer.
type Sequence struct {
	Start  *types.TransferStart
	Chunks []*types.TransferChunk
	End    *types.TransferEnd
}

// Messages returns Start, every chunk in index order, then End.
func (s *Sequence) Messages() []types.Message {
	msgs := make([]types.Message, 0, len(s.Chunks)+2)
	msgs = append(msgs, s.Start)
	for _, c := range s.Chunks {
		msgs = append(msgs, c)
	}
	return append(msgs, s.End)
}

// Frame splits payload into a transfer sequence.
// owner is uuid.Nil for client-to-server transfers, where the sender is
// implied by the connection; otherwise it is written into every message.
//
// Returns error if:
//   - payload is empty
//   - payload exceeds MaxPayloadSize
//   - chunkSize is below 1
func Frame(owner uuid.UUID, payload []byte, slim bool, chunkSize int) (*Sequence, error) {
	if len(payload) == 0 {
		return nil, errors.New("cannot frame empty payload")
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize)
	}
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be >= 1, got %d", chunkSize)
	}

	ownerText := ""
	if owner != uuid.Nil {
		ownerText = owner.String()
	}

	total := (len(payload) + chunkSize - 1) / chunkSize
	seq := &Sequence{
		Start: &types.TransferStart{
			Owner:       ownerText,
			Slim:        slim,
			TotalChunks: int32(total),
			TotalBytes:  int32(len(payload)),
		},
		Chunks: make([]*types.TransferChunk, 0, total),
		End:    &types.TransferEnd{Owner: ownerText},
	}

	for i := range total {
		lo := i * chunkSize
		hi := min(lo+chunkSize, len(payload))
		seq.Chunks = append(seq.Chunks, &types.TransferChunk{
			Owner: ownerText,
			Index: int32(i),
			Size:  int32(hi - lo),
			Data:  payload[lo:hi:hi],
		})
	}

	return seq, nil
}
