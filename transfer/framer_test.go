package transfer

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/KendoTarakate/skin/types"
)

func TestFrame_ChunkSizes(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5A}, 45000)

	seq, err := Frame(uuid.Nil, payload, false, DefaultChunkSize)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}

	if seq.Start.TotalChunks != 3 || seq.Start.TotalBytes != 45000 {
		t.Errorf("start = %d chunks, %d bytes", seq.Start.TotalChunks, seq.Start.TotalBytes)
	}
	want := []int32{20000, 20000, 5000}
	if len(seq.Chunks) != len(want) {
		t.Fatalf("chunks = %d, want %d", len(seq.Chunks), len(want))
	}
	for i, c := range seq.Chunks {
		if c.Index != int32(i) {
			t.Errorf("chunk %d index = %d", i, c.Index)
		}
		if c.Size != want[i] || len(c.Data) != int(want[i]) {
			t.Errorf("chunk %d size = %d (data %d), want %d", i, c.Size, len(c.Data), want[i])
		}
	}
}

func TestFrame_OwnerOmittedWhenImplicit(t *testing.T) {
	seq, err := Frame(uuid.Nil, []byte("abc"), true, 2)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	if seq.Start.Owner != "" || seq.End.Owner != "" || seq.Chunks[0].Owner != "" {
		t.Error("client-to-server sequence should not carry an owner")
	}
	if !seq.Start.Slim {
		t.Error("slim flag lost")
	}
}

func TestFrame_OwnerStamped(t *testing.T) {
	owner := uuid.New()
	seq, err := Frame(owner, []byte("abcdef"), false, 4)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	for _, msg := range seq.Messages() {
		var got string
		switch m := msg.(type) {
		case *types.TransferStart:
			got = m.Owner
		case *types.TransferChunk:
			got = m.Owner
		case *types.TransferEnd:
			got = m.Owner
		}
		if got != owner.String() {
			t.Errorf("%s owner = %q, want %q", msg.MessageType(), got, owner)
		}
	}
}

func TestFrame_MessagesOrder(t *testing.T) {
	seq, err := Frame(uuid.Nil, []byte("0123456789"), false, 3)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	msgs := seq.Messages()
	if len(msgs) != 6 {
		t.Fatalf("messages = %d, want 6", len(msgs))
	}
	if msgs[0].MessageType() != types.MessageTypeTransferStart {
		t.Errorf("first = %s", msgs[0].MessageType())
	}
	if msgs[5].MessageType() != types.MessageTypeTransferEnd {
		t.Errorf("last = %s", msgs[5].MessageType())
	}
}

func TestFrame_Errors(t *testing.T) {
	if _, err := Frame(uuid.Nil, nil, false, DefaultChunkSize); err == nil {
		t.Error("expected error for empty payload")
	}
	if _, err := Frame(uuid.Nil, []byte("x"), false, 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
	if _, err := Frame(uuid.Nil, make([]byte, MaxPayloadSize+1), false, DefaultChunkSize); err == nil {
		t.Error("expected error for oversized payload")
	}
}
