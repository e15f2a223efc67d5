package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/KendoTarakate/skin/types"
)

func pipe(t *testing.T) (*StreamConn, *StreamConn) {
	t.Helper()
	a, b := net.Pipe()
	ca, cb := NewStreamConn(a), NewStreamConn(b)
	t.Cleanup(func() {
		_ = ca.Close()
		_ = cb.Close()
	})
	return ca, cb
}

func TestStreamConn_RoundTrip(t *testing.T) {
	client, server := pipe(t)

	data := make([]byte, 20000)
	for i := range data {
		data[i] = byte(i)
	}
	sent := &types.TransferChunk{Owner: "", Index: 2, Size: int32(len(data)), Data: data}

	errc := make(chan error, 1)
	go func() { errc <- client.WriteMessage(t.Context(), sent) }()

	msg, err := server.ReadMessage(t.Context())
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	chunk, ok := msg.(*types.TransferChunk)
	if !ok {
		t.Fatalf("message = %T, want *types.TransferChunk", msg)
	}
	if chunk.Index != 2 || chunk.Size != 20000 || len(chunk.Data) != 20000 || chunk.Data[300] != data[300] {
		t.Errorf("chunk mismatch: index=%d size=%d len=%d", chunk.Index, chunk.Size, len(chunk.Data))
	}
}

func TestStreamConn_EOFOnPeerClose(t *testing.T) {
	client, server := pipe(t)
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := server.ReadMessage(t.Context()); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestStreamConn_ReadDeadline(t *testing.T) {
	_, server := pipe(t)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := server.ReadMessage(ctx)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestStreamConn_CanceledContext(t *testing.T) {
	client, server := pipe(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := server.ReadMessage(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("read err = %v, want context.Canceled", err)
	}
	if err := client.WriteMessage(ctx, &types.TransferEnd{}); !errors.Is(err, context.Canceled) {
		t.Errorf("write err = %v, want context.Canceled", err)
	}
}

func TestStreamConn_ConcurrentWritersKeepFramesIntact(t *testing.T) {
	client, server := pipe(t)

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				msg := &types.TransferChunk{Index: int32(w*perWriter + i), Size: 3, Data: []byte{1, 2, 3}}
				if err := client.WriteMessage(t.Context(), msg); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}()
	}

	seen := make(map[int32]bool)
	for range writers * perWriter {
		msg, err := server.ReadMessage(t.Context())
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		seen[msg.(*types.TransferChunk).Index] = true
	}
	wg.Wait()

	if len(seen) != writers*perWriter {
		t.Errorf("distinct messages = %d, want %d", len(seen), writers*perWriter)
	}
}
