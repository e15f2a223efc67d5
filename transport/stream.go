package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/KendoTarakate/skin/ipc"
	"github.com/KendoTarakate/skin/types"
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// StreamConn runs the protocol over a byte stream using 4-byte big-endian
// length-prefixed frames.
//
// Context deadlines are applied when the stream supports read/write
// deadlines (net.Conn does). Otherwise a blocked read is released only by
// Close.
type StreamConn struct {
	rwc     io.ReadWriteCloser
	decoder *ipc.FrameDecoder
	encoder *ipc.FrameEncoder

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn wraps rwc.
func NewStreamConn(rwc io.ReadWriteCloser) *StreamConn {
	return &StreamConn{
		rwc:     rwc,
		decoder: ipc.NewFrameDecoder(rwc),
		encoder: ipc.NewFrameEncoder(rwc),
	}
}

// ReadMessage reads and decodes the next frame.
func (c *StreamConn) ReadMessage(ctx context.Context) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d, ok := c.rwc.(readDeadliner); ok {
		_ = d.SetReadDeadline(deadline(ctx))
	}
	payload, err := c.decoder.ReadFrame()
	if err != nil {
		return nil, err
	}
	return ipc.DecodeMessage(payload)
}

// WriteMessage encodes msg and writes it as one frame.
func (c *StreamConn) WriteMessage(ctx context.Context, msg types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := ipc.EncodeMessage(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if d, ok := c.rwc.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(deadline(ctx))
	}
	return c.encoder.WriteFrame(payload)
}

// Close closes the underlying stream. Safe to call more than once.
func (c *StreamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

var _ Conn = (*StreamConn)(nil)
