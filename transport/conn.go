// Package transport carries protocol messages over bounded-message
// connections. Every message travels as one msgpack payload no larger than
// ipc.MaxMessageSize.
package transport

import (
	"context"
	"time"

	"github.com/KendoTarakate/skin/types"
)

// Conn is a bidirectional message connection.
//
// ReadMessage must be called from a single goroutine. WriteMessage is safe
// for concurrent use and preserves call order. ReadMessage returns io.EOF
// when the peer closes cleanly.
type Conn interface {
	ReadMessage(ctx context.Context) (types.Message, error)
	WriteMessage(ctx context.Context, msg types.Message) error
	Close() error
}

// deadline returns ctx's deadline, or the zero time when it has none.
// A zero deadline clears any previous one on net.Conn and websocket.Conn.
func deadline(ctx context.Context) time.Time {
	d, _ := ctx.Deadline()
	return d
}
