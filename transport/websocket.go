package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KendoTarakate/skin/ipc"
	"github.com/KendoTarakate/skin/types"
)

// closeGrace bounds the close handshake write.
const closeGrace = time.Second

// ErrTextMessage is returned for websocket text frames, which the protocol
// never uses. The connection stays usable.
var ErrTextMessage = errors.New("unexpected websocket text message")

// WebSocketConn runs the protocol over a websocket, one binary message per
// protocol message.
type WebSocketConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn wraps an established websocket and caps inbound
// messages at ipc.MaxMessageSize.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	ws.SetReadLimit(ipc.MaxMessageSize)
	return &WebSocketConn{ws: ws}
}

// Upgrader accepts websocket connections for the session endpoint.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Accept upgrades an HTTP request to a WebSocketConn.
func Accept(w http.ResponseWriter, r *http.Request) (*WebSocketConn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return NewWebSocketConn(ws), nil
}

// Dial connects to a websocket endpoint such as ws://host:port/ws.
func Dial(ctx context.Context, url string, header http.Header) (*WebSocketConn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketConn(ws), nil
}

// ReadMessage reads the next binary message and decodes it.
// A clean close by the peer is reported as io.EOF.
func (c *WebSocketConn) ReadMessage(ctx context.Context) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_ = c.ws.SetReadDeadline(deadline(ctx))

	kind, payload, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, &ipc.FrameError{
				Kind: ipc.FrameErrorTooLarge,
				Msg:  fmt.Sprintf("websocket message exceeds %d bytes", ipc.MaxMessageSize),
				Err:  err,
			}
		}
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, ErrTextMessage
	}
	return ipc.DecodeMessage(payload)
}

// WriteMessage encodes msg and sends it as one binary message.
func (c *WebSocketConn) WriteMessage(ctx context.Context, msg types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := ipc.EncodeMessage(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline(ctx))
	return c.ws.WriteMessage(websocket.BinaryMessage, payload)
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

var _ Conn = (*WebSocketConn)(nil)
