// Package client implements the participant side of a skin-sharing
// session: it applies and uploads the local skin, reassembles skins pushed
// by the server, and swaps them into the engine through the executor.
package client

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KendoTarakate/skin/engine"
	"github.com/KendoTarakate/skin/imaging"
	"github.com/KendoTarakate/skin/ipc"
	"github.com/KendoTarakate/skin/log"
	"github.com/KendoTarakate/skin/metrics"
	"github.com/KendoTarakate/skin/schedule"
	"github.com/KendoTarakate/skin/transfer"
	"github.com/KendoTarakate/skin/transport"
	"github.com/KendoTarakate/skin/types"
)

// DefaultSendTimeout bounds the upload of one skin.
const DefaultSendTimeout = 30 * time.Second

// ErrNotConnected is returned by operations that need a server connection.
var ErrNotConnected = errors.New("client not connected")

// Persistence records skins the user applied, for the history view.
type Persistence interface {
	Record(file string, payload []byte, slim bool)
}

// Recall supplies the skin to re-apply when a connection opens.
type Recall interface {
	Last() (file string, slim bool, ok bool)
}

// Config configures a Client.
type Config struct {
	// Participant identifies this client (default: random).
	Participant uuid.UUID
	Name        string
	// MaxDimension caps the uploaded side (default imaging.DefaultMaxDimension).
	MaxDimension int
	// MaxBytes is the encoded size budget (default imaging.DefaultMaxBytes).
	MaxBytes    int
	ChunkSize   int
	IdleTimeout time.Duration
	SendTimeout time.Duration

	Registry  engine.TextureRegistry
	Executor  engine.Executor
	Scheduler schedule.Clock
	Logger    *log.Logger
	Metrics   *metrics.Collector

	// History is optional. When it also implements Recall, the last skin is
	// re-applied on Connect.
	History Persistence
}

// Client is one participant endpoint.
type Client struct {
	config    Config
	id        uuid.UUID
	table     *SkinTable
	codec     *imaging.Codec
	assembler *transfer.Assembler
	logger    *log.Logger
	metrics   *metrics.Collector

	mu     sync.Mutex
	conn   transport.Conn
	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	// sendMu keeps own uploads whole; the server keys them by connection.
	sendMu  sync.Mutex
	pending sync.WaitGroup
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	if cfg.Participant == uuid.Nil {
		cfg.Participant = uuid.New()
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = imaging.DefaultMaxDimension
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = imaging.DefaultMaxBytes
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = transfer.DefaultChunkSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = transfer.DefaultIdleTimeout
	}
	if cfg.Registry == nil {
		cfg.Registry = engine.NewMemoryRegistry()
	}
	if cfg.Executor == nil {
		cfg.Executor = engine.ImmediateExecutor{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}

	c := &Client{
		config:  cfg,
		id:      cfg.Participant,
		table:   NewSkinTable(cfg.Registry),
		codec:   imaging.NewCodec(cfg.Logger),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	c.assembler = transfer.NewAssembler(transfer.AssemblerConfig{
		IdleTimeout: cfg.IdleTimeout,
		Clock:       cfg.Scheduler,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
	}, c.onComplete)
	return c
}

// ID returns the participant id.
func (c *Client) ID() uuid.UUID { return c.id }

// Table returns the override table the renderer consults.
func (c *Client) Table() *SkinTable { return c.table }

// Assembler returns the client-side assembler.
func (c *Client) Assembler() *transfer.Assembler { return c.assembler }

// Connect sends Hello on conn and starts the receive loop. When History
// can recall a previous skin, it is re-applied and uploaded in the
// background.
func (c *Client) Connect(ctx context.Context, conn transport.Conn) error {
	hello := &types.Hello{
		Participant: c.id.String(),
		Name:        c.config.Name,
		Protocol:    types.ProtocolVersion,
	}
	if err := conn.WriteMessage(ctx, hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.metrics.IncConnectionOpened()
	c.assembler.StartJanitor(runCtx, c.config.Scheduler, c.config.IdleTimeout/4)
	go func() {
		err := c.run(runCtx, conn)
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
		close(done)
	}()

	if recall, ok := c.config.History.(Recall); ok {
		if file, slim, ok := recall.Last(); ok {
			if err := c.ApplyFile(ctx, file, slim); err != nil {
				c.logger.Warn("could not re-apply last skin", map[string]any{
					"file":  file,
					"error": err.Error(),
				})
			}
		}
	}
	return nil
}

// run reads server messages in order until the connection ends.
func (c *Client) run(ctx context.Context, conn transport.Conn) error {
	for {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			var fe *ipc.FrameError
			if errors.As(err, &fe) && !fe.IsFatal() {
				c.metrics.IncDecodeErrors()
				continue
			}
			if errors.Is(err, transport.ErrTextMessage) {
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg types.Message) {
	switch m := msg.(type) {
	case *types.TransferStart:
		c.route(m.Owner, msg)
	case *types.TransferChunk:
		c.route(m.Owner, msg)
	case *types.TransferEnd:
		c.route(m.Owner, msg)
	case *types.ResetOwner:
		owner, err := uuid.Parse(m.Owner)
		if err != nil {
			c.logger.Debug("reset with invalid owner", map[string]any{"owner": m.Owner})
			return
		}
		c.assembler.Discard(owner)
		c.config.Executor.Execute(func() {
			if c.table.Remove(owner) {
				c.logger.Info("removed skin", map[string]any{"owner": owner.String()})
			}
		})
	}
}

func (c *Client) route(ownerText string, msg types.Message) {
	owner, err := uuid.Parse(ownerText)
	if err != nil || owner == uuid.Nil {
		c.metrics.IncChunkDropped()
		c.logger.Debug("transfer message without owner", map[string]any{"type": msg.MessageType()})
		return
	}
	if err := c.assembler.Handle(owner, msg); err != nil {
		c.logger.Debug("transfer message rejected", map[string]any{
			"owner": owner.String(),
			"type":  msg.MessageType(),
			"error": err.Error(),
		})
	}
}

// onComplete decodes a pushed skin off the engine context and swaps it in
// on the engine context.
func (c *Client) onComplete(owner uuid.UUID, payload []byte, slim bool) {
	img, err := c.codec.Decode(payload)
	if err == nil {
		_, err = imaging.Validate(img)
	}
	if err != nil {
		c.metrics.IncDecodeErrors()
		c.logger.Warn("discarding received skin", map[string]any{
			"owner": owner.String(),
			"error": err.Error(),
		})
		return
	}
	c.config.Executor.Execute(func() {
		if err := c.table.Apply(owner, img, slim); err != nil {
			c.logger.Error("apply received skin", map[string]any{
				"owner": owner.String(),
				"error": err.Error(),
			})
		}
	})
}

// ApplyFile loads a skin image from path and applies it like Apply.
func (c *Client) ApplyFile(ctx context.Context, path string, slim bool) error {
	img, err := c.codec.LoadFile(path)
	if err != nil {
		return err
	}
	return c.Apply(ctx, img, slim, path)
}

// Apply encodes img, swaps it in as the local skin, records it in history
// under file, and uploads it on a background goroutine if connected.
//
// Encoding errors are returned synchronously and leave no state behind.
func (c *Client) Apply(ctx context.Context, img image.Image, slim bool, file string) error {
	res, err := c.codec.Encode(img, c.config.MaxDimension, c.config.MaxBytes)
	if err != nil {
		return err
	}
	local, err := c.codec.Decode(res.Payload)
	if err != nil {
		return err
	}

	c.config.Executor.Execute(func() {
		if err := c.table.Apply(c.id, local, slim); err != nil {
			c.logger.Error("apply local skin", map[string]any{"error": err.Error()})
		}
	})
	if c.config.History != nil && file != "" {
		c.config.History.Record(file, res.Payload, slim)
	}

	if c.connection() == nil {
		return nil
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if err := c.Push(context.WithoutCancel(ctx), res.Payload, slim); err != nil {
			c.logger.Warn("skin upload failed", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Push uploads an already encoded payload to the server and blocks until
// every message is written.
func (c *Client) Push(ctx context.Context, payload []byte, slim bool) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	seq, err := transfer.Frame(uuid.Nil, payload, slim, c.config.ChunkSize)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.SendTimeout)
	defer cancel()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for _, m := range seq.Messages() {
		if err := conn.WriteMessage(ctx, m); err != nil {
			return fmt.Errorf("upload %s: %w", m.MessageType(), err)
		}
	}
	c.logger.Info("uploaded skin", map[string]any{
		"bytes":  len(payload),
		"chunks": len(seq.Chunks),
		"slim":   slim,
	})
	return nil
}

// ResetSkin drops the local skin and asks the server to remove it for
// everyone else.
func (c *Client) ResetSkin(ctx context.Context) error {
	c.config.Executor.Execute(func() {
		c.table.Remove(c.id)
	})
	conn := c.connection()
	if conn == nil {
		return nil
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := conn.WriteMessage(ctx, &types.ResetOwner{}); err != nil {
		return fmt.Errorf("send reset: %w", err)
	}
	return nil
}

// Flush waits for background uploads to finish.
func (c *Client) Flush() { c.pending.Wait() }

// Done is closed when the receive loop exits.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the receive loop's error after Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// Close waits for uploads, closes the connection and releases every
// received texture on the executor.
func (c *Client) Close() error {
	c.pending.Wait()

	c.mu.Lock()
	conn, cancel, done := c.conn, c.cancel, c.done
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		cancel()
		err = conn.Close()
		<-done
		c.metrics.IncConnectionClosed()
	}
	c.config.Executor.Execute(func() { c.table.Clear() })
	return err
}

func (c *Client) connection() transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}
