// Package session runs the server side of a skin-sharing session: it
// accepts participant connections, reassembles uploaded skins, and hands
// them to the dispatcher for storage and fan-out.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KendoTarakate/skin/adapter"
	"github.com/KendoTarakate/skin/dispatch"
	"github.com/KendoTarakate/skin/imaging"
	"github.com/KendoTarakate/skin/ipc"
	"github.com/KendoTarakate/skin/log"
	"github.com/KendoTarakate/skin/metrics"
	"github.com/KendoTarakate/skin/schedule"
	"github.com/KendoTarakate/skin/store"
	"github.com/KendoTarakate/skin/transfer"
	"github.com/KendoTarakate/skin/transport"
	"github.com/KendoTarakate/skin/types"
)

const (
	// DefaultHelloTimeout bounds the wait for a connection's Hello.
	DefaultHelloTimeout = 10 * time.Second
	// DefaultJanitorInterval is how often idle transfers are swept.
	DefaultJanitorInterval = 15 * time.Second
)

// ErrProtocolMismatch is returned when a Hello carries another protocol version.
var ErrProtocolMismatch = errors.New("protocol version mismatch")

// ErrBadHello is returned when a connection does not open with a valid Hello.
var ErrBadHello = errors.New("connection must start with hello")

// Config configures a Hub.
type Config struct {
	ChunkSize       int
	IdleTimeout     time.Duration
	JanitorInterval time.Duration
	JoinReplayDelay time.Duration
	HelloTimeout    time.Duration
	Parallel        int
	SendTimeout     time.Duration
	KeepOnLeave     bool
	// MaxDimension rejects uploads with a larger side (0: imaging.MaxDimension).
	MaxDimension int

	// Store holds the latest skin per participant (default store.NewMemory).
	Store     store.Store
	Scheduler schedule.Clock
	Logger    *log.Logger
	Metrics   *metrics.Collector
	Notifier  adapter.Adapter
}

// Hub owns the roster, the server-side assembler and the dispatcher.
type Hub struct {
	config     Config
	roster     *Roster
	assembler  *transfer.Assembler
	dispatcher *dispatch.Dispatcher
	codec      *imaging.Codec
	logger     *log.Logger
	metrics    *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// NewHub wires a hub from cfg.
func NewHub(cfg Config) *Hub {
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = DefaultHelloTimeout
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = DefaultJanitorInterval
	}

	h := &Hub{
		config:  cfg,
		roster:  NewRoster(),
		codec:   imaging.NewCodec(cfg.Logger),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.dispatcher = dispatch.New(dispatch.Config{
		ChunkSize:       cfg.ChunkSize,
		JoinReplayDelay: cfg.JoinReplayDelay,
		Parallel:        cfg.Parallel,
		SendTimeout:     cfg.SendTimeout,
		KeepOnLeave:     cfg.KeepOnLeave,
		Scheduler:       cfg.Scheduler,
		Logger:          cfg.Logger,
		Metrics:         cfg.Metrics,
		Notifier:        cfg.Notifier,
	}, cfg.Store, h.roster)

	h.assembler = transfer.NewAssembler(transfer.AssemblerConfig{
		IdleTimeout: cfg.IdleTimeout,
		Clock:       cfg.Scheduler,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
	}, h.onComplete)
	h.assembler.StartJanitor(h.ctx, cfg.Scheduler, cfg.JanitorInterval)

	return h
}

// Roster returns the live participant roster.
func (h *Hub) Roster() *Roster { return h.roster }

// Dispatcher returns the hub's dispatcher.
func (h *Hub) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }

// Assembler returns the hub's server-side assembler.
func (h *Hub) Assembler() *transfer.Assembler { return h.assembler }

// Store returns the record store.
func (h *Hub) Store() store.Store { return h.config.Store }

// onComplete validates a reassembled upload and hands it to the dispatcher.
// Runs on the uploader's read goroutine, after the assembler lock is released.
func (h *Hub) onComplete(owner uuid.UUID, payload []byte, slim bool) {
	img, err := h.codec.Decode(payload)
	if err == nil {
		var side int
		side, err = imaging.Validate(img)
		if err == nil && h.config.MaxDimension > 0 && side > h.config.MaxDimension {
			err = fmt.Errorf("%w: side %d exceeds server limit %d", imaging.ErrInvalidDimensions, side, h.config.MaxDimension)
		}
	}
	if err != nil {
		h.metrics.IncDecodeErrors()
		h.logger.Warn("rejected uploaded skin", map[string]any{
			"owner": owner.String(),
			"bytes": len(payload),
			"error": err.Error(),
		})
		return
	}

	name := ""
	if p, ok := h.roster.Lookup(owner); ok {
		name = p.name
	}
	if _, err := h.dispatcher.OnTransferComplete(h.ctx, owner, name, payload, slim); err != nil {
		h.logger.Error("skin dispatch failed", map[string]any{
			"owner": owner.String(),
			"error": err.Error(),
		})
	}
}

// HandleConn runs one participant connection until it closes or the hub
// shuts down. expect, when not uuid.Nil, must match the Hello's participant.
// Messages of one connection are handled strictly in arrival order.
func (h *Hub) HandleConn(conn transport.Conn, expect uuid.UUID) error {
	h.conns.Add(1)
	defer h.conns.Done()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	p, err := h.handshake(ctx, conn, expect)
	if err != nil {
		_ = conn.Close()
		return err
	}

	if prev := h.roster.add(p); prev != nil {
		h.logger.Info("participant reconnected, closing previous connection", map[string]any{
			"participant": p.id.String(),
		})
		_ = prev.conn.Close()
	}
	h.metrics.IncConnectionOpened()
	h.logger.Info("participant joined", map[string]any{
		"participant": p.id.String(),
		"name":        p.name,
	})
	h.dispatcher.OnParticipantJoin(ctx, p.id)

	err = h.readLoop(ctx, p)

	// A hub shutdown is not a leave; records survive a restart.
	removed := h.roster.remove(p)
	if removed {
		h.assembler.Discard(p.id)
	}
	if removed && h.ctx.Err() == nil {
		if lerr := h.dispatcher.OnParticipantLeave(h.ctx, p.id); lerr != nil {
			h.logger.Warn("leave cleanup failed", map[string]any{
				"participant": p.id.String(),
				"error":       lerr.Error(),
			})
		}
	}
	_ = conn.Close()
	h.metrics.IncConnectionClosed()
	h.logger.Info("participant left", map[string]any{"participant": p.id.String()})

	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (h *Hub) handshake(ctx context.Context, conn transport.Conn, expect uuid.UUID) (*Participant, error) {
	hctx, cancel := context.WithTimeout(ctx, h.config.HelloTimeout)
	defer cancel()

	msg, err := conn.ReadMessage(hctx)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	hello, ok := msg.(*types.Hello)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrBadHello, msg.MessageType())
	}
	if hello.Protocol != types.ProtocolVersion {
		return nil, fmt.Errorf("%w: client %d, server %d", ErrProtocolMismatch, hello.Protocol, types.ProtocolVersion)
	}
	id, err := uuid.Parse(hello.Participant)
	if err != nil || id == uuid.Nil {
		return nil, fmt.Errorf("%w: invalid participant %q", ErrBadHello, hello.Participant)
	}
	if expect != uuid.Nil && id != expect {
		return nil, fmt.Errorf("%w: participant %s does not match %s", ErrBadHello, id, expect)
	}
	return &Participant{id: id, name: hello.Name, conn: conn}, nil
}

func (h *Hub) readLoop(ctx context.Context, p *Participant) error {
	for {
		msg, err := p.conn.ReadMessage(ctx)
		if err != nil {
			var fe *ipc.FrameError
			if errors.As(err, &fe) && !fe.IsFatal() {
				h.metrics.IncDecodeErrors()
				h.logger.Debug("dropped undecodable message", map[string]any{
					"participant": p.id.String(),
					"error":       err.Error(),
				})
				continue
			}
			if errors.Is(err, transport.ErrTextMessage) {
				continue
			}
			return err
		}
		h.handle(ctx, p, msg)
	}
}

// handle applies one message from p. Transfer messages are keyed by the
// connection's participant; any owner field sent by a client is ignored.
func (h *Hub) handle(ctx context.Context, p *Participant, msg types.Message) {
	switch msg.(type) {
	case *types.TransferStart, *types.TransferChunk, *types.TransferEnd:
		if err := h.assembler.Handle(p.id, msg); err != nil {
			h.logger.Debug("transfer message rejected", map[string]any{
				"participant": p.id.String(),
				"type":        msg.MessageType(),
				"error":       err.Error(),
			})
		}
	case *types.ResetOwner:
		h.assembler.Discard(p.id)
		if _, err := h.dispatcher.OnResetRequest(ctx, p.id); err != nil {
			h.logger.Error("reset failed", map[string]any{
				"participant": p.id.String(),
				"error":       err.Error(),
			})
		}
	case *types.Hello:
		h.logger.Warn("ignoring repeated hello", map[string]any{"participant": p.id.String()})
	}
}

// Close disconnects every participant, stops background work and waits
// for connection handlers to return.
func (h *Hub) Close() {
	h.cancel()
	h.conns.Wait()
	h.dispatcher.Close()
}
