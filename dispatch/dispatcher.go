// Package dispatch implements the server-side fan-out of completed skin
// transfers: it keeps the latest skin per participant, re-broadcasts new
// skins to everyone else, replays stored skins to late joiners, and
// propagates resets.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KendoTarakate/skin/adapter"
	"github.com/KendoTarakate/skin/log"
	"github.com/KendoTarakate/skin/metrics"
	"github.com/KendoTarakate/skin/schedule"
	"github.com/KendoTarakate/skin/store"
	"github.com/KendoTarakate/skin/transfer"
	"github.com/KendoTarakate/skin/types"
)

const (
	// DefaultJoinReplayDelay is how long after a join stored skins are replayed.
	DefaultJoinReplayDelay = time.Second
	// DefaultParallel bounds concurrent per-recipient sends.
	DefaultParallel = 8
	// DefaultSendTimeout bounds delivery of one sequence to one recipient.
	DefaultSendTimeout = 10 * time.Second
	// notifyTimeout bounds a single adapter publish.
	notifyTimeout = 10 * time.Second
)

// Sender is one connected participant the dispatcher can deliver to.
type Sender interface {
	ID() uuid.UUID
	// Send writes one message. Calls for the same participant must be
	// delivered in call order.
	Send(ctx context.Context, msg types.Message) error
}

// Membership is the current participant roster.
type Membership interface {
	Participants() []Sender
	Participant(id uuid.UUID) (Sender, bool)
}

// Config configures a Dispatcher.
type Config struct {
	// ChunkSize is the payload bytes per chunk (default transfer.DefaultChunkSize).
	ChunkSize int
	// JoinReplayDelay defers replay to a joiner (default 1s).
	JoinReplayDelay time.Duration
	// Parallel bounds concurrent recipients per broadcast (default 8).
	Parallel int
	// SendTimeout bounds one recipient's delivery (default 10s).
	SendTimeout time.Duration
	// KeepOnLeave keeps a participant's record after they disconnect.
	KeepOnLeave bool
	// Scheduler drives the join replay delay (default schedule.Real).
	Scheduler schedule.Clock
	Logger    *log.Logger
	Metrics   *metrics.Collector
	// Notifier receives skin_updated / skin_reset events. Optional.
	Notifier adapter.Adapter
}

// Dispatcher coordinates storage and fan-out for completed transfers.
type Dispatcher struct {
	config  Config
	store   store.Store
	members Membership
	logger  *log.Logger

	// ctx outlives individual requests; replays and notifications run on it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[uuid.UUID]schedule.Timer
	running int

	// ownerLocks serialize sequences for the same owner so two transfers
	// of one owner never interleave on a recipient. Entries outlive the
	// owner's connection; a replay may still be sending its record.
	locksMu    sync.Mutex
	ownerLocks map[uuid.UUID]*sync.Mutex

	notifyWG sync.WaitGroup
}

// New creates a dispatcher over st and the given roster.
func New(cfg Config, st store.Store, members Membership) *Dispatcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = transfer.DefaultChunkSize
	}
	if cfg.JoinReplayDelay < 0 {
		cfg.JoinReplayDelay = 0
	} else if cfg.JoinReplayDelay == 0 {
		cfg.JoinReplayDelay = DefaultJoinReplayDelay
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = DefaultParallel
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config:     cfg,
		store:      st,
		members:    members,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[uuid.UUID]schedule.Timer),
		ownerLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// OnTransferComplete stores payload as owner's current skin and sends it
// to every other participant.
//
// A storage failure aborts before anything is sent. Per-recipient failures
// are reported in the result and never affect other recipients.
func (d *Dispatcher) OnTransferComplete(ctx context.Context, owner uuid.UUID, name string, payload []byte, slim bool) (*FanoutResult, error) {
	seq, err := transfer.Frame(owner, payload, slim, d.config.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("frame skin for %s: %w", owner, err)
	}

	rec := &types.StoredRecord{
		Owner:    owner,
		Name:     name,
		Payload:  payload,
		Slim:     slim,
		StoredAt: d.config.Scheduler.Now(),
	}
	if err := d.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("store skin for %s: %w", owner, err)
	}
	d.config.Metrics.IncRecordStored()

	lock := d.ownerLock(owner)
	lock.Lock()
	result := fanout(ctx, others(d.members.Participants(), owner), seq.Messages(), d.config.Parallel, d.config.SendTimeout)
	lock.Unlock()

	d.record(result)
	d.logger.Info("skin broadcast", map[string]any{
		"owner":      owner.String(),
		"bytes":      len(payload),
		"chunks":     len(seq.Chunks),
		"recipients": result.Recipients,
		"failed":     result.Failed,
	})

	d.notify(&adapter.SkinEvent{
		EventType:  adapter.EventSkinUpdated,
		Owner:      owner.String(),
		Name:       name,
		Slim:       slim,
		Bytes:      len(payload),
		Recipients: result.Recipients,
	})
	return result, nil
}

// OnParticipantJoin schedules replay of every stored skin not owned by id
// to id alone, after JoinReplayDelay. A repeated join replaces the pending
// replay.
func (d *Dispatcher) OnParticipantJoin(_ context.Context, id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.pending[id]; ok {
		t.Stop()
	}
	var timer schedule.Timer
	timer = d.config.Scheduler.AfterFunc(d.config.JoinReplayDelay, func() {
		d.mu.Lock()
		if d.pending[id] == timer {
			delete(d.pending, id)
		}
		d.running++
		d.mu.Unlock()
		defer func() {
			d.mu.Lock()
			d.running--
			d.mu.Unlock()
		}()
		if _, err := d.Replay(d.ctx, id); err != nil {
			d.logger.Warn("join replay failed", map[string]any{
				"participant": id.String(),
				"error":       err.Error(),
			})
		}
	})
	d.pending[id] = timer
}

// Replay sends every stored skin not owned by id to id. Returns the number
// of records delivered. A participant that already left is not an error.
func (d *Dispatcher) Replay(ctx context.Context, id uuid.UUID) (int, error) {
	recipient, ok := d.members.Participant(id)
	if !ok {
		return 0, nil
	}
	records, err := d.store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stored skins: %w", err)
	}

	sent := 0
	for _, rec := range records {
		if rec.Owner == id {
			continue
		}
		seq, err := transfer.Frame(rec.Owner, rec.Payload, rec.Slim, d.config.ChunkSize)
		if err != nil {
			d.logger.Warn("skipping unframeable record", map[string]any{
				"owner": rec.Owner.String(),
				"error": err.Error(),
			})
			continue
		}

		lock := d.ownerLock(rec.Owner)
		lock.Lock()
		err = deliver(ctx, recipient, seq.Messages(), d.config.SendTimeout)
		lock.Unlock()
		if err != nil {
			d.config.Metrics.IncFanoutFailed()
			return sent, &SendError{Recipient: id, Err: err}
		}
		d.config.Metrics.IncFanoutSent()
		d.config.Metrics.IncReplay()
		sent++
	}

	d.logger.Debug("replayed stored skins", map[string]any{
		"participant": id.String(),
		"records":     sent,
	})
	return sent, nil
}

// OnResetRequest removes owner's stored skin and tells every other
// participant to drop it.
func (d *Dispatcher) OnResetRequest(ctx context.Context, owner uuid.UUID) (*FanoutResult, error) {
	if _, err := d.store.Delete(ctx, owner); err != nil {
		return nil, fmt.Errorf("delete skin for %s: %w", owner, err)
	}
	d.config.Metrics.IncReset()

	msg := &types.ResetOwner{Owner: owner.String()}
	lock := d.ownerLock(owner)
	lock.Lock()
	result := fanout(ctx, others(d.members.Participants(), owner), []types.Message{msg}, d.config.Parallel, d.config.SendTimeout)
	lock.Unlock()

	d.record(result)
	d.logger.Info("skin reset", map[string]any{
		"owner":      owner.String(),
		"recipients": result.Recipients,
		"failed":     result.Failed,
	})

	d.notify(&adapter.SkinEvent{
		EventType:  adapter.EventSkinReset,
		Owner:      owner.String(),
		Recipients: result.Recipients,
	})
	return result, nil
}

// OnParticipantLeave cancels a pending replay for id and, unless
// KeepOnLeave is set, drops id's stored skin.
func (d *Dispatcher) OnParticipantLeave(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	if t, ok := d.pending[id]; ok {
		t.Stop()
		delete(d.pending, id)
	}
	d.mu.Unlock()

	if d.config.KeepOnLeave {
		return nil
	}
	if _, err := d.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("drop skin for %s: %w", id, err)
	}
	return nil
}

// PendingReplays reports how many join replays are scheduled or running.
func (d *Dispatcher) PendingReplays() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) + d.running
}

// Close stops pending replays and waits for in-flight notifications.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	for id, t := range d.pending {
		t.Stop()
		delete(d.pending, id)
	}
	d.mu.Unlock()
	d.cancel()
	d.notifyWG.Wait()
}

func (d *Dispatcher) ownerLock(owner uuid.UUID) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	l, ok := d.ownerLocks[owner]
	if !ok {
		l = &sync.Mutex{}
		d.ownerLocks[owner] = l
	}
	return l
}

func (d *Dispatcher) record(result *FanoutResult) {
	for range result.Succeeded {
		d.config.Metrics.IncFanoutSent()
	}
	for _, e := range result.Errors {
		d.config.Metrics.IncFanoutFailed()
		d.logger.Warn("skin delivery failed", map[string]any{
			"recipient": e.Recipient.String(),
			"error":     e.Err.Error(),
		})
	}
}

// notify publishes event on the configured adapter without blocking the
// caller. Publish errors are logged.
func (d *Dispatcher) notify(event *adapter.SkinEvent) {
	if d.config.Notifier == nil {
		return
	}
	event.ProtocolVersion = types.ProtocolVersion
	event.Timestamp = d.config.Scheduler.Now().UTC().Format(time.RFC3339)

	d.notifyWG.Add(1)
	go func() {
		defer d.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), notifyTimeout)
		defer cancel()
		if err := d.config.Notifier.Publish(ctx, event); err != nil {
			d.logger.Warn("skin event publish failed", map[string]any{
				"event": event.EventType,
				"owner": event.Owner,
				"error": err.Error(),
			})
		}
	}()
}
