package session

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/KendoTarakate/skin/dispatch"
	"github.com/KendoTarakate/skin/transport"
	"github.com/KendoTarakate/skin/types"
)

// Participant is one connected endpoint.
type Participant struct {
	id   uuid.UUID
	name string
	conn transport.Conn
}

// ID implements dispatch.Sender.
func (p *Participant) ID() uuid.UUID { return p.id }

// Name returns the display name sent in Hello.
func (p *Participant) Name() string { return p.name }

// Send implements dispatch.Sender.
func (p *Participant) Send(ctx context.Context, msg types.Message) error {
	return p.conn.WriteMessage(ctx, msg)
}

// Roster tracks connected participants. Safe for concurrent use.
type Roster struct {
	mu      sync.RWMutex
	members map[uuid.UUID]*Participant
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{members: make(map[uuid.UUID]*Participant)}
}

// add registers p, returning any participant it displaced.
func (r *Roster) add(p *Participant) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.members[p.id]
	r.members[p.id] = p
	return prev
}

// remove drops p if it is still the registered participant for its id.
// Reports whether it was removed.
func (r *Roster) remove(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[p.id] != p {
		return false
	}
	delete(r.members, p.id)
	return true
}

// Participants implements dispatch.Membership.
func (r *Roster) Participants() []dispatch.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dispatch.Sender, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, p)
	}
	return out
}

// Participant implements dispatch.Membership.
func (r *Roster) Participant(id uuid.UUID) (dispatch.Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.members[id]
	if !ok {
		return nil, false
	}
	return p, true
}

// Others returns every participant except id.
func (r *Roster) Others(id uuid.UUID) []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Participant, 0, len(r.members))
	for _, p := range r.members {
		if p.id != id {
			out = append(out, p)
		}
	}
	return out
}

// Lookup returns the participant registered for id.
func (r *Roster) Lookup(id uuid.UUID) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.members[id]
	return p, ok
}

// Names returns participant display names keyed by id, ordered by id.
func (r *Roster) Names() []ParticipantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ParticipantInfo, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, ParticipantInfo{ID: p.id.String(), Name: p.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of connected participants.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// ParticipantInfo is the JSON view of a connected participant.
type ParticipantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

var _ dispatch.Membership = (*Roster)(nil)
