// Package notes é um serviço de exemplo servido pelo gateway: notas pessoais que
// podem ser compartilhadas com outros atores.
//
// Ele existe para exercitar o contrato de handler por conexão, a tabela de despacho
// explícita e os guards de recurso (dono + compartilhamento).
package notes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rpc-gateway/rpc"
)

// ResourceKind é o Kind dos rpc.Resource de notas.
const ResourceKind = "note"

type Note struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n Note) resource() rpc.Resource {
	return rpc.Resource{Kind: ResourceKind, ID: n.ID, Owner: n.Owner}
}

// Store guarda notas e a relação de compartilhamento em memória.
// É compartilhado por todos os handlers do processo.
type Store struct {
	mu     sync.RWMutex
	notes  map[string]Note
	shares map[string]map[string]struct{} // nota -> atores
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		notes:  make(map[string]Note),
		shares: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

func (s *Store) create(owner, title, body string) Note {
	n := Note{ID: uuid.NewString(), Owner: owner, Title: title, Body: body, CreatedAt: s.now()}
	s.mu.Lock()
	s.notes[n.ID] = n
	s.mu.Unlock()
	return n
}

func (s *Store) get(id string) (Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	return n, ok
}

func (s *Store) all() []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Note, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) delete(id string) {
	s.mu.Lock()
	delete(s.notes, id)
	delete(s.shares, id)
	s.mu.Unlock()
}

func (s *Store) share(id, actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.shares[id]
	if !ok {
		set = make(map[string]struct{})
		s.shares[id] = set
	}
	set[actorID] = struct{}{}
}

// IsShared implementa guard.SharingLookup.
func (s *Store) IsShared(_ context.Context, actorID string, res rpc.Resource) (bool, error) {
	if res.Kind != ResourceKind {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.shares[res.ID][actorID]
	return ok, nil
}
