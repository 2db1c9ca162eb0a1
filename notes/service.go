package notes

import (
	"context"
	"errors"
	"fmt"

	"rpc-gateway/middleware/ratelimit/domain"
	"rpc-gateway/rpc"
)

// Operações expostas.
const (
	OpCreate = "createNote"
	OpGet    = "getNote"
	OpList   = "listNotes"
	OpShare  = "shareNote"
	OpDelete = "deleteNote"
	OpWhoAmI = "whoAmI"
)

// Classification é a tabela padrão operação -> tier deste serviço.
func Classification() map[string]domain.Tier {
	return map[string]domain.Tier{
		OpCreate: domain.TierCriticalExpensive,
		OpShare:  domain.TierCriticalExpensive,
		OpDelete: domain.TierCriticalExpensive,
		OpGet:    domain.TierCriticalCheap,
		OpList:   domain.TierCriticalCheap,
		OpWhoAmI: domain.TierNonCritical,
	}
}

// Handler é a instância privada de uma conexão.
type Handler struct {
	store   *Store
	session rpc.Session
}

var _ rpc.Handler = (*Handler)(nil)

// Factory devolve uma rpc.HandlerFactory sobre o store compartilhado.
func Factory(store *Store) rpc.HandlerFactory {
	return func() rpc.Handler { return &Handler{store: store} }
}

func (h *Handler) Init(_ context.Context, s rpc.Session) error {
	if s.Guard == nil {
		return errors.New("session has no resource guard")
	}
	h.session = s
	return nil
}

func (h *Handler) Dispose() error { return nil }

func (h *Handler) Methods() rpc.Methods {
	return rpc.Methods{
		OpCreate: h.createNote,
		OpGet:    h.getNote,
		OpList:   h.listNotes,
		OpShare:  h.shareNote,
		OpDelete: h.deleteNote,
		OpWhoAmI: h.whoAmI,
	}
}

func (h *Handler) createNote(_ context.Context, args []any) (any, error) {
	if h.session.Actor.IsAnonymous() {
		return nil, rpc.PermissionDenied("anonymous actors cannot create notes")
	}
	title, err := stringArg(args, 0, "title")
	if err != nil {
		return nil, err
	}
	body, _ := stringArg(args, 1, "body")
	return h.store.create(h.session.Actor.ID, title, body), nil
}

func (h *Handler) getNote(ctx context.Context, args []any) (any, error) {
	return h.load(ctx, args)
}

func (h *Handler) listNotes(ctx context.Context, _ []any) (any, error) {
	out := []Note{}
	for _, n := range h.store.all() {
		ok, err := h.session.Guard.CanAccess(ctx, n.resource())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (h *Handler) shareNote(ctx context.Context, args []any) (any, error) {
	n, err := h.load(ctx, args)
	if err != nil {
		return nil, err
	}
	if n.Owner != h.session.Actor.ID {
		return nil, rpc.PermissionDenied("only the owner can share a note")
	}
	with, err := stringArg(args, 1, "actor")
	if err != nil {
		return nil, err
	}
	h.store.share(n.ID, with)
	return true, nil
}

func (h *Handler) deleteNote(ctx context.Context, args []any) (any, error) {
	n, err := h.load(ctx, args)
	if err != nil {
		return nil, err
	}
	if n.Owner != h.session.Actor.ID {
		return nil, rpc.PermissionDenied("only the owner can delete a note")
	}
	h.store.delete(n.ID)
	return true, nil
}

func (h *Handler) whoAmI(context.Context, []any) (any, error) {
	return map[string]any{
		"connectionId": h.session.ConnectionID,
		"actor":        h.session.Actor.String(),
		"anonymous":    h.session.Actor.IsAnonymous(),
		"region":       h.session.Metadata["region"],
	}, nil
}

// load busca a nota do primeiro argumento e aplica o guard de recurso.
// Nota inexistente e nota sem acesso respondem igual, para não vazar ids.
func (h *Handler) load(ctx context.Context, args []any) (Note, error) {
	id, err := stringArg(args, 0, "id")
	if err != nil {
		return Note{}, err
	}
	n, ok := h.store.get(id)
	if !ok {
		return Note{}, rpc.PermissionDenied("note %q is not accessible", id)
	}
	allowed, err := h.session.Guard.CanAccess(ctx, n.resource())
	if err != nil {
		return Note{}, fmt.Errorf("check access to note %s: %w", id, err)
	}
	if !allowed {
		return Note{}, rpc.PermissionDenied("note %q is not accessible", id)
	}
	return n, nil
}

func stringArg(args []any, i int, name string) (string, error) {
	if i >= len(args) {
		return "", rpc.InvalidRequest("missing argument %q", name)
	}
	s, ok := args[i].(string)
	if !ok || s == "" {
		return "", rpc.InvalidRequest("argument %q must be a non-empty string", name)
	}
	return s, nil
}
