package app

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avelov/tollcall/internal/core"
	"github.com/avelov/tollcall/internal/domain"
)

type sessionEntry struct {
	Session       *core.CallSession
	cancelInvite  context.CancelFunc
	cancelBilling context.CancelFunc
	billingDone   <-chan struct{}
}

// Registry is the process-wide session table: at most one active session per
// user identity. A single mutex linearizes every mutation, so two invites
// racing for the same callee serialize and exactly one wins.
type Registry struct {
	mu     sync.RWMutex
	byID   map[domain.CallID]*sessionEntry
	byUser map[domain.UserID]domain.CallID
	users  map[domain.UserID]*domain.User
	ledger core.Ledger
}

func NewRegistry(ledger core.Ledger) *Registry {
	return &Registry{
		byID:   make(map[domain.CallID]*sessionEntry),
		byUser: make(map[domain.UserID]domain.CallID),
		users:  make(map[domain.UserID]*domain.User),
		ledger: ledger,
	}
}

// Create makes a pending session after checking, atomically under the
// registry lock: no self-call, neither party already in a session, and a
// strictly positive caller balance.
func (r *Registry) Create(caller, callee domain.UserID) (*core.CallSession, error) {
	if caller == callee {
		return nil, core.ErrSelfCall
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.byUser[caller]; busy {
		return nil, core.ErrAlreadyInCall
	}
	if _, busy := r.byUser[callee]; busy {
		return nil, core.ErrAlreadyInCall
	}
	if r.ledger.Balance(caller) <= 0 {
		return nil, core.ErrInsufficientFunds
	}

	s := core.NewCallSession(caller, callee)
	r.byID[s.ID()] = &sessionEntry{Session: s}
	r.byUser[caller] = s.ID()
	r.byUser[callee] = s.ID()
	log.Info().Str("module", "app.registry").Str("call_id", string(s.ID())).
		Str("caller", string(caller)).Str("callee", string(callee)).Msg("session created")
	return s, nil
}

func (r *Registry) ByID(id domain.CallID) (*core.CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byID[id]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) ByUser(user domain.UserID) (*core.CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byUser[user]; ok {
		if e, ok := r.byID[id]; ok {
			return e.Session, true
		}
	}
	return nil, false
}

// BindInviteTimeout attaches the invite-timeout cancel to the session entry.
func (r *Registry) BindInviteTimeout(id domain.CallID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		e.cancelInvite = cancel
	} else {
		// Session already torn down; release the watcher immediately.
		cancel()
	}
}

// BindBilling attaches the billing-clock cancel to the session entry. done
// closes when the billing goroutine has fully exited.
func (r *Registry) BindBilling(id domain.CallID, cancel context.CancelFunc, done <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		e.cancelBilling = cancel
		e.billingDone = done
	} else {
		cancel()
	}
}

// CancelTimers stops the invite watcher and the billing clock for a session.
// The returned channel, when non-nil, closes once the billing goroutine has
// exited; teardown waits on it so no tick lands after the final settle.
// Safe to call more than once.
func (r *Registry) CancelTimers(id domain.CallID) <-chan struct{} {
	r.mu.Lock()
	e, ok := r.byID[id]
	var cancelInvite, cancelBilling context.CancelFunc
	var done <-chan struct{}
	if ok {
		cancelInvite = e.cancelInvite
		cancelBilling = e.cancelBilling
		done = e.billingDone
	}
	r.mu.Unlock()
	if cancelInvite != nil {
		cancelInvite()
	}
	if cancelBilling != nil {
		cancelBilling()
	}
	return done
}

// Remove releases the session and both participants from the index.
func (r *Registry) Remove(id domain.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return
	}
	call := e.Session.Call()
	if r.byUser[call.Caller] == id {
		delete(r.byUser, call.Caller)
	}
	if r.byUser[call.Callee] == id {
		delete(r.byUser, call.Callee)
	}
	delete(r.byID, id)
	log.Info().Str("module", "app.registry").Str("call_id", string(id)).Msg("session removed")
}

// Active returns all live sessions, for shutdown draining and admin views.
func (r *Registry) Active() []*core.CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.CallSession, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.Session)
	}
	return out
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// GetOrCreateUser returns the directory entry for an identity, creating a
// guest entry on first sight.
func (r *Registry) GetOrCreateUser(id domain.UserID) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return u
	}
	u := &domain.User{ID: id, Username: "guest"}
	r.users[id] = u
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("created new user")
	return u
}

func (r *Registry) PutUser(u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *Registry) UpdateUsername(id domain.UserID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	return u.SetUsername(name)
}

// Users lists directory entries, optionally filtered by a case-insensitive
// substring of username or email.
func (r *Registry) Users(search string) []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	search = strings.ToLower(search)
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Username), search) &&
			!strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		out = append(out, *u)
	}
	return out
}
