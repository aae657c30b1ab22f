// Package token issues and consumes the short-lived, single-use tokens
// that gate money-affecting confirmation actions.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mizutani/kakeibot/internal/service"
)

// Kind scopes a token to one confirmation action.
type Kind string

// Token kinds.
const (
	KindExpense Kind = "expense"
	KindDelete  Kind = "delete"
	KindEdit    Kind = "edit"
	KindReset   Kind = "reset"
)

// DefaultTTL is how long an issued token stays consumable.
const DefaultTTL = 5 * time.Minute

// Payload is the kind-specific data carried by a token. The concrete
// types below are the only implementations; a consumer switches on
// them instead of asserting loose maps.
type Payload interface {
	Kind() Kind
}

// ExpensePayload authorizes committing the owner's pending transaction.
type ExpensePayload struct{}

// Kind implements Payload.
func (ExpensePayload) Kind() Kind { return KindExpense }

// DeletePayload authorizes deleting one ledger transaction.
type DeletePayload struct {
	TransactionID int64
}

// Kind implements Payload.
func (DeletePayload) Kind() Kind { return KindDelete }

// EditPayload authorizes changing one ledger transaction's amount.
type EditPayload struct {
	NewAmount     decimal.Decimal
	TransactionID int64
}

// Kind implements Payload.
func (EditPayload) Kind() Kind { return KindEdit }

// ResetPayload authorizes resetting the owner's monthly budget.
type ResetPayload struct{}

// Kind implements Payload.
func (ResetPayload) Kind() Kind { return KindReset }

// Status is the outcome of a consume attempt. Invalid and unauthorized
// consumes are expected, frequent outcomes, so they are values rather
// than errors.
type Status int

// Consume outcomes.
const (
	StatusOK Status = iota
	StatusInvalid
	StatusNotAuthorized
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalid:
		return "invalid or expired"
	case StatusNotAuthorized:
		return "not authorized"
	default:
		return "unknown"
	}
}

type record struct {
	issuedAt time.Time
	ownerID  string
	payload  Payload
}

// Store holds four independent kind-scoped token maps with lazy TTL
// sweeping. All parameters are injected so tests can advance time.
type Store struct {
	clock  service.Clock
	stores map[Kind]map[string]record
	ttl    time.Duration
	mu     sync.Mutex
}

// NewStore creates a token store. A zero ttl means DefaultTTL.
func NewStore(clock service.Clock, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		clock: clock,
		ttl:   ttl,
		stores: map[Kind]map[string]record{
			KindExpense: {},
			KindDelete:  {},
			KindEdit:    {},
			KindReset:   {},
		},
	}
}

// Issue stores a payload under a fresh unguessable token id and returns
// the id. A payload whose kind disagrees with the requested kind is a
// programming error, not a user condition.
func (s *Store) Issue(kind Kind, ownerID string, payload Payload) (string, error) {
	if payload.Kind() != kind {
		return "", fmt.Errorf("payload kind %q does not match token kind %q", payload.Kind(), kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	store, ok := s.stores[kind]
	if !ok {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}

	s.sweepLocked()

	id := newTokenID()
	store[id] = record{
		ownerID:  ownerID,
		payload:  payload,
		issuedAt: s.clock.Now(),
	}
	return id, nil
}

// Consume looks a token up and deletes it. The payload is returned
// exactly once: a second consume of the same id always reports
// StatusInvalid. An ownership mismatch destroys the token before
// reporting StatusNotAuthorized, closing the replay window.
func (s *Store) Consume(kind Kind, id, requesterID string) (Payload, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, ok := s.stores[kind]
	if !ok {
		return nil, StatusInvalid
	}

	s.sweepLocked()

	rec, ok := store[id]
	if !ok {
		return nil, StatusInvalid
	}
	delete(store, id)

	if rec.ownerID != requesterID {
		return nil, StatusNotAuthorized
	}
	return rec.payload, StatusOK
}

// Cancel discards a token without consuming it. Unknown ids are a no-op.
func (s *Store) Cancel(kind Kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if store, ok := s.stores[kind]; ok {
		delete(store, id)
	}
}

// InvalidateOwner discards every live token of the given kind belonging
// to ownerID. Used when a confirmation completes through another path
// so a stale token cannot double-commit.
func (s *Store) InvalidateOwner(kind Kind, ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, ok := s.stores[kind]
	if !ok {
		return
	}
	for id, rec := range store {
		if rec.ownerID == ownerID {
			delete(store, id)
		}
	}
}

// sweepLocked drops expired entries across all four stores. Callers
// must hold s.mu.
func (s *Store) sweepLocked() {
	cutoff := s.clock.Now().Add(-s.ttl)
	for _, store := range s.stores {
		for id, rec := range store {
			if rec.issuedAt.Before(cutoff) {
				delete(store, id)
			}
		}
	}
}

func newTokenID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("token id generation: %v", err))
	}
	return hex.EncodeToString(buf)
}
