package token

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(clock, 0), clock
}

func TestStore_IssueAndConsume(t *testing.T) {
	tests := []struct {
		payload Payload
		name    string
		kind    Kind
	}{
		{ExpensePayload{}, "expense", KindExpense},
		{DeletePayload{TransactionID: 42}, "delete", KindDelete},
		{EditPayload{TransactionID: 42, NewAmount: decimal.NewFromInt(500)}, "edit", KindEdit},
		{ResetPayload{}, "reset", KindReset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore()

			id, err := store.Issue(tt.kind, "owner-a", tt.payload)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			payload, status := store.Consume(tt.kind, id, "owner-a")
			assert.Equal(t, StatusOK, status)
			assert.Equal(t, tt.payload, payload)

			// Single use: the same id never resolves twice.
			payload, status = store.Consume(tt.kind, id, "owner-a")
			assert.Equal(t, StatusInvalid, status)
			assert.Nil(t, payload)
		})
	}
}

func TestStore_KindMismatchIsAnError(t *testing.T) {
	store, _ := newTestStore()

	_, err := store.Issue(KindDelete, "owner-a", ExpensePayload{})
	assert.Error(t, err)
}

func TestStore_TokensAreScopedByKind(t *testing.T) {
	store, _ := newTestStore()

	id, err := store.Issue(KindExpense, "owner-a", ExpensePayload{})
	require.NoError(t, err)

	_, status := store.Consume(KindDelete, id, "owner-a")
	assert.Equal(t, StatusInvalid, status, "a token must not leak across kinds")

	_, status = store.Consume(KindExpense, id, "owner-a")
	assert.Equal(t, StatusOK, status)
}

func TestStore_ExpiredTokenIsUnconsumable(t *testing.T) {
	store, clock := newTestStore()

	id, err := store.Issue(KindExpense, "owner-a", ExpensePayload{})
	require.NoError(t, err)

	clock.advance(DefaultTTL + time.Second)

	_, status := store.Consume(KindExpense, id, "owner-a")
	assert.Equal(t, StatusInvalid, status)
}

func TestStore_SweepRunsAcrossAllKinds(t *testing.T) {
	store, clock := newTestStore()

	expenseID, err := store.Issue(KindExpense, "owner-a", ExpensePayload{})
	require.NoError(t, err)
	deleteID, err := store.Issue(KindDelete, "owner-a", DeletePayload{TransactionID: 1})
	require.NoError(t, err)

	clock.advance(DefaultTTL + time.Second)

	// Issuing a reset token sweeps the stale entries everywhere.
	_, err = store.Issue(KindReset, "owner-a", ResetPayload{})
	require.NoError(t, err)

	_, status := store.Consume(KindExpense, expenseID, "owner-a")
	assert.Equal(t, StatusInvalid, status)
	_, status = store.Consume(KindDelete, deleteID, "owner-a")
	assert.Equal(t, StatusInvalid, status)
}

func TestStore_OwnershipMismatchDestroysToken(t *testing.T) {
	store, _ := newTestStore()

	id, err := store.Issue(KindExpense, "owner-a", ExpensePayload{})
	require.NoError(t, err)

	payload, status := store.Consume(KindExpense, id, "owner-b")
	assert.Equal(t, StatusNotAuthorized, status)
	assert.Nil(t, payload)

	// The rightful owner cannot use it either: a mismatched attempt
	// burns the token.
	_, status = store.Consume(KindExpense, id, "owner-a")
	assert.Equal(t, StatusInvalid, status)
}

func TestStore_Cancel(t *testing.T) {
	store, _ := newTestStore()

	id, err := store.Issue(KindExpense, "owner-a", ExpensePayload{})
	require.NoError(t, err)

	store.Cancel(KindExpense, id)

	_, status := store.Consume(KindExpense, id, "owner-a")
	assert.Equal(t, StatusInvalid, status)
}

func TestStore_InvalidateOwner(t *testing.T) {
	store, _ := newTestStore()

	mine, err := store.Issue(KindExpense, "owner-a", ExpensePayload{})
	require.NoError(t, err)
	theirs, err := store.Issue(KindExpense, "owner-b", ExpensePayload{})
	require.NoError(t, err)

	store.InvalidateOwner(KindExpense, "owner-a")

	_, status := store.Consume(KindExpense, mine, "owner-a")
	assert.Equal(t, StatusInvalid, status)
	_, status = store.Consume(KindExpense, theirs, "owner-b")
	assert.Equal(t, StatusOK, status)
}

func TestStore_TokenIDsAreOpaqueAndUnique(t *testing.T) {
	store, _ := newTestStore()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := store.Issue(KindExpense, "owner-a", ExpensePayload{})
		require.NoError(t, err)
		assert.Len(t, id, 32, "token ids are 16 random bytes hex-encoded")
		_, dup := seen[id]
		assert.False(t, dup, "token ids must not repeat")
		seen[id] = struct{}{}
	}
}
