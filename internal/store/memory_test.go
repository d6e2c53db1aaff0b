package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	vars := map[string]any{"nested": map[string]any{"k": "v"}}
	inst, err := s.CreateInstance(ctx, "p", "", vars)
	require.NoError(t, err)

	vars["nested"].(map[string]any)["k"] = "changed"
	inst.Variables["extra"] = 1

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Variables["nested"].(map[string]any)["k"])
	assert.NotContains(t, got.Variables, "extra")
}

func TestMemoryStore_RollbackOnPanic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	inst, err := s.CreateInstance(ctx, "p", "", nil)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(ctx context.Context, tx Port) error {
			_, _ = tx.CreateToken(ctx, inst.ID, "x")
			panic("boom")
		})
	})

	active, err := s.ActiveTokens(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCanClaim(t *testing.T) {
	open := &Task{}
	assert.True(t, CanClaim(open, "anyone", nil))

	restricted := &Task{CandidateUsers: []string{"ada"}, CandidateGroups: []string{"ops"}}
	assert.True(t, CanClaim(restricted, "ada", nil))
	assert.True(t, CanClaim(restricted, "bob", []string{"dev", "ops"}))
	assert.False(t, CanClaim(restricted, "bob", []string{"dev"}))
	assert.False(t, CanClaim(restricted, "", nil))
}
