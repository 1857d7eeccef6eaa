package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	storage := NewMemoryStorage()
	chain, err := New(storage, []byte("test-signing-key-32-bytes-long!!"), nil)
	require.NoError(t, err)
	require.NoError(t, chain.Initialize(context.Background()))
	return chain
}

func TestChain_RecordBuildsLinkedStrand(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	e1, err := chain.Record(ctx, PartialEntry{Event: "task_created", Level: LevelInfo, Message: "first"})
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, e1.PreviousHash)

	e2, err := chain.Record(ctx, PartialEntry{Event: "task_completed", Level: LevelInfo, Message: "second"})
	require.NoError(t, err)
	assert.Equal(t, e1.Hash, e2.PreviousHash)
}

func TestChain_VerifyRoundTripWithRotation(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := chain.Record(ctx, PartialEntry{Event: "e", Level: LevelInfo, Message: "m"})
		require.NoError(t, err)
	}

	_, err := chain.UpdateSigningKey(ctx, []byte("second-signing-key-32-bytes-long"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := chain.Record(ctx, PartialEntry{Event: "e", Level: LevelInfo, Message: "m"})
		require.NoError(t, err)
	}

	_, err = chain.UpdateSigningKey(ctx, []byte("third-signing-key-32-bytes-long!"))
	require.NoError(t, err)

	_, err = chain.Record(ctx, PartialEntry{Event: "e", Level: LevelInfo, Message: "m"})
	require.NoError(t, err)

	result, err := chain.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Equal(t, 8, result.EntriesChecked) // 6 user entries + 2 rotation entries
}

func TestChain_VerifyDetectsTamperedHash(t *testing.T) {
	storage := NewMemoryStorage()
	chain, err := New(storage, []byte("test-signing-key-32-bytes-long!!"), nil)
	require.NoError(t, err)
	require.NoError(t, chain.Initialize(context.Background()))

	ctx := context.Background()
	_, err = chain.Record(ctx, PartialEntry{Event: "e", Level: LevelInfo, Message: "original"})
	require.NoError(t, err)

	storage.mu.Lock()
	storage.entries[0].Message = "tampered"
	storage.mu.Unlock()

	result, err := chain.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestChain_ClearPreviousKeyBreaksOldSignatures(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	_, err := chain.Record(ctx, PartialEntry{Event: "e", Level: LevelInfo, Message: "m"})
	require.NoError(t, err)

	_, err = chain.UpdateSigningKey(ctx, []byte("second-signing-key-32-bytes-long"))
	require.NoError(t, err)

	result, err := chain.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	chain.ClearPreviousKey()

	result, err = chain.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}
