package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonilabs/soni/internal/state"
)

// stores builds one of each backend for the shared contract tests.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"bolt":   b,
	}
}

func sampleDialogue(t *testing.T, sessionID string) *state.Dialogue {
	t.Helper()
	d := state.New(sessionID, "en")
	d, err := state.Apply(d, state.Delta{Push: "book_flight", State: state.Understanding})
	require.NoError(t, err)
	d, err = state.Apply(d, state.Delta{
		SlotUpdates: map[string]any{"origin": "MAD"},
		AdvanceTo:   "ask_destination",
		Task:        &state.PendingTask{Kind: state.TaskCollect, Slot: "destination"},
		State:       state.WaitingForSlot,
	})
	require.NoError(t, err)
	return d
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := sampleDialogue(t, "s1")
			require.NoError(t, store.Save(ctx, d))

			back, err := store.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, d.Conversation, back.Conversation)
			assert.Equal(t, d.CurrentStep, back.CurrentStep)
			require.Len(t, back.FlowStack, 1)
			assert.Equal(t, d.FlowStack[0].FlowID, back.FlowStack[0].FlowID)
			assert.Equal(t, "MAD", back.FlowSlots[back.FlowStack[0].FlowID]["origin"])
			require.NotNil(t, back.Pending)
			assert.Equal(t, "destination", back.Pending.Slot)
			assert.Empty(t, back.Invariants())
		})
	}
}

func TestStore_LoadMissingSession(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(context.Background(), "ghost")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, state.New("s1", "en")))
			require.NoError(t, store.Save(ctx, state.New("s1", "es")))

			back, err := store.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "es", back.Language)
		})
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, state.New("s1", "en")))
			require.NoError(t, store.Delete(ctx, "s1"))
			require.NoError(t, store.Delete(ctx, "s1"))

			_, err := store.Load(ctx, "s1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SessionsListed(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, state.New("b", "en")))
			require.NoError(t, store.Save(ctx, state.New("a", "en")))

			ids, err := store.Sessions(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b"}, ids)
		})
	}
}

func TestStore_RejectsMissingSessionID(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.Save(context.Background(), &state.Dialogue{}))
		})
	}
}

func TestMemory_SavedCopyIsolatedFromCaller(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	d := sampleDialogue(t, "s1")
	require.NoError(t, store.Save(ctx, d))

	// Mutating the caller's copy must not leak into the store.
	d.SessionSlots["poison"] = true

	back, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.NotContains(t, back.SessionSlots, "poison")
}

func TestBolt_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sampleDialogue(t, "s1")))
	require.NoError(t, store.Close())

	store, err = OpenBolt(path)
	require.NoError(t, err)
	defer store.Close()

	back, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, state.WaitingForSlot, back.Conversation)
}
