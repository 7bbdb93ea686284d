package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daybook-ai/calendar-assistant/internal/model"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Set(ctx, "user-1", "chat-1", &model.Session{
		State: &model.AwaitingEventTitle{Event: model.CandidateEvent{Title: ""}},
	})
	require.NoError(t, err)

	sess, err := store.Get(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, model.StepAwaitingEventTitle, sess.State.Step())
	require.Equal(t, "chat-1", sess.ChatID)
	require.False(t, sess.Timestamp.IsZero())
}

func TestMemoryStoreMissReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess, err := store.Get(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestMemoryStoreSoftTimeout(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "user-1", "chat-1", &model.Session{
		State: &model.AwaitingDeleteConfirmation{EventID: "ev-1", CalendarID: "cal-1"},
	}))
	store.Backdate("user-1", "chat-1", time.Now().Add(-Timeout-time.Second))

	sess, err := store.Get(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	require.Nil(t, sess)

	// The expired record is lazily deleted, not just hidden.
	require.Equal(t, 0, store.Len())
}

func TestMemoryStoreJustUnderTimeoutStillVisible(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "user-1", "chat-1", &model.Session{
		State: &model.AwaitingEventTitle{},
	}))
	store.Backdate("user-1", "chat-1", time.Now().Add(-Timeout+5*time.Second))

	sess, err := store.Get(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestMemoryStoreLegacyFallback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.SeedLegacy("user-1", &model.Session{
		State:     &model.AwaitingEventTitle{},
		ChatID:    "chat-1",
		Timestamp: time.Now(),
	})

	sess, err := store.Get(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestMemoryStoreLegacyForeignChatInvisible(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.SeedLegacy("user-1", &model.Session{
		State:     &model.AwaitingEventTitle{},
		ChatID:    "chat-other",
		Timestamp: time.Now(),
	})

	sess, err := store.Get(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	require.Nil(t, sess)

	// The foreign-chat record must survive for its own chat's reader.
	require.Equal(t, 1, store.Len())

	sess, err = store.Get(ctx, "user-1", "chat-other")
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestMemoryStoreChatlessLegacyVisibleAnywhere(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.SeedLegacy("user-1", &model.Session{
		State:     &model.AwaitingEventTitle{},
		Timestamp: time.Now(),
	})

	sess, err := store.Get(ctx, "user-1", "any-chat")
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestMemoryStoreCompositeShadowsLegacy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.SeedLegacy("user-1", &model.Session{
		State:     &model.AwaitingEventTitle{},
		ChatID:    "chat-1",
		Timestamp: time.Now(),
	})
	require.NoError(t, store.Set(ctx, "user-1", "chat-1", &model.Session{
		State: &model.AwaitingCSVUpload{PersonName: "小明"},
	}))

	sess, err := store.Get(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, model.StepAwaitingCSVUpload, sess.State.Step())
}

func TestMemoryStoreClearRemovesBothKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.SeedLegacy("user-1", &model.Session{
		State:     &model.AwaitingEventTitle{},
		Timestamp: time.Now(),
	})
	require.NoError(t, store.Set(ctx, "user-1", "chat-1", &model.Session{
		State: &model.AwaitingEventTitle{},
	}))

	require.NoError(t, store.Clear(ctx, "user-1", "chat-1"))
	require.Equal(t, 0, store.Len())
}

func TestMemoryStoreIsolatesChats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "user-1", "chat-1", &model.Session{
		State: &model.AwaitingEventTitle{},
	}))

	sess, err := store.Get(ctx, "user-1", "chat-2")
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestKeySchema(t *testing.T) {
	require.Equal(t, "state:u:c", CompositeKey("u", "c"))
	require.Equal(t, "u", LegacyKey("u"))
	require.Equal(t, "state.u.c", encodeKey(CompositeKey("u", "c")))
}
