package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/collection"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitSettled[T any](t *testing.T, w *collection.Watcher[T]) collection.Snapshot[T] {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		snap := w.Snapshot()
		if !snap.Loading {
			return snap
		}
		select {
		case <-deadline:
			t.Fatal("feed never settled")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newFeeds(e *env) *Feeds {
	return NewFeeds(e.tables, e.sess, e.bus, zerolog.Nop())
}

func TestFeeds_ScopedToApartment(t *testing.T) {
	e := newEnv(t)
	res := e.withApartment(t, "Flat")

	e.srv.Seed(domain.TableChores, map[string]any{"title": "dishes", "apartment_id": res.ApartmentID.String()})
	e.srv.Seed(domain.TableChores, map[string]any{"title": "other flat", "apartment_id": uuid.NewString()})

	w := newFeeds(e).Chores(FeedOptions{})
	defer w.Close()

	snap := waitSettled(t, w)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Data, 1)
	assert.Equal(t, "dishes", snap.Data[0].Title)
}

func TestFeeds_DisabledWithoutApartment(t *testing.T) {
	e := newEnv(t)

	w := newFeeds(e).Expenses(FeedOptions{})
	defer w.Close()

	assert.True(t, w.Snapshot().IsEmpty())
}

func TestFeeds_MissingTableIsEmpty(t *testing.T) {
	e := newEnv(t)
	e.withApartment(t, "Flat")
	e.srv.SetMissing(domain.TableGuests, true)

	w := newFeeds(e).Guests(FeedOptions{})
	defer w.Close()

	snap := waitSettled(t, w)
	assert.True(t, snap.IsEmpty())
}

func TestFeeds_ModificationRequestsJoinDocumentName(t *testing.T) {
	e := newEnv(t)
	res := e.withApartment(t, "Flat")
	docID := seedDocument(e, res.ApartmentID, "lease.pdf", e.user.ID)
	e.srv.Seed(domain.TableModificationRequests, map[string]any{
		"document_id":  docID.String(),
		"requested_by": uuid.NewString(),
		"reason":       "Update",
		"status":       domain.StatusPending,
		"apartment_id": res.ApartmentID.String(),
	})

	w := newFeeds(e).ModificationRequests(FeedOptions{})
	defer w.Close()

	snap := waitSettled(t, w)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Data, 1)
	require.NotNil(t, snap.Data[0].Document)
	assert.Equal(t, "lease.pdf", snap.Data[0].Document.Name)
}

func TestFeeds_NotificationsNewestFirst(t *testing.T) {
	e := newEnv(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	e.srv.Seed(domain.TableNotifications, map[string]any{
		"title": "old", "user_id": e.user.ID.String(),
		"created_at": base.Format(time.RFC3339),
	})
	e.srv.Seed(domain.TableNotifications, map[string]any{
		"title": "new", "user_id": e.user.ID.String(),
		"created_at": base.Add(time.Hour).Format(time.RFC3339),
	})
	e.srv.Seed(domain.TableNotifications, map[string]any{
		"title": "someone else", "user_id": uuid.NewString(),
		"created_at": base.Format(time.RFC3339),
	})

	w := newFeeds(e).Notifications(FeedOptions{})
	defer w.Close()

	snap := waitSettled(t, w)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Data, 2)
	assert.Equal(t, "new", snap.Data[0].Title)
	assert.Equal(t, "old", snap.Data[1].Title)
}

func TestFeeds_InvalidationRefetches(t *testing.T) {
	e := newEnv(t)
	res := e.withApartment(t, "Flat")

	w := newFeeds(e).Documents(FeedOptions{})
	defer w.Close()
	waitSettled(t, w)

	docs := NewDocuments(e.tables, e.storage, e.bus, zerolog.Nop())
	_, err := docs.Upload(context.Background(), res.ApartmentID, e.user.ID, "lease.pdf", "application/pdf", []byte("x"))
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		snap := w.Snapshot()
		if !snap.Loading && len(snap.Data) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("upload invalidation never reached the feed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
