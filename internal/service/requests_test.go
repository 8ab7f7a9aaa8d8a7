package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDocument(e *env, apartmentID uuid.UUID, name string, uploaderID uuid.UUID) uuid.UUID {
	id := uuid.New()
	e.srv.Seed(domain.TableDocuments, map[string]any{
		"id":           id.String(),
		"name":         name,
		"url":          "https://x.test/storage/v1/object/public/documents/" + name,
		"apartment_id": apartmentID.String(),
		"uploader_id":  uploaderID.String(),
	})
	return id
}

func TestRequests_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("notifies owner and uploader", func(t *testing.T) {
		e := newEnv(t)
		res := e.withApartment(t, "Flat") // e.user owns it
		uploader := uuid.New()
		docID := seedDocument(e, res.ApartmentID, "lease.pdf", uploader)
		requester := uuid.New()

		requests := NewRequests(e.tables, e.bus, zerolog.Nop())
		outcome, err := requests.Create(ctx, docID, res.ApartmentID, requester, "Update the rent amount")
		require.NoError(t, err)
		assert.False(t, outcome.Failed())

		reqRows := e.srv.Rows(domain.TableModificationRequests)
		require.Len(t, reqRows, 1)
		assert.Equal(t, domain.StatusPending, reqRows[0]["status"])
		assert.Equal(t, requester.String(), reqRows[0]["requested_by"])

		notes := e.srv.Rows(domain.TableNotifications)
		require.Len(t, notes, 2)
		recipients := map[string]bool{}
		for _, n := range notes {
			assert.Equal(t, "Document Modification Request", n["title"])
			assert.Contains(t, n["message"], "lease.pdf")
			recipients[n["user_id"].(string)] = true
		}
		assert.True(t, recipients[e.user.ID.String()])
		assert.True(t, recipients[uploader.String()])
	})

	t.Run("owner uploading their own document is notified once", func(t *testing.T) {
		e := newEnv(t)
		res := e.withApartment(t, "Flat")
		docID := seedDocument(e, res.ApartmentID, "lease.pdf", e.user.ID)

		requests := NewRequests(e.tables, nil, zerolog.Nop())
		outcome, err := requests.Create(ctx, docID, res.ApartmentID, uuid.New(), "Fix a typo")
		require.NoError(t, err)
		assert.False(t, outcome.Failed())
		assert.Len(t, e.srv.Rows(domain.TableNotifications), 1)
	})

	t.Run("notification failure does not fail the request", func(t *testing.T) {
		e := newEnv(t)
		res := e.withApartment(t, "Flat")
		docID := seedDocument(e, res.ApartmentID, "lease.pdf", uuid.New())
		e.srv.SetMissing(domain.TableNotifications, true)

		requests := NewRequests(e.tables, nil, zerolog.Nop())
		outcome, err := requests.Create(ctx, docID, res.ApartmentID, uuid.New(), "Update")
		require.NoError(t, err)
		assert.True(t, outcome.Attempted)
		assert.True(t, outcome.Failed())
		assert.Len(t, e.srv.Rows(domain.TableModificationRequests), 1)
	})
}

func TestRequests_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects unknown statuses", func(t *testing.T) {
		e := newEnv(t)
		requests := NewRequests(e.tables, nil, zerolog.Nop())
		_, err := requests.Resolve(ctx, uuid.New(), "maybe")
		assert.Error(t, err)
	})

	t.Run("approval updates the row and notifies the requester", func(t *testing.T) {
		e := newEnv(t)
		res := e.withApartment(t, "Flat")
		docID := seedDocument(e, res.ApartmentID, "lease.pdf", e.user.ID)
		requester := uuid.New()

		requests := NewRequests(e.tables, e.bus, zerolog.Nop())
		_, err := requests.Create(ctx, docID, res.ApartmentID, requester, "Update")
		require.NoError(t, err)
		reqID := uuid.MustParse(e.srv.Rows(domain.TableModificationRequests)[0]["id"].(string))

		before := len(e.srv.Rows(domain.TableNotifications))
		outcome, err := requests.Resolve(ctx, reqID, domain.StatusApproved)
		require.NoError(t, err)
		assert.False(t, outcome.Failed())

		reqRows := e.srv.Rows(domain.TableModificationRequests)
		assert.Equal(t, domain.StatusApproved, reqRows[0]["status"])

		notes := e.srv.Rows(domain.TableNotifications)
		require.Len(t, notes, before+1)
		last := notes[len(notes)-1]
		assert.Equal(t, "Modification Request Approved", last["title"])
		assert.Equal(t, "success", last["type"])
		assert.Equal(t, requester.String(), last["user_id"])
		assert.Contains(t, last["message"], `"lease.pdf"`)
	})

	t.Run("rejection sends an info notification", func(t *testing.T) {
		e := newEnv(t)
		res := e.withApartment(t, "Flat")
		docID := seedDocument(e, res.ApartmentID, "lease.pdf", e.user.ID)

		requests := NewRequests(e.tables, nil, zerolog.Nop())
		_, err := requests.Create(ctx, docID, res.ApartmentID, uuid.New(), "Update")
		require.NoError(t, err)
		reqID := uuid.MustParse(e.srv.Rows(domain.TableModificationRequests)[0]["id"].(string))

		_, err = requests.Resolve(ctx, reqID, domain.StatusRejected)
		require.NoError(t, err)

		notes := e.srv.Rows(domain.TableNotifications)
		last := notes[len(notes)-1]
		assert.Equal(t, "Modification Request Rejected", last["title"])
		assert.Equal(t, "info", last["type"])
	})
}
