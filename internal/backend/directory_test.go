package backend

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/backend/backendtest"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedApartment(srv *backendtest.Server, code, name string, ownerID uuid.UUID, createdAt time.Time) uuid.UUID {
	id := uuid.New()
	srv.Seed(domain.TableApartments, map[string]any{
		"id":         id.String(),
		"room_code":  code,
		"name":       name,
		"user_id":    ownerID.String(),
		"created_at": createdAt.Format(time.RFC3339),
	})
	return id
}

func TestDirectory_ApartmentByID(t *testing.T) {
	ctx := context.Background()
	srv, c := newTestClient(t)
	dir := NewDirectory(c, zerolog.Nop())

	owner := uuid.New()
	id := seedApartment(srv, "ABC-DEF", "Flat", owner, time.Now().UTC())

	apt, err := dir.ApartmentByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, apt)
	assert.Equal(t, "Flat", apt.Name)
	assert.Equal(t, owner, apt.OwnerID)

	missing, err := dir.ApartmentByID(ctx, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDirectory_ApartmentByOwner(t *testing.T) {
	ctx := context.Background()
	srv, c := newTestClient(t)
	dir := NewDirectory(c, zerolog.Nop())

	owner := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	oldest := seedApartment(srv, "AAA-BBB", "First", owner, base)
	seedApartment(srv, "CCC-DDD", "Second", owner, base.Add(24*time.Hour))

	t.Run("oldest wins", func(t *testing.T) {
		apt, err := dir.ApartmentByOwner(ctx, owner)
		require.NoError(t, err)
		require.NotNil(t, apt)
		assert.Equal(t, oldest, apt.ID)
	})

	t.Run("none owned", func(t *testing.T) {
		apt, err := dir.ApartmentByOwner(ctx, uuid.New())
		assert.NoError(t, err)
		assert.Nil(t, apt)
	})

	t.Run("list all owned", func(t *testing.T) {
		out, err := dir.ApartmentsByOwner(ctx, owner)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "First", out[0].Name)
		assert.Equal(t, "Second", out[1].Name)
	})
}

func TestDirectory_ApartmentByCode(t *testing.T) {
	ctx := context.Background()
	srv, c := newTestClient(t)
	dir := NewDirectory(c, zerolog.Nop())

	owner := uuid.New()
	id := seedApartment(srv, "XYZ-QWE", "Flat", owner, time.Now().UTC())

	t.Run("via search function", func(t *testing.T) {
		apt, err := dir.ApartmentByCode(ctx, "XYZ-QWE")
		require.NoError(t, err)
		require.NotNil(t, apt)
		assert.Equal(t, id, apt.ID)
	})

	t.Run("falls back when the function is not deployed", func(t *testing.T) {
		srv.SetRPCEnabled(false)
		apt, err := dir.ApartmentByCode(ctx, "XYZ-QWE")
		require.NoError(t, err)
		require.NotNil(t, apt)
		assert.Equal(t, id, apt.ID)
	})

	t.Run("no match", func(t *testing.T) {
		apt, err := dir.ApartmentByCode(ctx, "NOP-NOP")
		assert.NoError(t, err)
		assert.Nil(t, apt)
	})
}

func TestDirectory_Memberships(t *testing.T) {
	ctx := context.Background()
	srv, c := newTestClient(t)
	dir := NewDirectory(c, zerolog.Nop())

	aptID := uuid.New()
	userID := uuid.New()

	require.NoError(t, dir.AddMember(ctx, &domain.ApartmentMember{
		ApartmentID: aptID,
		UserID:      userID,
		Role:        domain.RoleMember,
		JoinedAt:    time.Now().UTC(),
	}))

	members, err := dir.MembersByApartment(ctx, aptID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, userID, members[0].UserID)

	mine, err := dir.MembershipsByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	require.NoError(t, dir.RemoveMember(ctx, aptID, userID))
	members, err = dir.MembersByApartment(ctx, aptID)
	require.NoError(t, err)
	assert.Empty(t, members)

	t.Run("missing table surfaces the sentinel", func(t *testing.T) {
		srv.SetMissing(domain.TableApartmentMembers, true)
		_, err := dir.MembershipsByUser(ctx, userID)
		assert.ErrorIs(t, err, domain.ErrRelationMissing)
	})
}

func TestDirectory_CreateApartment(t *testing.T) {
	ctx := context.Background()
	srv, c := newTestClient(t)
	dir := NewDirectory(c, zerolog.Nop())

	apt := &domain.Apartment{
		ID:        uuid.New(),
		JoinCode:  "NEW-ONE",
		Name:      "Fresh",
		OwnerID:   uuid.New(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, dir.CreateApartment(ctx, apt))

	rows := srv.Rows(domain.TableApartments)
	require.Len(t, rows, 1)
	assert.Equal(t, "NEW-ONE", rows[0]["room_code"])
}
