package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembers_List(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an active apartment", func(t *testing.T) {
		e := newEnv(t)
		members := NewMembers(e.dir, e.sess, zerolog.Nop())

		_, err := members.List(ctx)
		var notFound *domain.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("roster with self details", func(t *testing.T) {
		e := newEnv(t)
		res := e.withApartment(t, "Flat")
		other := uuid.New()
		require.NoError(t, e.dir.AddMember(ctx, &domain.ApartmentMember{
			ApartmentID: res.ApartmentID,
			UserID:      other,
			Role:        domain.RoleMember,
			JoinedAt:    time.Now().UTC(),
		}))

		members := NewMembers(e.dir, e.sess, zerolog.Nop())
		out, err := members.List(ctx)
		require.NoError(t, err)
		require.Len(t, out, 2)

		byID := map[uuid.UUID]domain.MemberProfile{}
		for _, p := range out {
			byID[p.UserID] = p
		}
		self := byID[e.user.ID]
		assert.Equal(t, "bob@example.com", self.Email)
		assert.Equal(t, domain.RoleOwner, self.Role)

		stranger := byID[other]
		assert.Equal(t, "Unknown", stranger.Email)
		assert.Equal(t, domain.RoleMember, stranger.Role)
	})

	t.Run("missing membership table synthesizes the owner", func(t *testing.T) {
		e := newEnv(t)
		e.srv.SetMissing(domain.TableApartmentMembers, true)
		res := e.withApartment(t, "Flat") // membership write fails best-effort
		assert.True(t, res.Membership.Failed())

		members := NewMembers(e.dir, e.sess, zerolog.Nop())
		out, err := members.List(ctx)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, e.user.ID, out[0].UserID)
		assert.Equal(t, domain.RoleOwner, out[0].Role)
		assert.Equal(t, "bob@example.com", out[0].Email)
	})
}
