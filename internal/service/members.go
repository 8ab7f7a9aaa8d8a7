package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/jabvlabs/roommate/internal/session"
	"github.com/rs/zerolog"
)

// Members lists the active apartment's roster. Deployments without a
// membership table (or with an empty one) fall back to a synthesized
// owner-only roster so the settings screen always has something to show.
type Members struct {
	dir     session.Directory
	session *session.Store
	log     zerolog.Logger
}

// NewMembers creates the roster service.
func NewMembers(dir session.Directory, sess *session.Store, logger zerolog.Logger) *Members {
	return &Members{dir: dir, session: sess, log: logger}
}

// List returns the roster for the active apartment. Profile details are only
// known for the caller's own row; other members show as unknown, matching
// what the client can see without an admin API.
func (m *Members) List(ctx context.Context) ([]domain.MemberProfile, error) {
	user := m.session.User()
	if user == nil {
		return nil, &domain.NotAuthenticatedError{Op: "list members"}
	}
	apt := m.session.Apartment()
	if apt == nil {
		return nil, &domain.NotFoundError{Message: "no active apartment"}
	}

	members, err := m.dir.MembersByApartment(ctx, apt.ID)
	if err != nil && !errors.Is(err, domain.ErrRelationMissing) {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	if len(members) == 0 {
		m.log.Debug().Msg("membership table missing or empty, synthesizing owner roster")
		return []domain.MemberProfile{m.profileFor(apt.OwnerID, domain.RoleOwner, time.Now().UTC(), user)}, nil
	}

	out := make([]domain.MemberProfile, 0, len(members))
	for _, member := range members {
		out = append(out, m.profileFor(member.UserID, member.Role, member.JoinedAt, user))
	}
	return out, nil
}

func (m *Members) profileFor(userID uuid.UUID, role string, joinedAt time.Time, self *domain.User) domain.MemberProfile {
	p := domain.MemberProfile{
		UserID:   userID,
		Email:    "Unknown",
		Role:     role,
		JoinedAt: joinedAt,
	}
	if userID == self.ID {
		p.Email = self.Email
		p.DisplayName = self.DisplayName
	}
	return p
}
