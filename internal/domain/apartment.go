package domain

import (
	"time"

	"github.com/google/uuid"
)

// Apartment is a shared workspace joined via a short code. The creating
// identity owns it; the owner reference never changes.
type Apartment struct {
	ID        uuid.UUID `json:"id"`
	JoinCode  string    `json:"room_code"`
	Name      string    `json:"name"`
	OwnerID   uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ApartmentMember records who belongs to an apartment and with what role.
// At most one membership exists per (apartment, user) pair.
type ApartmentMember struct {
	ApartmentID uuid.UUID `json:"apartment_id"`
	UserID      uuid.UUID `json:"user_id"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Role constants
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// ApartmentSummary annotates an apartment with the caller's role in it.
type ApartmentSummary struct {
	Apartment Apartment `json:"apartment"`
	Role      string    `json:"role"`
}

// MemberProfile is a roster entry for the apartment-settings screen. Email
// and display name are only known for the caller's own row; other members
// come back from the membership table without profile data.
type MemberProfile struct {
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}
