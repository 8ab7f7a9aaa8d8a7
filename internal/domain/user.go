package domain

import "github.com/google/uuid"

// User is a read-only projection of the identity provider's user record.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	PhotoURL    string    `json:"photo_url,omitempty"`
}

// UserLogin represents login credentials. Format validation beyond presence
// is a caller concern; the provider has the final word.
type UserLogin struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// UserCreate represents registration data.
type UserCreate struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}
