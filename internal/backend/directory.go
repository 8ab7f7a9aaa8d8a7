package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/rs/zerolog"
)

// searchByCodeFn is the server-side join-code lookup. Not every deployment
// ships it, so lookups fall back to a direct filtered query.
const searchByCodeFn = "search_apartment_by_code"

// Directory is the typed apartment/membership repository over the generic
// table API. Lookups that match nothing return (nil, nil).
type Directory struct {
	tables *Tables
	rpc    *RPC
	log    zerolog.Logger
}

// NewDirectory creates the directory on a shared client.
func NewDirectory(c *Client, logger zerolog.Logger) *Directory {
	return &Directory{tables: NewTables(c), rpc: NewRPC(c), log: logger}
}

// ApartmentByID fetches one apartment.
func (d *Directory) ApartmentByID(ctx context.Context, id uuid.UUID) (*domain.Apartment, error) {
	var apt domain.Apartment
	err := d.tables.Single(ctx, domain.TableApartments, Query{Filter: map[string]any{"id": id}}, &apt)
	if errors.Is(err, ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get apartment: %w", err)
	}
	return &apt, nil
}

// ApartmentByOwner fetches the apartment owned by ownerID, if any. An owner
// with several apartments gets the oldest, which keeps the restored
// workspace stable across cold starts.
func (d *Directory) ApartmentByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Apartment, error) {
	var apt domain.Apartment
	q := Query{
		Filter: map[string]any{"user_id": ownerID},
		Order:  &Order{Column: "created_at", Ascending: true},
	}
	err := d.tables.Single(ctx, domain.TableApartments, q, &apt)
	if errors.Is(err, ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get owned apartment: %w", err)
	}
	return &apt, nil
}

// ApartmentsByOwner lists every apartment ownerID owns.
func (d *Directory) ApartmentsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Apartment, error) {
	var out []domain.Apartment
	q := Query{
		Filter: map[string]any{"user_id": ownerID},
		Order:  &Order{Column: "created_at", Ascending: true},
	}
	if err := d.tables.ListInto(ctx, domain.TableApartments, q, &out); err != nil {
		return nil, fmt.Errorf("failed to list owned apartments: %w", err)
	}
	return out, nil
}

// ApartmentByCode resolves a join code, preferring the server-side search
// function and falling back to a direct filtered query when it is not
// deployed. Join-code uniqueness is not server-enforced; if several rows
// match, the first result wins deterministically (oldest first on the
// fallback path).
func (d *Directory) ApartmentByCode(ctx context.Context, code string) (*domain.Apartment, error) {
	var rows []domain.Apartment
	err := d.rpc.Call(ctx, searchByCodeFn, map[string]string{"code": code}, &rows)
	if err != nil && IsMissingFunction(err) {
		d.log.Debug().Str("fn", searchByCodeFn).Msg("search function not deployed, falling back to direct query")
		q := Query{
			Filter: map[string]any{"room_code": code},
			Order:  &Order{Column: "created_at", Ascending: true},
		}
		err = d.tables.ListInto(ctx, domain.TableApartments, q, &rows)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up join code: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// CreateApartment inserts the apartment row.
func (d *Directory) CreateApartment(ctx context.Context, apt *domain.Apartment) error {
	if err := d.tables.Insert(ctx, domain.TableApartments, apt, nil); err != nil {
		return fmt.Errorf("failed to create apartment: %w", err)
	}
	return nil
}

// AddMember inserts a membership row.
func (d *Directory) AddMember(ctx context.Context, m *domain.ApartmentMember) error {
	if err := d.tables.Insert(ctx, domain.TableApartmentMembers, m, nil); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember deletes the (apartment, user) membership row.
func (d *Directory) RemoveMember(ctx context.Context, apartmentID, userID uuid.UUID) error {
	filter := map[string]any{"apartment_id": apartmentID, "user_id": userID}
	if err := d.tables.Delete(ctx, domain.TableApartmentMembers, filter); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// MembershipsByUser lists userID's membership rows. Deployments without the
// membership table surface domain.ErrRelationMissing; callers decide whether
// that is benign.
func (d *Directory) MembershipsByUser(ctx context.Context, userID uuid.UUID) ([]domain.ApartmentMember, error) {
	var out []domain.ApartmentMember
	q := Query{Filter: map[string]any{"user_id": userID}}
	if err := d.tables.ListInto(ctx, domain.TableApartmentMembers, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MembersByApartment lists an apartment's membership rows.
func (d *Directory) MembersByApartment(ctx context.Context, apartmentID uuid.UUID) ([]domain.ApartmentMember, error) {
	var out []domain.ApartmentMember
	q := Query{Filter: map[string]any{"apartment_id": apartmentID}}
	if err := d.tables.ListInto(ctx, domain.TableApartmentMembers, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}
