package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/backend"
	"github.com/jabvlabs/roommate/internal/collection"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/rs/zerolog"
)

// Requests handles the document modification-request lifecycle. The request
// row is the operation of record; the notifications fanned out around it are
// best-effort writes whose failures are logged, never surfaced.
type Requests struct {
	tables *backend.Tables
	bus    *collection.Bus
	log    zerolog.Logger
}

// NewRequests creates the modification-request service. bus may be nil.
func NewRequests(tables *backend.Tables, bus *collection.Bus, logger zerolog.Logger) *Requests {
	return &Requests{tables: tables, bus: bus, log: logger}
}

// Create files a modification request and notifies the apartment owner plus
// the document uploader (once, when they coincide).
func (r *Requests) Create(ctx context.Context, documentID, apartmentID, requestedBy uuid.UUID, reason string) (domain.Outcome, error) {
	req := &domain.ModificationRequest{
		ID:          uuid.New(),
		DocumentID:  documentID,
		RequestedBy: requestedBy,
		Reason:      reason,
		Status:      domain.StatusPending,
		ApartmentID: apartmentID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.tables.Insert(ctx, domain.TableModificationRequests, req, nil); err != nil {
		return domain.Outcome{}, fmt.Errorf("failed to create modification request: %w", err)
	}
	r.invalidate(domain.TableModificationRequests)

	notify := r.notifyCreated(ctx, documentID, apartmentID, reason)
	if notify.Failed() {
		r.log.Warn().Err(notify.Err).Msg("best-effort request notifications failed")
	}
	return notify, nil
}

// notifyCreated gathers the recipients and inserts the notification rows.
// Any failure along the way aborts the fan-out without touching the request.
func (r *Requests) notifyCreated(ctx context.Context, documentID, apartmentID uuid.UUID, reason string) domain.Outcome {
	var doc struct {
		Name       string     `json:"name"`
		UploaderID *uuid.UUID `json:"uploader_id"`
	}
	err := r.tables.Single(ctx, domain.TableDocuments, backend.Query{
		Select: "name,uploader_id",
		Filter: map[string]any{"id": documentID},
	}, &doc)
	if err != nil {
		return domain.Outcome{Attempted: true, Err: fmt.Errorf("failed to fetch document: %w", err)}
	}

	var apt struct {
		OwnerID uuid.UUID `json:"user_id"`
	}
	err = r.tables.Single(ctx, domain.TableApartments, backend.Query{
		Select: "user_id",
		Filter: map[string]any{"id": apartmentID},
	}, &apt)
	if err != nil {
		return domain.Outcome{Attempted: true, Err: fmt.Errorf("failed to fetch apartment: %w", err)}
	}

	message := fmt.Sprintf("%s - Document: %s", reason, doc.Name)
	rows := []domain.Notification{{
		ID:        uuid.New(),
		Title:     "Document Modification Request",
		Message:   message,
		Type:      "info",
		UserID:    apt.OwnerID,
		CreatedAt: time.Now().UTC(),
	}}
	if doc.UploaderID != nil && *doc.UploaderID != apt.OwnerID {
		rows = append(rows, domain.Notification{
			ID:        uuid.New(),
			Title:     "Document Modification Request",
			Message:   message,
			Type:      "info",
			UserID:    *doc.UploaderID,
			CreatedAt: time.Now().UTC(),
		})
	}

	if err := r.tables.Insert(ctx, domain.TableNotifications, rows, nil); err != nil {
		return domain.Outcome{Attempted: true, Err: fmt.Errorf("failed to insert notifications: %w", err)}
	}
	r.invalidate(domain.TableNotifications)
	return domain.Outcome{Attempted: true}
}

// Resolve approves or rejects a request and notifies the requester
// best-effort.
func (r *Requests) Resolve(ctx context.Context, requestID uuid.UUID, status string) (domain.Outcome, error) {
	if status != domain.StatusApproved && status != domain.StatusRejected {
		return domain.Outcome{}, fmt.Errorf("invalid status %q", status)
	}

	patch := map[string]any{"status": status}
	if err := r.tables.Update(ctx, domain.TableModificationRequests, patch, map[string]any{"id": requestID}); err != nil {
		return domain.Outcome{}, fmt.Errorf("failed to update request status: %w", err)
	}
	r.invalidate(domain.TableModificationRequests)

	notify := r.notifyResolved(ctx, requestID, status)
	if notify.Failed() {
		r.log.Warn().Err(notify.Err).Msg("best-effort resolution notification failed")
	}
	return notify, nil
}

func (r *Requests) notifyResolved(ctx context.Context, requestID uuid.UUID, status string) domain.Outcome {
	var req domain.ModificationRequest
	err := r.tables.Single(ctx, domain.TableModificationRequests, backend.Query{
		Select: modificationRequestSelect,
		Filter: map[string]any{"id": requestID},
	}, &req)
	if err != nil {
		return domain.Outcome{Attempted: true, Err: fmt.Errorf("failed to fetch request: %w", err)}
	}

	documentName := "document"
	if req.Document != nil && req.Document.Name != "" {
		documentName = req.Document.Name
	}

	kind := "info"
	if status == domain.StatusApproved {
		kind = "success"
	}
	row := domain.Notification{
		ID:        uuid.New(),
		Title:     fmt.Sprintf("Modification Request %s", titleCase(status)),
		Message:   fmt.Sprintf("Your request to modify %q has been %s", documentName, status),
		Type:      kind,
		UserID:    req.RequestedBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.tables.Insert(ctx, domain.TableNotifications, row, nil); err != nil {
		return domain.Outcome{Attempted: true, Err: fmt.Errorf("failed to insert notification: %w", err)}
	}
	r.invalidate(domain.TableNotifications)
	return domain.Outcome{Attempted: true}
}

func (r *Requests) invalidate(table string) {
	if r.bus != nil {
		r.bus.Invalidate(table)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
