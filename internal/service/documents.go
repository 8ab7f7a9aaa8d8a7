package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/backend"
	"github.com/jabvlabs/roommate/internal/collection"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/rs/zerolog"
)

// Documents handles document uploads and deletion. The storage object is
// secondary to the table row: its cleanup is best-effort, its upload happens
// first so a half-failed upload never leaves a row pointing at nothing.
type Documents struct {
	tables  *backend.Tables
	storage *backend.Storage
	bus     *collection.Bus
	log     zerolog.Logger
}

// NewDocuments creates the document service. bus may be nil.
func NewDocuments(tables *backend.Tables, storage *backend.Storage, bus *collection.Bus, logger zerolog.Logger) *Documents {
	return &Documents{tables: tables, storage: storage, bus: bus, log: logger}
}

// Upload stores the file in the bucket and inserts the document row.
func (d *Documents) Upload(ctx context.Context, apartmentID, uploaderID uuid.UUID, name, contentType string, data []byte) (*domain.Document, error) {
	objectPath := fmt.Sprintf("%s-%s", uuid.New(), sanitizeObjectName(name))
	if err := d.storage.Upload(ctx, objectPath, contentType, data); err != nil {
		return nil, fmt.Errorf("failed to upload document: %w", err)
	}

	doc := &domain.Document{
		ID:          uuid.New(),
		Name:        name,
		URL:         d.storage.PublicURL(objectPath),
		ApartmentID: apartmentID,
		UploaderID:  &uploaderID,
		Size:        int64(len(data)),
		Type:        contentType,
		CreatedAt:   time.Now().UTC(),
	}
	if err := d.tables.Insert(ctx, domain.TableDocuments, doc, nil); err != nil {
		// Orphaned object; try to take it back out.
		if rmErr := d.storage.Remove(ctx, objectPath); rmErr != nil {
			d.log.Warn().Err(rmErr).Str("object", objectPath).Msg("failed to remove orphaned upload")
		}
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	d.invalidate(domain.TableDocuments)
	return doc, nil
}

// Delete removes the document row and, best-effort, its storage object. The
// object name is the tail of the stored public URL.
func (d *Documents) Delete(ctx context.Context, documentID uuid.UUID) error {
	var doc struct {
		URL string `json:"url"`
	}
	err := d.tables.Single(ctx, domain.TableDocuments, backend.Query{
		Select: "url",
		Filter: map[string]any{"id": documentID},
	}, &doc)
	if err != nil && !errors.Is(err, backend.ErrNoRows) {
		return fmt.Errorf("failed to fetch document: %w", err)
	}

	if doc.URL != "" {
		object := objectNameFromURL(doc.URL)
		if object != "" {
			if err := d.storage.Remove(ctx, object); err != nil {
				// Keep going; the row delete is the operation of record.
				d.log.Warn().Err(err).Str("object", object).Msg("storage delete failed")
			}
		}
	}

	if err := d.tables.Delete(ctx, domain.TableDocuments, map[string]any{"id": documentID}); err != nil {
		return fmt.Errorf("failed to delete document record: %w", err)
	}

	d.invalidate(domain.TableDocuments)
	return nil
}

func (d *Documents) invalidate(table string) {
	if d.bus != nil {
		d.bus.Invalidate(table)
	}
}

func objectNameFromURL(url string) string {
	idx := strings.LastIndex(url, "/")
	if idx < 0 || idx == len(url)-1 {
		return ""
	}
	return url[idx+1:]
}

func sanitizeObjectName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
