package domain

import (
	"time"

	"github.com/google/uuid"
)

// Collection names as deployed in the remote store.
const (
	TableApartments           = "apartments"
	TableApartmentMembers     = "apartment_members"
	TableChores               = "chores"
	TableExpenses             = "expenses"
	TableGuests               = "guests"
	TableDocuments            = "documents"
	TableModificationRequests = "modification_requests"
	TableNotifications        = "notifications"
)

// Chore is a recurring or one-off task assigned to a roommate.
type Chore struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AssignedTo  string    `json:"assigned_to"`
	DueDate     string    `json:"due_date"`
	Completed   bool      `json:"completed"`
	Recurring   string    `json:"recurring"` // daily, weekly, monthly
	ApartmentID uuid.UUID `json:"apartment_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expense is a shared cost, split equally or by explicit shares.
type Expense struct {
	ID           uuid.UUID          `json:"id"`
	Title        string             `json:"title"`
	Amount       float64            `json:"amount"`
	PaidBy       string             `json:"paid_by"`
	Date         string             `json:"date"`
	Category     string             `json:"category"`
	Description  string             `json:"description,omitempty"`
	Split        string             `json:"split"` // equal or custom
	SplitDetails map[string]float64 `json:"split_details,omitempty"`
	Settled      bool               `json:"settled"`
	ApartmentID  uuid.UUID          `json:"apartment_id"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Guest is an overnight-guest request awaiting roommate approval.
type Guest struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	RequestedBy   string    `json:"requested_by"`
	ArrivalDate   string    `json:"arrival_date"`
	DepartureDate string    `json:"departure_date"`
	Purpose       string    `json:"purpose"`
	Status        string    `json:"status"` // pending, approved, rejected
	ApartmentID   uuid.UUID `json:"apartment_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Document is an uploaded agreement or shared file. URL points at the
// storage bucket's public object.
type Document struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Signed        bool       `json:"signed"`
	ApartmentID   uuid.UUID  `json:"apartment_id"`
	UploaderID    *uuid.UUID `json:"uploader_id,omitempty"`
	Size          int64      `json:"size,omitempty"`
	Type          string     `json:"type,omitempty"`
	SignedBy      string     `json:"signed_by,omitempty"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
	SignatureData string     `json:"signature_data,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DocumentReference carries the joined document name on a modification
// request row.
type DocumentReference struct {
	Name string `json:"name"`
}

// ModificationRequest asks the document owner to allow editing a document.
type ModificationRequest struct {
	ID          uuid.UUID          `json:"id"`
	DocumentID  uuid.UUID          `json:"document_id"`
	RequestedBy uuid.UUID          `json:"requested_by"`
	Reason      string             `json:"reason"`
	Status      string             `json:"status"` // pending, approved, rejected
	ApartmentID uuid.UUID          `json:"apartment_id"`
	CreatedAt   time.Time          `json:"created_at"`
	Document    *DocumentReference `json:"documents,omitempty"`
}

// Modification request status values.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Notification is a per-user inbox entry.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"` // info, warning, success, error
	Read      bool      `json:"read"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
