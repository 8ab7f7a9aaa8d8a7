// Package service holds the feature-level operations screens call directly:
// typed collection feeds plus the handful of write paths that are more than
// a bare insert.
package service

import (
	"time"

	"github.com/jabvlabs/roommate/internal/collection"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/jabvlabs/roommate/internal/session"
	"github.com/rs/zerolog"
)

// modificationRequestSelect pulls the joined document name alongside each
// request row.
const modificationRequestSelect = "*,documents!inner(name)"

// FeedOptions tunes one feed instance.
type FeedOptions struct {
	PollInterval time.Duration
}

// Feeds builds per-collection watchers scoped to the active session. Each
// feed is scoped at construction; after a workspace switch callers create a
// fresh feed (or SetFilter on the existing one).
type Feeds struct {
	fetcher collection.Fetcher
	session *session.Store
	bus     *collection.Bus
	log     zerolog.Logger
}

// NewFeeds creates the feed factory. bus may be nil to opt out of
// invalidation wiring.
func NewFeeds(fetcher collection.Fetcher, sess *session.Store, bus *collection.Bus, logger zerolog.Logger) *Feeds {
	return &Feeds{fetcher: fetcher, session: sess, bus: bus, log: logger}
}

func (f *Feeds) authed() bool {
	return f.session.User() != nil
}

// apartmentFilter scopes a feed to the active apartment. Without one the
// feed is disabled: empty data, no network calls.
func (f *Feeds) apartmentFilter() (map[string]any, bool) {
	apt := f.session.Apartment()
	if apt == nil {
		return nil, true
	}
	return map[string]any{"apartment_id": apt.ID}, false
}

func newFeed[T any](f *Feeds, table, sel string, filter map[string]any, disabled bool, order *collection.Order, opts FeedOptions) *collection.Watcher[T] {
	w := collection.NewWatcher[T](f.fetcher, f.authed, collection.Config{
		Table:        table,
		Select:       sel,
		Filter:       filter,
		Order:        order,
		PollInterval: opts.PollInterval,
		Disabled:     disabled,
	}, f.log)
	if f.bus != nil {
		w.BindInvalidations(f.bus)
	}
	return w
}

// Chores mirrors the active apartment's chores.
func (f *Feeds) Chores(opts FeedOptions) *collection.Watcher[domain.Chore] {
	filter, disabled := f.apartmentFilter()
	return newFeed[domain.Chore](f, domain.TableChores, "", filter, disabled, nil, opts)
}

// Expenses mirrors the active apartment's expenses.
func (f *Feeds) Expenses(opts FeedOptions) *collection.Watcher[domain.Expense] {
	filter, disabled := f.apartmentFilter()
	return newFeed[domain.Expense](f, domain.TableExpenses, "", filter, disabled, nil, opts)
}

// Guests mirrors the active apartment's guest requests.
func (f *Feeds) Guests(opts FeedOptions) *collection.Watcher[domain.Guest] {
	filter, disabled := f.apartmentFilter()
	return newFeed[domain.Guest](f, domain.TableGuests, "", filter, disabled, nil, opts)
}

// Documents mirrors the active apartment's documents.
func (f *Feeds) Documents(opts FeedOptions) *collection.Watcher[domain.Document] {
	filter, disabled := f.apartmentFilter()
	return newFeed[domain.Document](f, domain.TableDocuments, "", filter, disabled, nil, opts)
}

// ModificationRequests mirrors the active apartment's document modification
// requests, with the document name joined in.
func (f *Feeds) ModificationRequests(opts FeedOptions) *collection.Watcher[domain.ModificationRequest] {
	filter, disabled := f.apartmentFilter()
	return newFeed[domain.ModificationRequest](f, domain.TableModificationRequests, modificationRequestSelect, filter, disabled, nil, opts)
}

// Notifications mirrors the signed-in user's inbox, newest first. Scoped by
// identity, not apartment.
func (f *Feeds) Notifications(opts FeedOptions) *collection.Watcher[domain.Notification] {
	var filter map[string]any
	disabled := true
	if user := f.session.User(); user != nil {
		filter = map[string]any{"user_id": user.ID}
		disabled = false
	}
	order := &collection.Order{Column: "created_at"}
	return newFeed[domain.Notification](f, domain.TableNotifications, "", filter, disabled, order, opts)
}
