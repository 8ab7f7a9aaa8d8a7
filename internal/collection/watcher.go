// Package collection provides the generic remote-collection watcher every
// feature list is built on: a filtered mirror of one remote table with
// loading/error state, manual refetch, optional fixed-cadence polling, and
// single-flight request cancellation.
package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jabvlabs/roommate/internal/backend"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/rs/zerolog"
)

// Fetcher is the read side of the table API. backend.Tables implements it.
type Fetcher interface {
	List(ctx context.Context, table string, q backend.Query) ([]json.RawMessage, error)
}

// Order aliases the table API's ordering so feed code does not need a
// backend import.
type Order = backend.Order

// Config parameterizes a watcher.
type Config struct {
	Table        string
	Select       string         // defaults to "*"
	Filter       map[string]any // exact-match; nil values are skipped
	Order        *backend.Order
	PollInterval time.Duration // 0 disables polling
	Disabled     bool          // short-circuit to an empty snapshot
}

// Snapshot is one observed state of the collection.
type Snapshot[T any] struct {
	Data    []T
	Loading bool
	Err     error
}

// IsEmpty reports a settled, error-free, empty result, the signal callers
// use to render an empty state instead of a list.
func (s Snapshot[T]) IsEmpty() bool {
	return len(s.Data) == 0 && !s.Loading && s.Err == nil
}

// Watcher mirrors one filtered remote collection. At most one fetch is in
// flight; a newer fetch cancels and supersedes an older one, so the snapshot
// always reflects the most recently initiated request that was allowed to
// complete.
type Watcher[T any] struct {
	fetcher Fetcher
	authed  func() bool
	log     zerolog.Logger

	mu        sync.Mutex
	cfg       Config
	filterKey string
	snap      Snapshot[T]
	gen       uint64
	inflight  context.CancelFunc
	subs      map[int]chan Snapshot[T]
	nextSub   int
	closed    bool

	pollStop chan struct{}
	unbind   func()
}

// NewWatcher creates a watcher and issues the initial fetch. authed gates
// fetching on a signed-in identity; when it reports false the watcher
// settles on an empty snapshot without a network call.
func NewWatcher[T any](f Fetcher, authed func() bool, cfg Config, logger zerolog.Logger) *Watcher[T] {
	if cfg.Select == "" {
		cfg.Select = "*"
	}
	w := &Watcher[T]{
		fetcher:   f,
		authed:    authed,
		log:       logger.With().Str("table", cfg.Table).Logger(),
		cfg:       cfg,
		filterKey: filterKey(cfg.Filter),
		snap:      Snapshot[T]{Loading: true},
		subs:      make(map[int]chan Snapshot[T]),
	}

	w.fetch()

	if cfg.PollInterval > 0 {
		w.pollStop = make(chan struct{})
		go w.poll(cfg.PollInterval, w.pollStop)
	}
	return w
}

// Snapshot returns the current observed state.
func (w *Watcher[T]) Snapshot() Snapshot[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Refetch re-issues the fetch, superseding any in-flight request. Callers
// use it after mutations and for pull-to-refresh.
func (w *Watcher[T]) Refetch() {
	w.fetch()
}

// SetFilter replaces the filter map and refetches only if its serialized
// value actually changed.
func (w *Watcher[T]) SetFilter(filter map[string]any) {
	key := filterKey(filter)

	w.mu.Lock()
	if key == w.filterKey {
		w.mu.Unlock()
		return
	}
	w.cfg.Filter = filter
	w.filterKey = key
	w.mu.Unlock()

	w.fetch()
}

// SetDisabled toggles the enabled flag; disabling settles the watcher on an
// empty snapshot.
func (w *Watcher[T]) SetDisabled(disabled bool) {
	w.mu.Lock()
	if w.cfg.Disabled == disabled {
		w.mu.Unlock()
		return
	}
	w.cfg.Disabled = disabled
	w.mu.Unlock()

	w.fetch()
}

// Updates subscribes to snapshot changes. The channel is buffered; a slow
// consumer misses intermediate snapshots, never the latest (re-read via
// Snapshot). The returned func unsubscribes.
func (w *Watcher[T]) Updates() (<-chan Snapshot[T], func()) {
	ch := make(chan Snapshot[T], 8)

	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		if sub, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(sub)
		}
		w.mu.Unlock()
	}
}

// BindInvalidations refetches whenever the bus publishes an invalidation for
// this watcher's table.
func (w *Watcher[T]) BindInvalidations(bus *Bus) {
	w.mu.Lock()
	if w.closed || w.unbind != nil {
		w.mu.Unlock()
		return
	}
	ch, cancel := bus.Subscribe(w.cfg.Table)
	w.unbind = cancel
	w.mu.Unlock()

	go func() {
		for range ch {
			w.fetch()
		}
	}()
}

// Close tears the watcher down: polling stops, the in-flight fetch is
// abandoned, and no snapshot changes are published afterwards.
func (w *Watcher[T]) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.gen++ // invalidate any in-flight completion
	if w.inflight != nil {
		w.inflight()
		w.inflight = nil
	}
	unbind := w.unbind
	w.unbind = nil
	pollStop := w.pollStop
	w.pollStop = nil
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
	w.mu.Unlock()

	if pollStop != nil {
		close(pollStop)
	}
	if unbind != nil {
		unbind()
	}
}

func (w *Watcher[T]) poll(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.fetch()
		case <-stop:
			return
		}
	}
}

func (w *Watcher[T]) fetch() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}

	// Supersede whatever is in flight before anything else; even the
	// short-circuit path must not let an older response land later.
	w.gen++
	gen := w.gen
	if w.inflight != nil {
		w.inflight()
		w.inflight = nil
	}

	if w.cfg.Disabled || (w.authed != nil && !w.authed()) {
		w.publishLocked(Snapshot[T]{Data: []T{}})
		w.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.inflight = cancel

	q := backend.Query{
		Select: w.cfg.Select,
		Filter: w.cfg.Filter,
		Order:  w.cfg.Order,
	}
	table := w.cfg.Table

	next := w.snap
	next.Loading = true
	w.publishLocked(next)
	w.mu.Unlock()

	go func() {
		rows, err := w.fetcher.List(ctx, table, q)

		w.mu.Lock()
		defer w.mu.Unlock()
		if gen != w.gen || w.closed {
			// Superseded or torn down: abandon silently, state unchanged.
			return
		}
		w.inflight = nil

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, domain.ErrRelationMissing) {
				w.log.Warn().Msg("table does not exist yet")
				w.publishLocked(Snapshot[T]{Data: []T{}})
				return
			}
			w.log.Error().Err(err).Msg("fetch failed")
			w.publishLocked(Snapshot[T]{Err: err})
			return
		}

		data := make([]T, 0, len(rows))
		for _, raw := range rows {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				w.log.Error().Err(err).Msg("row decode failed")
				w.publishLocked(Snapshot[T]{Err: fmt.Errorf("failed to decode %s row: %w", table, err)})
				return
			}
			data = append(data, item)
		}
		w.publishLocked(Snapshot[T]{Data: data})
	}()
}

// publishLocked replaces the snapshot and notifies subscribers. Callers hold
// the mutex.
func (w *Watcher[T]) publishLocked(snap Snapshot[T]) {
	w.snap = snap
	for _, ch := range w.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// filterKey is a stable serialization of the filter map, used to detect
// real changes. Nil values are skipped to mirror query encoding.
func filterKey(filter map[string]any) string {
	if len(filter) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filter))
	for k, v := range filter {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b []byte
	for _, k := range keys {
		b = append(b, k...)
		b = append(b, '=')
		b = append(b, fmt.Sprint(filter[k])...)
		b = append(b, ';')
	}
	return string(b)
}
