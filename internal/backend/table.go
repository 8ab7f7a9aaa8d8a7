package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ErrNoRows is returned by Single when the query matched nothing.
var ErrNoRows = errors.New("backend: no rows")

// Order describes server-side ordering. Direction defaults to descending,
// matching the app's newest-first lists.
type Order struct {
	Column    string
	Ascending bool
}

// Query describes a read against one collection: column selection, an
// exact-match filter map, optional ordering, and an optional row limit.
// Filter entries with nil values are skipped, not sent.
type Query struct {
	Select string
	Filter map[string]any
	Order  *Order
	Limit  int
}

func (q Query) values() url.Values {
	v := url.Values{}

	sel := q.Select
	if sel == "" {
		sel = "*"
	}
	v.Set("select", sel)

	for key, val := range q.Filter {
		if val == nil {
			continue
		}
		v.Set(key, "eq."+fmt.Sprint(val))
	}

	if q.Order != nil {
		dir := "desc"
		if q.Order.Ascending {
			dir = "asc"
		}
		v.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func filterValues(filter map[string]any) url.Values {
	v := url.Values{}
	for key, val := range filter {
		if val == nil {
			continue
		}
		v.Set(key, "eq."+fmt.Sprint(val))
	}
	return v
}

// Tables is the generic CRUD surface over named collections.
type Tables struct {
	c *Client
}

// NewTables creates the table API on a shared client.
func NewTables(c *Client) *Tables {
	return &Tables{c: c}
}

// List fetches all rows matching the query as raw JSON objects.
func (t *Tables) List(ctx context.Context, table string, q Query) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	if err := t.c.do(ctx, http.MethodGet, "/rest/v1/"+table, q.values(), nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListInto fetches matching rows and decodes them into out, a pointer to a
// slice of row structs.
func (t *Tables) ListInto(ctx context.Context, table string, q Query, out any) error {
	return t.c.do(ctx, http.MethodGet, "/rest/v1/"+table, q.values(), nil, nil, out)
}

// Single fetches the first row matching the query into out, or ErrNoRows.
func (t *Tables) Single(ctx context.Context, table string, q Query, out any) error {
	q.Limit = 1
	rows, err := t.List(ctx, table, q)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNoRows
	}
	if err := json.Unmarshal(rows[0], out); err != nil {
		return fmt.Errorf("failed to decode %s row: %w", table, err)
	}
	return nil
}

// Insert adds one row (or, given a slice, several). When out is non-nil the
// inserted representation is decoded into it.
func (t *Tables) Insert(ctx context.Context, table string, row any, out any) error {
	header := http.Header{}
	if out != nil {
		header.Set("Prefer", "return=representation")
		var rows []json.RawMessage
		if err := t.c.do(ctx, http.MethodPost, "/rest/v1/"+table, nil, header, row, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrNoRows
		}
		if err := json.Unmarshal(rows[0], out); err != nil {
			return fmt.Errorf("failed to decode inserted %s row: %w", table, err)
		}
		return nil
	}
	return t.c.do(ctx, http.MethodPost, "/rest/v1/"+table, nil, header, row, nil)
}

// Update patches every row matching the filter.
func (t *Tables) Update(ctx context.Context, table string, patch any, filter map[string]any) error {
	return t.c.do(ctx, http.MethodPatch, "/rest/v1/"+table, filterValues(filter), nil, patch, nil)
}

// Delete removes every row matching the filter.
func (t *Tables) Delete(ctx context.Context, table string, filter map[string]any) error {
	return t.c.do(ctx, http.MethodDelete, "/rest/v1/"+table, filterValues(filter), nil, nil, nil)
}
