package source

import (
	"github.com/tidwall/gjson"
)

// PageState is the pagination state of a REST extraction.
type PageState int

// Pagination states.
const (
	HasNextPage PageState = iota
	Exhausted
)

func (s PageState) String() string {
	if s == Exhausted {
		return "exhausted"
	}
	return "has_next_page"
}

// CursorFunc extracts the next-page cursor from a page body. ok is false when
// the page carries no cursor.
type CursorFunc func(body []byte) (cursor string, ok bool)

// GJSONCursor reads the cursor at a gjson path. A missing, null or empty value
// ends pagination. An empty path means the endpoint is not paginated.
func GJSONCursor(path string) CursorFunc {
	return func(body []byte) (string, bool) {
		if path == "" {
			return "", false
		}
		v := gjson.GetBytes(body, path)
		if !v.Exists() || v.Type == gjson.Null || v.String() == "" {
			return "", false
		}
		return v.String(), true
	}
}

// Paginator walks a cursor-paginated endpoint. It starts in HasNextPage with
// no cursor (the first page) and moves to Exhausted on the first page without
// a cursor.
type Paginator struct {
	cursorFn CursorFunc
	state    PageState
	cursor   string
	pages    int
}

// NewPaginator creates a Paginator positioned before the first page.
func NewPaginator(fn CursorFunc) *Paginator {
	return &Paginator{cursorFn: fn, state: HasNextPage}
}

// State returns the current state.
func (p *Paginator) State() PageState { return p.state }

// Cursor returns the cursor for the next request; empty for the first page.
func (p *Paginator) Cursor() string { return p.cursor }

// Pages returns how many pages have been consumed.
func (p *Paginator) Pages() int { return p.pages }

// Advance consumes a page body and updates the state.
func (p *Paginator) Advance(body []byte) PageState {
	p.pages++
	cursor, ok := p.cursorFn(body)
	if !ok {
		p.state = Exhausted
		p.cursor = ""
		return p.state
	}
	p.cursor = cursor
	return p.state
}
