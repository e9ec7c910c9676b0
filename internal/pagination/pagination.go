package pagination

import (
	"encoding/base64"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"obgateway/internal/apperr"
)

const (
	snapshotParam = "snapshot"
	afterParam    = "after"
	beforeParam   = "before"
)

// Cursor is the position of one item in the (CreationDateTime, id) order.
type Cursor struct {
	At time.Time
	ID string
}

// Less orders cursors by time, then id.
func (c Cursor) Less(o Cursor) bool {
	if !c.At.Equal(o.At) {
		return c.At.Before(o.At)
	}
	return c.ID < o.ID
}

func (c Cursor) encode() string {
	raw := c.At.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, strconv.ErrSyntax
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, err
	}
	return &Cursor{At: t.UTC(), ID: id}, nil
}

// Keyed is implemented by store records listed through Build.
type Keyed interface {
	PageKey() Cursor
}

// Request selects one page of a listing session. A zero Snapshot starts a new
// session; subsequent pages carry the snapshot back through the links.
//
// Links also carry the position of the item at the page edge: After selects
// the items following it, Before the items preceding it. Stores seek from the
// cursor instead of skipping Offset items, so rows that change or disappear
// while a client walks the listing never shift the page boundaries.
type Request struct {
	Page     int
	PageSize int
	Snapshot time.Time
	After    *Cursor
	Before   *Cursor
}

// Validate rejects non-positive sizes and page numbers.
func (r Request) Validate() error {
	if r.PageSize <= 0 {
		return apperr.Validation("pagination", "PageSize must be greater than zero")
	}
	if r.Page < 1 {
		return apperr.Validation("pagination", "Page must be 1 or greater")
	}
	return nil
}

// Pin returns r with the snapshot fixed at now if it was not already set.
func (r Request) Pin(now time.Time) Request {
	if r.Snapshot.IsZero() {
		r.Snapshot = now.UTC().Truncate(time.Microsecond)
	}
	return r
}

// Offset is the number of items before the requested page. It only applies
// when the request carries no cursor.
func (r Request) Offset() int {
	if r.After != nil || r.Before != nil {
		return 0
	}
	return (r.Page - 1) * r.PageSize
}

// Served is the number of items the client has already walked past when it
// follows a Next link. Those pages were served full, so they are counted at
// PageSize whatever happened to their items since.
func (r Request) Served() int {
	if r.After == nil {
		return 0
	}
	return (r.Page - 1) * r.PageSize
}

// Window selects the page of a slice in (CreationDateTime, id) order: the
// PageSize items after r.After, the PageSize items before r.Before, or the
// Offset window. The returned total is Served plus what remains after r.After,
// or the slice length when no After cursor is set.
func Window[T any](ordered []T, key func(T) Cursor, r Request) ([]T, int) {
	total := len(ordered)
	start := min(r.Offset(), total)
	switch {
	case r.After != nil:
		start = sort.Search(total, func(i int) bool { return r.After.Less(key(ordered[i])) })
		total = r.Served() + len(ordered) - start
	case r.Before != nil:
		end := sort.Search(total, func(i int) bool { return !key(ordered[i]).Less(*r.Before) })
		return ordered[max(0, end-r.PageSize):end], total
	}
	return ordered[start:min(start+r.PageSize, len(ordered))], total
}

type Meta struct {
	PageSize     int  `json:"PageSize"`
	PreviousPage *int `json:"PreviousPage,omitempty"`
	NextPage     *int `json:"NextPage,omitempty"`
	PageCount    int  `json:"PageCount"`
	ItemCount    int  `json:"ItemCount"`
}

type Links struct {
	Self string `json:"Self"`
	Next string `json:"Next,omitempty"`
	Prev string `json:"Prev,omitempty"`
}

type Page[T any] struct {
	Items []T   `json:"Items"`
	Meta  Meta  `json:"Meta"`
	Links Links `json:"Links"`
}

// Build assembles a page from the items of one page and the total count of the
// snapshot. self is the absolute listing URL including its filter parameters.
// Next and Prev links seek from the last and first item of the page.
func Build[T Keyed](items []T, total int, req Request, self *url.URL) Page[T] {
	var first, last *Cursor
	if len(items) > 0 {
		f, l := items[0].PageKey(), items[len(items)-1].PageKey()
		first, last = &f, &l
	}
	return build(items, total, req, self, first, last)
}

func build[T any](items []T, total int, req Request, self *url.URL, first, last *Cursor) Page[T] {
	if items == nil {
		items = []T{}
	}
	pageCount := (total + req.PageSize - 1) / req.PageSize
	meta := Meta{PageSize: req.PageSize, PageCount: pageCount, ItemCount: total}
	links := Links{Self: link(self, req, req.Page, req.After, req.Before)}
	if req.Page > 1 && pageCount > 0 {
		prev := req.Page - 1
		if prev > pageCount {
			prev = pageCount
		}
		meta.PreviousPage = &prev
		if prev == 1 {
			// the first page needs no cursor
			links.Prev = link(self, req, prev, nil, nil)
		} else {
			links.Prev = link(self, req, prev, nil, first)
		}
	}
	if req.Page < pageCount {
		next := req.Page + 1
		meta.NextPage = &next
		links.Next = link(self, req, next, last, nil)
	}
	return Page[T]{Items: items, Meta: meta, Links: links}
}

// Slice paginates an already ordered in-memory sequence fetched whole for each
// request. Page numbers index it directly.
func Slice[T any](all []T, req Request, self *url.URL) (Page[T], error) {
	if err := req.Validate(); err != nil {
		return Page[T]{}, err
	}
	req.After, req.Before = nil, nil
	start := req.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + req.PageSize
	if end > len(all) {
		end = len(all)
	}
	items := append([]T(nil), all[start:end]...)
	return build(items, len(all), req, self, nil, nil), nil
}

// ParseQuery reads page, page-size and snapshot from a listing URL, using
// defaultSize when page-size is absent and capping it at maxSize.
func ParseQuery(q url.Values, defaultSize, maxSize int) (Request, error) {
	req := Request{Page: 1, PageSize: defaultSize}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, apperr.Validation("pagination", "page must be an integer")
		}
		req.Page = n
	}
	if v := q.Get("page-size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, apperr.Validation("pagination", "page-size must be an integer")
		}
		req.PageSize = n
	}
	if maxSize > 0 && req.PageSize > maxSize {
		req.PageSize = maxSize
	}
	if v := q.Get(snapshotParam); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return req, apperr.Validation("pagination", "snapshot must be an RFC 3339 timestamp")
		}
		req.Snapshot = t.UTC()
	}
	for param, dst := range map[string]**Cursor{afterParam: &req.After, beforeParam: &req.Before} {
		if v := q.Get(param); v != "" {
			c, err := decodeCursor(v)
			if err != nil {
				return req, apperr.Validation("pagination", "%s is not a valid page cursor", param)
			}
			*dst = c
		}
	}
	if req.After != nil && req.Before != nil {
		return req, apperr.Validation("pagination", "after and before are mutually exclusive")
	}
	return req, req.Validate()
}

func link(self *url.URL, req Request, page int, after, before *Cursor) string {
	if self == nil {
		return ""
	}
	u := *self
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("page-size", strconv.Itoa(req.PageSize))
	if !req.Snapshot.IsZero() {
		q.Set(snapshotParam, req.Snapshot.UTC().Format(time.RFC3339Nano))
	}
	q.Del(afterParam)
	q.Del(beforeParam)
	if after != nil {
		q.Set(afterParam, after.encode())
	}
	if before != nil {
		q.Set(beforeParam, before.encode())
	}
	u.RawQuery = q.Encode()
	return u.String()
}
