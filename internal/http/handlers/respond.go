package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/pagination"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps err onto the flat {"message"} contract. Details of 500s stay in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"message": apperr.PublicMessage(err)})
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("decode", "request body is required")
		}
		return apperr.Validation("decode", "invalid JSON body: %v", err)
	}
	return nil
}

// Pager turns listing query parameters into pagination requests and pages
// into responses with absolute links.
type Pager struct {
	Clock       clock.Clock
	BaseURL     string
	DefaultSize int
	MaxSize     int
}

// Request parses page, page-size and snapshot; a first page pins a new snapshot.
func (p Pager) Request(r *http.Request) (pagination.Request, error) {
	req, err := pagination.ParseQuery(r.URL.Query(), p.DefaultSize, p.MaxSize)
	if err != nil {
		return req, err
	}
	return req.Pin(p.Clock.Now()), nil
}

func (p Pager) self(r *http.Request) *url.URL {
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Host == "" {
		u = &url.URL{Scheme: "http", Host: r.Host}
	}
	u.Path = strings.TrimRight(u.Path, "/") + r.URL.Path
	u.RawQuery = r.URL.RawQuery
	return u
}

// writePage writes one page of a store listing.
func writePage[T pagination.Keyed](w http.ResponseWriter, r *http.Request, p Pager, items []T, total int, req pagination.Request) {
	writeJSON(w, http.StatusOK, pagination.Build(items, total, req, p.self(r)))
}

// writeSlice paginates a complete in-memory result.
func writeSlice[T any](w http.ResponseWriter, r *http.Request, p Pager, all []T) {
	req, err := pagination.ParseQuery(r.URL.Query(), p.DefaultSize, p.MaxSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := pagination.Slice(all, req, p.self(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// listParam splits a comma separated query parameter, also accepting repeats.
func listParam(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
