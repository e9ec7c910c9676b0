package postgres

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"obgateway/internal/pagination"
)

func TestPagedSeeksFromCursor(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	page := pagination.Request{Page: 3, PageSize: 10, After: &pagination.Cursor{At: at, ID: "c9"}}

	var w where
	w.add("status = ?", "Pending")
	w.after("created_at", "payment_id", page)
	if got, want := w.sql(), " WHERE status = $1 AND (created_at, payment_id) > ($2, $3)"; got != want {
		t.Fatalf("count clause = %q, want %q", got, want)
	}

	query, args := w.paged("created_at", "payment_id", page)
	want := " WHERE status = $1 AND (created_at, payment_id) > ($2, $3) ORDER BY created_at, payment_id LIMIT $4 OFFSET $5"
	if query != want {
		t.Fatalf("query = %q, want %q", query, want)
	}
	if diff := cmp.Diff([]any{"Pending", at, "c9", 10, 0}, args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}
}

func TestPagedReadsBackwardsFromBeforeCursor(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	page := pagination.Request{Page: 2, PageSize: 5, Before: &pagination.Cursor{At: at, ID: "c6"}}

	var w where
	w.add("consent_id = ?", "c1")
	w.after("created_at", "funds_confirmation_id", page)
	if got := w.sql(); got != " WHERE consent_id = $1" {
		t.Fatalf("count clause = %q", got)
	}

	query, args := w.paged("created_at", "funds_confirmation_id", page)
	want := " WHERE consent_id = $1 AND (created_at, funds_confirmation_id) < ($2, $3)" +
		" ORDER BY created_at DESC, funds_confirmation_id DESC LIMIT $4 OFFSET $5"
	if query != want {
		t.Fatalf("query = %q, want %q", query, want)
	}
	if len(args) != 5 || len(w.args) != 1 {
		t.Fatalf("paged must not grow the count args: %d / %d", len(args), len(w.args))
	}

	if diff := cmp.Diff([]int{1, 2, 3}, forward([]int{3, 2, 1}, page)); diff != "" {
		t.Fatalf("forward (-want +got):\n%s", diff)
	}
}

func TestPagedWithoutCursorUsesOffset(t *testing.T) {
	var w where
	query, args := w.paged("created_at", "schedule_id", pagination.Request{Page: 2, PageSize: 10})
	if query != " ORDER BY created_at, schedule_id LIMIT $1 OFFSET $2" {
		t.Fatalf("query = %q", query)
	}
	if diff := cmp.Diff([]any{10, 10}, args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}
}
