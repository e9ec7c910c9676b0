package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("op", "bad"), http.StatusBadRequest},
		{"not found", NotFound("op", "missing"), http.StatusBadRequest},
		{"conflict", Conflict("op", "state"), http.StatusBadRequest},
		{"precondition", PreconditionFailed("op", "later"), http.StatusBadRequest},
		{"expired", Expired("op", "gone"), http.StatusBadRequest},
		{"external auth", ExternalAuth("op", false, errors.New("boom")), http.StatusInternalServerError},
		{"external auth client", ExternalAuth("op", true, errors.New("invalid_grant")), http.StatusBadRequest},
		{"timeout", UpstreamTimeout("op", errors.New("deadline")), http.StatusInternalServerError},
		{"plain", errors.New("plain"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("outer: %w", Conflict("op", "state")), http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("%s: HTTPStatus = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestPublicMessageHidesInternalDetail(t *testing.T) {
	err := Internal("store.save", errors.New("pq: connection refused"))
	if got := PublicMessage(err); got != "internal error" {
		t.Fatalf("PublicMessage = %q", got)
	}
	if got := PublicMessage(Validation("op", "Permissions must not be empty")); got != "Permissions must not be empty" {
		t.Fatalf("PublicMessage = %q", got)
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Expired("funds.confirm", "consent expired"))
	if !Is(err, KindExpired) {
		t.Fatal("expected expired kind")
	}
	if Is(nil, KindInternal) {
		t.Fatal("nil must not match any kind")
	}
}
