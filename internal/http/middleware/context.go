package middlewarex

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const (
	ctxConsentID ctxKey = "consent_id"
)

// ConsentHeader names the account-access consent an account read is made under.
const ConsentHeader = "X-Consent-Id"

func WithConsentID(ctx context.Context, consentID string) context.Context {
	return context.WithValue(ctx, ctxConsentID, consentID)
}

func ConsentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxConsentID).(string)
	return v, ok && v != ""
}

// ConsentScope moves the X-Consent-Id header into the request context.
func ConsentScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(ConsentHeader)); id != "" {
			r = r.WithContext(WithConsentID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
