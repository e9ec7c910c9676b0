package consent

import "time"

// AuthorisationRequest is the single outstanding redirect handshake for a consent.
// It is consumed by the first completion attempt and never returned to callers
// once completed.
type AuthorisationRequest struct {
	ConsentID        string    `json:"ConsentId"`
	AuthURL          string    `json:"AuthUrl"`
	AuthState        string    `json:"AuthState"`
	RedirectURI      string    `json:"RedirectUri"`
	CreationDateTime time.Time `json:"CreationDateTime"`
}
