package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the agent needs from the already-obtained teacher token:
// who the records belong to and until when the token is usable. The token is
// issued and verified by the school server; the agent only reads its claims
// and passes it through on remote calls.
type Identity struct {
	Owner     string
	Email     string
	ExpiresAt time.Time
}

// Claims mirrors the relevant JWT payload fields.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

var (
	// ErrNoSubject means the token carries no usable owner identity.
	ErrNoSubject = errors.New("token has no subject or email")
	// ErrExpired means the token's lifetime has passed.
	ErrExpired = errors.New("token expired")
)

// FromToken extracts the owner identity from a token string. The signature
// is not checked here — the server rejects forged tokens on its own; locally
// the token only scopes which records the agent tags and syncs.
func FromToken(tokenStr string, now time.Time) (Identity, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return Identity{}, err
	}
	owner := claims.Subject
	if owner == "" {
		owner = claims.Email
	}
	if owner == "" {
		return Identity{}, ErrNoSubject
	}
	id := Identity{Owner: owner, Email: claims.Email}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
		if now.After(id.ExpiresAt) {
			return Identity{}, ErrExpired
		}
	}
	return id, nil
}
