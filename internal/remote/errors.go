package remote

import "errors"

// ErrTokenExpired means the configured identity token's lifetime has passed.
// Calls fail fast locally instead of burning a round trip on a guaranteed
// rejection; the owner has to obtain a fresh token.
var ErrTokenExpired = errors.New("identity token expired")

// ErrorKind maps a boundary error to the taxonomy used in reports.
func ErrorKind(err error) string {
	if errors.Is(err, ErrTokenExpired) {
		return "token_expired"
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "network"
	}
	var rej *RemoteRejected
	if errors.As(err, &rej) {
		return "remote_rejected"
	}
	return "unknown"
}
