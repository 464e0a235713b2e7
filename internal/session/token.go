package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryFromToken reads the exp claim of a JWT bearer token. The signature
// is not checked; the backend verifies tokens, this only schedules logout.
// It returns false for opaque tokens and tokens without exp.
func ExpiryFromToken(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
