package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// inspectToken checks the stored access token locally before any remote
// call: a token the client cannot even parse, or whose exp claim has
// elapsed, is discarded without bothering the verification endpoint. The
// signature is not checked here; only the remote service can do that.
func inspectToken(token string) error {
	if token == "" {
		return errors.New("empty access token")
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return err
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return err
	}
	if exp != nil && time.Now().After(exp.Time) {
		return errors.New("access token expired")
	}
	return nil
}
