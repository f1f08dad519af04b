package tokenstore

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims decodes the access token's JWT payload without verifying its
// signature. It is for display only; the upstream API remains the authority
// on whether the token is honored.
func (r *Record) Claims() (jwt.MapClaims, error) {
	var claims jwt.MapClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(r.AccessToken, &claims); err != nil {
		return nil, fmt.Errorf("access token is not a JWT: %w", err)
	}
	return claims, nil
}
