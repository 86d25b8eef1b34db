package platforms

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coursekeep/coursekeep/internal/ports"
)

// tokenFromJWT extrait la date d'expiration du claim exp, sans vérifier la
// signature : on n'est pas le vérificateur, juste le porteur. Si le token
// n'est pas un JWT (token opaque), expiresIn sert de repli.
func tokenFromJWT(value string, expiresIn time.Duration, now time.Time) ports.Token {
	tok := ports.Token{Value: value}
	if expiresIn > 0 {
		tok.ExpiresAt = now.Add(expiresIn)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(value, jwt.MapClaims{})
	if err != nil {
		return tok
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return tok
	}
	tok.ExpiresAt = exp.Time
	return tok
}
