package feed

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is what can be read from a provider token without verifying it.
type TokenInfo struct {
	Channel   string
	ExpiresAt time.Time
}

// InspectToken parses the token claims without verifying the signature. The
// provider remains the authority; this only surfaces obvious mistakes early.
func InspectToken(token string, now time.Time) (TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var info TokenInfo
	if channel, ok := claims["channel"].(string); ok {
		info.Channel = channel
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return info, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if exp != nil {
		info.ExpiresAt = exp.Time
		if exp.Before(now) {
			return info, ErrTokenExpired
		}
	}
	return info, nil
}
