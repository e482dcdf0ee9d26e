package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gwi.com/pdf-assistant/internal/config"
)

const (
	shareViewerAudience = "share-viewer"
	shareTokenTTL       = 2 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// GenerateShareToken issues a viewer token for an opened shared session.
// The subject is the share's public id.
func GenerateShareToken(publicID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   publicID,
		Audience:  jwt.ClaimStrings{shareViewerAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(shareTokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// ValidateShareToken checks the token and that it was issued for publicID.
func ValidateShareToken(tokenString, publicID string) error {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	}, jwt.WithAudience(shareViewerAudience), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject != publicID {
		return ErrInvalidToken
	}
	return nil
}
