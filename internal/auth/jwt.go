package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the claims in an Aura access token
type Claims struct {
	ClientID string `json:"client_id"`
	Role     string `json:"role"` // always "client" for now
	jwt.RegisteredClaims
}

// Authenticator issues and validates relay access tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

// ErrInvalidToken is returned when a token fails validation for any reason.
var ErrInvalidToken = errors.New("invalid or expired token")

// NewAuthenticator creates an authenticator with the given signing secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		ttl:    24 * time.Hour,
	}
}

// GenerateClientToken generates a JWT token for capture-client access
func (a *Authenticator) GenerateClientToken(clientID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(a.ttl)
	claims := &Claims{
		ClientID: clientID,
		Role:     "client",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	return signed, expiresAt, err
}

// ValidateToken validates a JWT token and returns the claims
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
