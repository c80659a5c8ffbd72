package http

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"rxgateway/internal/platform/middleware"
)

// HSValidator validates pharmacy partner tokens signed with a shared HS256
// key. Tokens must carry a subject (the partner ID) and may carry a scope.
type HSValidator struct {
	key []byte
}

// NewHSValidator builds a validator over the shared key.
func NewHSValidator(key string) *HSValidator {
	return &HSValidator{key: []byte(key)}
}

type pharmacyClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// ValidateToken implements middleware.JWTValidator.
func (v *HSValidator) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	var claims pharmacyClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token invalid")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	return &middleware.JWTClaims{
		PartnerID: claims.Subject,
		Scope:     claims.Scope,
	}, nil
}
