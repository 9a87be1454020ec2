package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/docstack-rag/models"
)

// Claims represents JWT token claims
type Claims struct {
	Sub               string      `json:"sub"`
	Iss               string      `json:"iss"`
	Exp               int64       `json:"exp"`
	Iat               int64       `json:"iat"`
	Email             string      `json:"email"`
	PreferredUsername string      `json:"preferred_username"`
	Name              string      `json:"name"`
	RealmAccess       RealmAccess `json:"realm_access"`
	Groups            []string    `json:"groups"`
	jwt.RegisteredClaims
}

// RealmAccess represents realm access information
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// JWTValidator handles JWT token validation
type JWTValidator struct {
	secret         []byte
	allowedIssuers []string
}

// NewJWTValidator creates a new JWT validator
func NewJWTValidator(secret string, allowedIssuers []string) *JWTValidator {
	return &JWTValidator{
		secret:         []byte(secret),
		allowedIssuers: allowedIssuers,
	}
}

// ValidateToken validates a JWT token string and returns claims
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	// Remove Bearer prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if claims.Exp > 0 && time.Now().Unix() > claims.Exp {
		return nil, errors.New("token has expired")
	}

	if len(v.allowedIssuers) > 0 {
		validIssuer := false
		for _, allowedIss := range v.allowedIssuers {
			if claims.Iss == allowedIss {
				validIssuer = true
				break
			}
		}
		if !validIssuer {
			return nil, fmt.Errorf("invalid issuer: %s", claims.Iss)
		}
	}

	return claims, nil
}

// ExtractActor resolves the request actor from JWT claims. The global role
// comes from the realm roles: anyone carrying "admin" is an admin, everyone
// else is an employee.
func (v *JWTValidator) ExtractActor(claims *Claims) models.Actor {
	role := models.RoleEmployee
	for _, r := range claims.RealmAccess.Roles {
		if r == string(models.RoleAdmin) {
			role = models.RoleAdmin
			break
		}
	}
	return models.Actor{
		UserID: claims.Sub,
		Role:   role,
	}
}
