package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BardiaPzK/ribooster/internal/model"
)

// AuthService issues and verifies HS256 portal tokens. Interactive login is
// handled outside this service.
type AuthService struct {
	secret []byte
	issuer string
}

func NewAuthService(secret, issuer string) *AuthService {
	return &AuthService{secret: []byte(secret), issuer: issuer}
}

// IssueToken signs a token for scope valid for ttl.
func (s *AuthService) IssueToken(scope model.Scope, ttl time.Duration) (string, error) {
	if err := validateScope(scope); err != nil {
		return "", err
	}
	now := nowFunc()
	claims := model.JWTClaims{
		OrgID:     scope.OrgID,
		CompanyID: scope.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   scope.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies the signature, issuer and expiry and requires a
// complete tenancy scope.
func (s *AuthService) ValidateToken(token string) (*model.JWTClaims, error) {
	var claims model.JWTClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(nowFunc),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("token expired")
		}
		return nil, fmt.Errorf("invalid token")
	}
	if claims.OrgID == "" || claims.CompanyID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("token is missing tenancy claims")
	}
	return &claims, nil
}
