package model

import "github.com/golang-jwt/jwt/v5"

// JWTClaims is the payload of a portal session token. The subject is the
// user id.
type JWTClaims struct {
	OrgID     string `json:"org_id"`
	CompanyID string `json:"company_id"`
	jwt.RegisteredClaims
}

// Scope returns the tenancy scope carried by the token.
func (c *JWTClaims) Scope() Scope {
	return Scope{OrgID: c.OrgID, CompanyID: c.CompanyID, UserID: c.Subject}
}
