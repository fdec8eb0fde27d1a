package rib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	logonPath       = "basics/api/2.0/logon"
	companyCodePath = "basics/publicapi/company/1.0/checkcompanycode"

	// refreshBefore is how long before expiry a token is replaced.
	refreshBefore = 60 * time.Second
	// fallbackTTL applies when a token carries no readable exp claim.
	fallbackTTL = time.Hour
)

var nowFunc = time.Now

func (c *Client) canLogin() bool {
	return c.cfg.Username != "" && c.cfg.Password != "" && c.cfg.Company != ""
}

func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expires = time.Time{}
	if c.cfg.SecureClientRole == "" {
		c.role = ""
	}
}

// session returns a usable token and client role, logging in when the cached
// token is missing or about to expire.
func (c *Client) session(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := c.token != "" && nowFunc().Add(refreshBefore).Before(c.expires)
	if !fresh && c.canLogin() {
		token, err := c.logon(ctx)
		if err != nil {
			return "", "", err
		}
		c.token = token
		c.expires = tokenExpiry(token)
		if c.cfg.SecureClientRole == "" {
			c.role = ""
		}
		c.logger.Info().Time("expires", c.expires).Msg("logged in to RIB")
	}
	if c.token == "" {
		return "", "", fmt.Errorf("RIB session: no token and no credentials configured")
	}

	if c.role == "" {
		role, err := c.fetchRole(ctx, c.token)
		if err != nil {
			return "", "", err
		}
		c.role = role
	}
	return c.token, c.role, nil
}

func (c *Client) logon(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal logon: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+"/"+logonPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, req, logonPath)
	if err != nil {
		return "", fmt.Errorf("RIB login: %w", err)
	}

	token := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if strings.Count(token, ".") != 2 {
		return "", fmt.Errorf("RIB login: response is not a JWT")
	}
	return token, nil
}

func (c *Client) fetchRole(ctx context.Context, token string) (string, error) {
	q := url.Values{}
	q.Set("requestedSignedInCompanyCode", c.cfg.Company)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/"+companyCodePath+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, req, companyCodePath)
	if err != nil {
		return "", fmt.Errorf("lookup client role: %w", err)
	}
	var resp struct {
		SecureClientRolePart string `json:"secureClientRolePart"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode client role: %w", err)
	}
	if resp.SecureClientRolePart == "" {
		return "", fmt.Errorf("lookup client role: secureClientRolePart missing in response")
	}
	return resp.SecureClientRolePart, nil
}

// tokenExpiry reads the exp claim without verifying the signature.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return nowFunc().Add(fallbackTTL)
}
