// Package rib is a client for the RIB 4.0 public API. It covers the project
// list and the per-project modules exported by backups.
package rib

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultPageSize = 500

// Config holds connection settings. Either Token or the Username, Password
// and Company triple must be set.
type Config struct {
	Host             string
	Company          string
	Username         string
	Password         string
	Token            string
	SecureClientRole string
	Timeout          time.Duration
	PageSize         int
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger

	mu      sync.Mutex
	token   string
	role    string
	expires time.Time
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "rib-client").Logger(),
		role:       cfg.SecureClientRole,
	}
	if cfg.Token != "" {
		c.token = cfg.Token
		c.expires = tokenExpiry(cfg.Token)
	}
	return c
}

type clientContext struct {
	DataLanguageID   int    `json:"dataLanguageId"`
	Language         string `json:"language"`
	Culture          string `json:"culture"`
	SecureClientRole string `json:"secureClientRole"`
}

// get issues an authenticated GET and returns the raw body. A 401 drops the
// cached session and the call is retried once when credentials are available.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	body, err := c.getOnce(ctx, path, query)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized && c.canLogin() {
		c.logger.Debug().Str("path", path).Msg("session rejected, logging in again")
		c.invalidate()
		return c.getOnce(ctx, path, query)
	}
	return body, err
}

func (c *Client) getOnce(ctx context.Context, path string, query url.Values) ([]byte, error) {
	token, role, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	u := c.cfg.Host + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	cc, err := json.Marshal(clientContext{
		DataLanguageID:   1,
		Language:         "en",
		Culture:          "en-gb",
		SecureClientRole: role,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal client context: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Context", string(cc))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	return c.do(ctx, req, path)
}

func (c *Client) do(ctx context.Context, req *http.Request, path string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("RIB API %s: %w", path, ctx.Err())
		}
		return nil, &APIError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("RIB API %s: %w", path, ctx.Err())
		}
		return nil, &APIError{Path: path, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Path: path, Body: truncate(body)}
	}
	return body, nil
}

// decodeRecords accepts either an OData envelope {"value": [...]} or a bare
// array. Any other shape yields no records.
func decodeRecords(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var out []json.RawMessage
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return out, nil
	case '{':
		var env struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		if v := bytes.TrimSpace(env.Value); len(v) > 0 && v[0] == '[' {
			var out []json.RawMessage
			if err := json.Unmarshal(v, &out); err != nil {
				return nil, fmt.Errorf("decode records: %w", err)
			}
			return out, nil
		}
	}
	return nil, nil
}

func pageQuery(filter string, skip, top int) url.Values {
	q := url.Values{}
	if filter != "" {
		q.Set("$filter", filter)
	}
	q.Set("$skip", fmt.Sprint(skip))
	q.Set("$top", fmt.Sprint(top))
	return q
}
