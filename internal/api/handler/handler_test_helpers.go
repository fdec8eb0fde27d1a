package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	mw "github.com/BardiaPzK/ribooster/internal/api/middleware"
	"github.com/BardiaPzK/ribooster/internal/model"
)

// newRequest creates a new HTTP request with an optional JSON body.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParam adds a chi URL parameter to the request context.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

// withScope injects authenticated tenancy claims into the request context.
func withScope(r *http.Request, scope model.Scope) *http.Request {
	claims := &model.JWTClaims{
		OrgID:            scope.OrgID,
		CompanyID:        scope.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: scope.UserID},
	}
	return r.WithContext(mw.WithClaims(r.Context(), claims))
}

var (
	tenantA = model.Scope{OrgID: "org-1", CompanyID: "co-1", UserID: "user-1"}
	tenantB = model.Scope{OrgID: "org-2", CompanyID: "co-9", UserID: "user-7"}
)
