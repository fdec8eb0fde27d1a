package rib

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BardiaPzK/ribooster/internal/core"
	"github.com/BardiaPzK/ribooster/internal/model"
)

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("upstream-secret"))
	require.NoError(t, err)
	return tok
}

// fakeRIB serves the logon and role endpoints plus whatever handlers a test
// registers.
type fakeRIB struct {
	*http.ServeMux
	token  string
	logons atomic.Int32
}

func newFakeRIB(t *testing.T) *fakeRIB {
	f := &fakeRIB{ServeMux: http.NewServeMux(), token: signToken(t, time.Now().Add(time.Hour))}
	f.HandleFunc("POST /"+logonPath, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "alice" || body["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.logons.Add(1)
		fmt.Fprintf(w, "%q", f.token)
	})
	f.HandleFunc("GET /"+companyCodePath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("requestedSignedInCompanyCode") != "xx-100" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"secureClientRolePart":"role-1"}`)
	})
	return f
}

func newTestClient(srv *httptest.Server, pageSize int) *Client {
	return NewClient(Config{
		Host:     srv.URL + "/",
		Company:  "xx-100",
		Username: "alice",
		Password: "pw",
		PageSize: pageSize,
	}, zerolog.Nop())
}

func records(n, offset int) string {
	out := make([]map[string]int, n)
	for i := range out {
		out[i] = map[string]int{"Id": offset + i}
	}
	b, _ := json.Marshal(map[string]any{"value": out})
	return string(b)
}

func TestClient_ListProjectsPagesAndSendsHeaders(t *testing.T) {
	f := newFakeRIB(t)
	f.HandleFunc("GET /"+projectPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+f.token, r.Header.Get("Authorization"))
		var cc clientContext
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Client-Context")), &cc))
		assert.Equal(t, "role-1", cc.SecureClientRole)
		assert.Equal(t, "Id,ProjectName", r.URL.Query().Get("$select"))

		switch r.URL.Query().Get("$skip") {
		case "0":
			fmt.Fprint(w, `{"value":[{"Id":1,"ProjectName":"Alpha"},{"Id":2,"ProjectName":"Beta"}]}`)
		default:
			fmt.Fprint(w, `[{"Id":3,"ProjectName":"Gamma"}]`)
		}
	})
	srv := httptest.NewServer(f)
	defer srv.Close()

	projects, err := newTestClient(srv, 2).ListProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Project{{ID: "1", Name: "Alpha"}, {ID: "2", Name: "Beta"}, {ID: "3", Name: "Gamma"}}, projects)
	assert.Equal(t, int32(1), f.logons.Load())
}

func TestClient_FetchModuleFlatPaging(t *testing.T) {
	f := newFakeRIB(t)
	f.HandleFunc("GET /"+activityPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ProjectId eq 42", r.URL.Query().Get("$filter"))
		skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))
		if skip == 0 {
			fmt.Fprint(w, records(3, 0))
			return
		}
		fmt.Fprint(w, records(1, skip))
	})
	srv := httptest.NewServer(f)
	defer srv.Close()
	c := newTestClient(srv, 3)
	ctx := context.Background()

	page, err := c.FetchModule(ctx, "42", model.ModuleActivities, "")
	require.NoError(t, err)
	assert.Len(t, page.Records, 3)
	assert.Equal(t, "3", page.NextToken)

	page, err = c.FetchModule(ctx, "42", model.ModuleActivities, page.NextToken)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Empty(t, page.NextToken)
}

func TestClient_FetchModulePerHeader(t *testing.T) {
	f := newFakeRIB(t)
	var headerCalls atomic.Int32
	f.HandleFunc("GET /"+estHeaderPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skip") != "0" {
			fmt.Fprint(w, `[]`)
			return
		}
		headerCalls.Add(1)
		fmt.Fprint(w, `[{"Id":10},{"Id":20}]`)
	})
	f.HandleFunc("GET /"+lineItemPath, func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))
		switch r.URL.Query().Get("$filter") {
		case "EstHeaderId eq 10":
			if skip == 0 {
				fmt.Fprint(w, records(2, 0))
			} else {
				fmt.Fprint(w, records(0, 0))
			}
		case "EstHeaderId eq 20":
			fmt.Fprint(w, records(1, 100))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	srv := httptest.NewServer(f)
	defer srv.Close()
	c := newTestClient(srv, 2)
	ctx := context.Background()

	var tokens []string
	total := 0
	token := ""
	for {
		page, err := c.FetchModule(ctx, "7", model.ModuleLineItems, token)
		require.NoError(t, err)
		total += len(page.Records)
		if page.NextToken == "" {
			break
		}
		tokens = append(tokens, page.NextToken)
		token = page.NextToken
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"2:10,20", "0:20"}, tokens)
	assert.Equal(t, int32(1), headerCalls.Load(), "headers are listed once per module")
}

func TestClient_FetchModuleRejectsBadInput(t *testing.T) {
	c := NewClient(Config{Host: "http://127.0.0.1:1", Token: "a.b.c", SecureClientRole: "r"}, zerolog.Nop())
	ctx := context.Background()

	_, err := c.FetchModule(ctx, "P-1", model.ModuleEstimates, "")
	assert.Error(t, err)
	_, err = c.FetchModule(ctx, "1", model.Module("boq"), "")
	assert.Error(t, err)
	for _, token := range []string{"garbage", "0:", "-1:10", "0:10,x", "0:10 or 1 eq 1"} {
		_, err = c.FetchModule(ctx, "1", model.ModuleLineItems, token)
		assert.Error(t, err, token)
	}
}

func TestClient_ServerErrorsAreTransient(t *testing.T) {
	f := newFakeRIB(t)
	f.HandleFunc("GET /"+estHeaderPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	})
	f.HandleFunc("GET /"+activityPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := httptest.NewServer(f)
	defer srv.Close()
	c := newTestClient(srv, 10)
	ctx := context.Background()

	_, err := c.FetchModule(ctx, "1", model.ModuleEstimates, "")
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Body)

	_, err = c.FetchModule(ctx, "1", model.ModuleActivities, "")
	require.Error(t, err)
	assert.False(t, core.IsTransient(err))
}

func TestClient_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(Config{Host: srv.URL, Token: "a.b.c", SecureClientRole: "r", Timeout: time.Second}, zerolog.Nop())
	_, err := c.FetchModule(context.Background(), "1", model.ModuleEstimates, "")
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
}

func TestClient_ReloginAfterUnauthorized(t *testing.T) {
	f := newFakeRIB(t)
	var calls atomic.Int32
	f.HandleFunc("GET /"+activityPath, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `[]`)
	})
	srv := httptest.NewServer(f)
	defer srv.Close()

	_, err := newTestClient(srv, 10).FetchModule(context.Background(), "1", model.ModuleActivities, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.logons.Load())
}

func TestClient_RefreshesBeforeExpiry(t *testing.T) {
	f := newFakeRIB(t)
	f.token = signToken(t, time.Now().Add(30*time.Second))
	f.HandleFunc("GET /"+activityPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	srv := httptest.NewServer(f)
	defer srv.Close()
	c := newTestClient(srv, 10)
	ctx := context.Background()

	_, err := c.FetchModule(ctx, "1", model.ModuleActivities, "")
	require.NoError(t, err)
	_, err = c.FetchModule(ctx, "1", model.ModuleActivities, "")
	require.NoError(t, err)
	// The token expires within the refresh window, so every call logs in.
	assert.Equal(t, int32(2), f.logons.Load())
}

func TestClient_NoCredentials(t *testing.T) {
	c := NewClient(Config{Host: "http://127.0.0.1:1"}, zerolog.Nop())
	_, err := c.ListProjects(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token and no credentials")
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	assert.True(t, tokenExpiry(signToken(t, exp)).Equal(exp))

	before := time.Now()
	got := tokenExpiry("not-a-jwt")
	assert.WithinDuration(t, before.Add(fallbackTTL), got, 5*time.Second)
}

func TestDecodeRecords(t *testing.T) {
	recs, err := decodeRecords([]byte(`{"value":[{"a":1},{"a":2}]}`))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = decodeRecords([]byte(` [{"a":1}] `))
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = decodeRecords([]byte(`{"value":"nope"}`))
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = decodeRecords([]byte(`[{`))
	assert.Error(t, err)
}
