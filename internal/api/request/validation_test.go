package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BardiaPzK/ribooster/internal/model"
)

func TestDecode_StartBackup(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"project_id":"1001","include_resources":false}`))

	var req StartBackup
	require.NoError(t, Decode(r, &req))
	assert.Equal(t, "1001", req.ProjectID)
	assert.Equal(t, model.BackupOptions{
		IncludeEstimates:  true,
		IncludeLineItems:  true,
		IncludeResources:  false,
		IncludeActivities: true,
	}, req.Options())
}

func TestDecode_MissingProjectID(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"include_estimates":true}`))

	var req StartBackup
	err := Decode(r, &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation error")
	assert.Contains(t, err.Error(), "ProjectID")
}

func TestDecode_NonNumericProjectID(t *testing.T) {
	for _, id := range []string{"P-1", " 1001", "-5", "1.5", "1234567890123456789"} {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"project_id":"`+id+`"}`))

		var req StartBackup
		err := Decode(r, &req)
		require.Error(t, err, id)
		assert.Contains(t, err.Error(), "ProjectID", id)
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{`))

	var req StartBackup
	err := Decode(r, &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestDecode_BodyTooLarge(t *testing.T) {
	body := `{"project_id":"1","project_name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	r := httptest.NewRequest("POST", "/", strings.NewReader(body))

	var req StartBackup
	assert.Error(t, Decode(r, &req))
}

func TestRequireJobID(t *testing.T) {
	id, err := RequireJobID("job_abc123def4")
	require.NoError(t, err)
	assert.Equal(t, "job_abc123def4", id)

	for _, bad := range []string{"", "job_", "job_ABC123DEF4", "abc", "job_abc123def45", "../job_abc123def4"} {
		_, err := RequireJobID(bad)
		assert.Error(t, err, bad)
	}
}
