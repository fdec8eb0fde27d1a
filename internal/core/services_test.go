package core

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BardiaPzK/ribooster/internal/archive"
)

func TestNewServices(t *testing.T) {
	archives, err := archive.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	auth := NewAuthService(testSecret, "ribooster")

	svcs := NewServices(NewMemoryJobStore(), &recordingSubmitter{}, archives, &fakeSource{}, auth, zerolog.Nop())

	require.NotNil(t, svcs)
	assert.NotNil(t, svcs.Backup)
	assert.NotNil(t, svcs.Project)
	assert.Same(t, auth, svcs.Auth)
}
