package v1alpha1_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/conceptscan/conceptscan/api/v1alpha1"
	handlers "github.com/conceptscan/conceptscan/internal/handlers/v1alpha1"
)

func healthCheck(t *testing.T, weightsPath string) api.Health {
	t.Helper()
	h := handlers.NewServiceHandler(nil, nil, nil, weightsPath)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body api.Health
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	dir := t.TempDir()

	t.Run("weights file present", func(t *testing.T) {
		path := filepath.Join(dir, "weights.pt")
		require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
		body := healthCheck(t, path)
		assert.Equal(t, "ok", body.Status)
		assert.True(t, body.WeightsReady)
	})

	t.Run("weights directory counts as ready", func(t *testing.T) {
		body := healthCheck(t, dir)
		assert.True(t, body.WeightsReady)
	})

	t.Run("missing path", func(t *testing.T) {
		body := healthCheck(t, filepath.Join(dir, "absent"))
		assert.Equal(t, "ok", body.Status)
		assert.False(t, body.WeightsReady)
	})

	t.Run("unconfigured", func(t *testing.T) {
		assert.False(t, healthCheck(t, "").WeightsReady)
	})
}
