package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/sharedstate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthzReturnsOK(t *testing.T) {
	s := New(logging.Default(), filepath.Join(t.TempDir(), "missing.json"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSnapshotReturnsPublishedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	pub := sharedstate.NewPublisher(path)
	st := sharedstate.State{}
	st.Session.WrapperPID = 777
	require.NoError(t, pub.PublishNow(st))

	s := New(logging.Default(), path)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got sharedstate.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 777, got.Session.WrapperPID)
}

func TestSnapshotMissingFileReturns503(t *testing.T) {
	s := New(logging.Default(), filepath.Join(t.TempDir(), "missing.json"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
