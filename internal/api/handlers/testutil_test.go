package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeSessions keeps the face id in memory instead of a signed cookie.
type fakeSessions struct {
	faceID  string
	issued  string
	cleared bool
}

func (s *fakeSessions) FaceID(*gin.Context) string { return s.faceID }

func (s *fakeSessions) Issue(_ *gin.Context, faceID string) (time.Time, error) {
	s.issued = faceID
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

func (s *fakeSessions) Clear(*gin.Context) { s.cleared = true }

func serve(r *gin.Engine, method, path string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func parseJSONResponse(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

var jsonHeader = map[string]string{"Content-Type": "application/json"}

func assertStatusCode(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, "body: %s", w.Body.String())
}

