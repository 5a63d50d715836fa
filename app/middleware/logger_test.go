package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func newLoggedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Logger())
	router.GET("/api/training/status", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/api/training/progress-stream", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/api/training/progress-ws", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestLogger_WritesAccessLine(t *testing.T) {
	router := newLoggedRouter()

	out := captureStdout(t, func() {
		req := httptest.NewRequest(http.MethodGet, "/api/training/status", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	})

	assert.Contains(t, out, "[GIN]")
	assert.Contains(t, out, "/api/training/status")
}

func TestLogger_SkipsStreamRoutes(t *testing.T) {
	router := newLoggedRouter()

	for _, path := range []string{
		"/api/training/progress-stream?jobId=job-1",
		"/api/training/progress-ws?jobId=job-1",
	} {
		out := captureStdout(t, func() {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
		})
		assert.Empty(t, strings.TrimSpace(out), "stream route %s must not produce an access line", path)
	}
}

func TestCompressBody_TruncatesLongPayloads(t *testing.T) {
	body := `{"data": "` + strings.Repeat("x", 2000) + `"}`

	compressed := CompressBody(body)
	assert.True(t, strings.HasSuffix(compressed, "..."))
	assert.LessOrEqual(t, len(compressed), 1003)

	assert.Equal(t, `{"a":1}`, CompressBody(`{ "a": 1 }`))
	assert.Empty(t, CompressBody(""))
}
