package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkfinops/bi-recon-engine/internal/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	root := t.TempDir()
	cfg := &config.Config{
		InputDir:  filepath.Join(root, "in"),
		OutputDir: filepath.Join(root, "out"),
		WorkDir:   filepath.Join(root, "work"),
	}
	s := New(cfg, log)
	require.NoError(t, s.fm.EnsureDirectories())
	return s
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body["session_id"])
	return body["session_id"]
}

func uploadFile(t *testing.T, r http.Handler, session, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSessionLifecycle(t *testing.T) {
	s := testServer(t)
	r := s.Router()

	id := createSession(t, r)

	w := uploadFile(t, r, id, "Sales_CH01_1001_09_2025.xlsx", "not really a workbook")
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/files", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Uploads []string `json:"uploads"`
		Outputs []string `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, []string{"Sales_CH01_1001_09_2025.xlsx"}, listing.Uploads)
	assert.Empty(t, listing.Outputs)
}

func TestUnknownSessionIs404(t *testing.T) {
	s := testServer(t)
	r := s.Router()

	for _, path := range []string{
		"/sessions/ghost/files",
		"/sessions/ghost/archive",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.NotEmpty(t, body["error"], "errors are JSON bodies")
	}
}

func TestUploadWithoutFilesIsRejected(t *testing.T) {
	s := testServer(t)
	r := s.Router()
	id := createSession(t, r)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("unrelated", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadMissingArtifact(t *testing.T) {
	s := testServer(t)
	r := s.Router()
	id := createSession(t, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/files/nope.csv", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestArchiveZipsOutputs(t *testing.T) {
	s := testServer(t)
	r := s.Router()
	id := createSession(t, r)

	sess, err := s.fm.OpenSession(id)
	require.NoError(t, err)
	require.NoError(t, writeFile(filepath.Join(sess.OutputDir, "artifact.csv"), "a,b\n1,2\n"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/archive", nil))
	require.Equal(t, http.StatusOK, w.Code)

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "artifact.csv", zr.File[0].Name)
}

func TestUnknownPipelineIs404(t *testing.T) {
	s := testServer(t)
	r := s.Router()
	id := createSession(t, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/clean/payroll", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryPeriodValidation(t *testing.T) {
	s := testServer(t)
	r := s.Router()
	id := createSession(t, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/clean/vendor?month=13&year=2025", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/clean/vendor?month=9", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code, "the year is required too")
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
