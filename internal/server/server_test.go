package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"vector-search/internal/config"
	"vector-search/internal/models"
)

type fakeService struct {
	err      error
	report   models.IngestionReport
	lastTopK int
	lastFile string
	lastData []byte
}

func (f *fakeService) Ingest(_ context.Context, data []byte, filename string) (models.IngestionReport, error) {
	f.lastFile, f.lastData = filename, data
	if f.err != nil {
		return f.report, f.err
	}
	return models.IngestionReport{Filename: filename, ChunksTotal: 2, ChunksStored: 2, Errors: []models.ChunkError{}}, nil
}

func (f *fakeService) Search(_ context.Context, text string, topK int) ([]models.Match, error) {
	f.lastTopK = topK
	if strings.TrimSpace(text) == "" {
		return nil, models.ErrEmptyQuery
	}
	if f.err != nil {
		return nil, f.err
	}
	return []models.Match{{
		ID:    "guide_1_1",
		Score: 0.9,
		Metadata: models.Metadata{
			TextPreview:    "Vector databases",
			SourceFilename: "guide.pdf",
			PageNumber:     1,
			ChunkIndex:     1,
		},
	}}, nil
}

func (f *fakeService) AddQuery(_ context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", models.ErrEmptyQuery
	}
	return "abc123", f.err
}

func (f *fakeService) Stats(context.Context) (models.Stats, error) {
	return models.Stats{Backend: "chromem", IndexName: "project", TotalItemCount: 3, Dimension: 4, Metric: "cosine"}, f.err
}

func (f *fakeService) Items(context.Context) ([]models.Item, error) {
	return []models.Item{{ID: "a", Vector: []float32{1, 0}, Metadata: models.Metadata{TextPreview: "alpha"}}}, f.err
}

func setupTestServer(t *testing.T, svc Service) *Server {
	t.Helper()
	cfg := config.Default().Server
	return New(svc, cfg, zerolog.Nop())
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleHealth(t *testing.T) {
	s := setupTestServer(t, &fakeService{})
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestHandleSearch(t *testing.T) {
	t.Run("returns formatted results", func(t *testing.T) {
		svc := &fakeService{}
		s := setupTestServer(t, svc)

		rec := doJSON(t, s, http.MethodPost, "/search", map[string]any{"query": "vectors", "top_k": 3})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 3, svc.lastTopK)

		var resp struct {
			Success bool           `json:"success"`
			Results []SearchResult `json:"results"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "guide_1_1", resp.Results[0].ID)
		assert.Equal(t, "Vector databases", resp.Results[0].Text)
		assert.Equal(t, "guide.pdf", resp.Results[0].SourceFilename)
	})

	t.Run("defaults and caps top_k", func(t *testing.T) {
		svc := &fakeService{}
		s := setupTestServer(t, svc)

		doJSON(t, s, http.MethodPost, "/search", map[string]any{"query": "vectors"})
		assert.Equal(t, 5, svc.lastTopK)

		doJSON(t, s, http.MethodPost, "/search", map[string]any{"query": "vectors", "top_k": 10000})
		assert.Equal(t, 100, svc.lastTopK)
	})

	t.Run("empty query is a bad request", func(t *testing.T) {
		s := setupTestServer(t, &fakeService{})
		rec := doJSON(t, s, http.MethodPost, "/search", map[string]any{"query": "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, models.ErrEmptyQuery.Error(), body["detail"])
	})

	t.Run("malformed body", func(t *testing.T) {
		s := setupTestServer(t, &fakeService{})
		req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{models.ErrEmptyQuery, http.StatusBadRequest},
		{models.ErrInvalidTopK, http.StatusBadRequest},
		{fmt.Errorf("%w: bad pdf", models.ErrExtraction), http.StatusUnprocessableEntity},
		{models.ErrEmptyDocument, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: got 3, want 4", models.ErrDimensionMismatch), http.StatusInternalServerError},
		{fmt.Errorf("%w: timeout", models.ErrEmbedding), http.StatusBadGateway},
		{models.Unavailable("query", context.DeadlineExceeded), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, StatusFor(tt.err))

			s := setupTestServer(t, &fakeService{err: tt.err})
			rec := doJSON(t, s, http.MethodPost, "/search", map[string]any{"query": "q"})
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestHandleAdd(t *testing.T) {
	s := setupTestServer(t, &fakeService{})

	rec := doJSON(t, s, http.MethodPost, "/add", map[string]any{"query": "what is rag"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "abc123", body["id"])
	assert.Equal(t, "Query added successfully", body["message"])

	rec = doJSON(t, s, http.MethodPost, "/add", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStats(t *testing.T) {
	s := setupTestServer(t, &fakeService{})
	rec := doJSON(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool         `json:"success"`
		Stats   models.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Stats.TotalItemCount)
	assert.Equal(t, "chromem", resp.Stats.Backend)
}

func TestHandleUpload(t *testing.T) {
	svc := &fakeService{}
	s := setupTestServer(t, svc)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "../../notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "notes.txt", svc.lastFile)
	assert.Equal(t, []byte("hello"), svc.lastData)

	var resp struct {
		Success bool                   `json:"success"`
		Report  models.IngestionReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Report.ChunksStored)
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleUploadAbortedKeepsReport(t *testing.T) {
	svc := &fakeService{
		err: fmt.Errorf("%w: vector has 5 values, want 4", models.ErrDimensionMismatch),
		report: models.IngestionReport{
			Filename:      "big.txt",
			ChunksTotal:   3,
			ChunksStored:  1,
			ChunksSkipped: 1,
			Errors:        []models.ChunkError{{ChunkRef: "big_1_2", Reason: "dimension mismatch"}},
		},
	}
	s := setupTestServer(t, svc)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "big.txt", []byte("hello")))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Detail, "dimension mismatch")
	require.NotNil(t, resp.Report)
	assert.Equal(t, 1, resp.Report.ChunksStored)
	assert.Equal(t, 1, resp.Report.ChunksSkipped)
	assert.Equal(t, "big_1_2", resp.Report.Errors[0].ChunkRef)
}

func TestHandleUploadRejectedHasNoReport(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("%w: broken.pdf", models.ErrExtraction)}
	s := setupTestServer(t, svc)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "broken.pdf", []byte("junk")))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Report)
}

func TestHandleUploadWithoutFile(t *testing.T) {
	s := setupTestServer(t, &fakeService{})
	rec := doJSON(t, s, http.MethodPost, "/documents", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExport(t *testing.T) {
	s := setupTestServer(t, &fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("items")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t, &fakeService{})
	doJSON(t, s, http.MethodPost, "/search", map[string]any{"query": "q"})

	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStaticFrontend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>search</h1>"), 0o644))

	cfg := config.Default().Server
	cfg.StaticDir = dir
	s := New(&fakeService{}, cfg, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "search")
}
