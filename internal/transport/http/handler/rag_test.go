package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-legal/internal/ai"
	"gopherai-legal/internal/app"
	"gopherai-legal/internal/pkg/docextract/docxtest"
	"gopherai-legal/internal/rag"
	"gopherai-legal/internal/session"
	"gopherai-legal/internal/transport/http/response"
)

type apiReply struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type upload struct {
	name string
	data []byte
}

func newTestRouter(t *testing.T, limits UploadLimits) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := session.NewStore(ai.NewHashingEmbedder(256), nil, session.Config{
		Chunk: rag.ChunkConfig{Size: 120, Overlap: 20},
	}, nil)
	require.NoError(t, err)
	h := NewRAGHandler(app.NewRAGService(store, app.RAGServiceDeps{}, app.RAGServiceConfig{TopK: 3}), limits)

	r := gin.New()
	r.POST("/documents", h.UploadToNewSession)
	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.DELETE("/sessions/:id", h.DeleteSession)
	r.POST("/sessions/:id/documents", h.UploadDocuments)
	r.GET("/sessions/:id/documents", h.ListDocuments)
	r.POST("/sessions/:id/query", h.Query)
	r.POST("/sessions/:id/ask", h.Ask)
	r.POST("/sessions/:id/analyze", h.Analyze)
	r.GET("/sessions/:id/risks", h.Risks)
	return r
}

func do(t *testing.T, r *gin.Engine, req *http.Request) (int, apiReply) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var reply apiReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply), w.Body.String())
	return w.Code, reply
}

func multipartRequest(t *testing.T, path string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadLease(t *testing.T, r *gin.Engine) string {
	t.Helper()
	doc := docxtest.Build(t,
		"Rent is due on the 1st of each month. A $50 late fee applies after 3 days.",
		"This agreement shall automatically renew for another year unless cancelled.")
	status, reply := do(t, r, multipartRequest(t, "/documents", upload{"lease.docx", doc}))
	require.Equal(t, http.StatusOK, status, reply.Message)

	var res app.IngestResult
	require.NoError(t, json.Unmarshal(reply.Data, &res))
	require.NotEmpty(t, res.SessionID)
	assert.Positive(t, res.ChunksAdded)
	return res.SessionID
}

func TestUploadThenQuery(t *testing.T) {
	r := newTestRouter(t, UploadLimits{})
	id := uploadLease(t, r)

	status, reply := do(t, r, jsonRequest(http.MethodPost, "/sessions/"+id+"/query", `{"question":"late fee","top_k":1}`))
	require.Equal(t, http.StatusOK, status)
	var res app.QueryResult
	require.NoError(t, json.Unmarshal(reply.Data, &res))
	require.Len(t, res.Results, 1)
	assert.Contains(t, res.Results[0].Chunk.Text, "$50 late fee")
	assert.Equal(t, 1, res.Results[0].Chunk.SourcePage)

	status, reply = do(t, r, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/documents", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(reply.Data), "lease.docx")
}

func TestErrorKindsMapToStatus(t *testing.T) {
	r := newTestRouter(t, UploadLimits{})
	id := uploadLease(t, r)

	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   int
	}{
		{
			name:   "unsupported format",
			req:    multipartRequest(t, "/documents", upload{"notes.txt", []byte("hello")}),
			status: http.StatusBadRequest,
			code:   response.CodeUnsupportedFile,
		},
		{
			name:   "unreadable docx",
			req:    multipartRequest(t, "/sessions/"+id+"/documents", upload{"broken.docx", []byte("not a zip")}),
			status: http.StatusUnprocessableEntity,
			code:   response.CodeUnreadableFile,
		},
		{
			name:   "unknown session",
			req:    jsonRequest(http.MethodPost, "/sessions/nope/query", `{"question":"rent"}`),
			status: http.StatusNotFound,
			code:   response.CodeSessionNotFound,
		},
		{
			name:   "blank question",
			req:    jsonRequest(http.MethodPost, "/sessions/"+id+"/query", `{"question":"   "}`),
			status: http.StatusBadRequest,
			code:   response.CodeBadRequest,
		},
		{
			name:   "missing question",
			req:    jsonRequest(http.MethodPost, "/sessions/"+id+"/query", `{}`),
			status: http.StatusBadRequest,
			code:   response.CodeBadRequest,
		},
		{
			name:   "generation unavailable",
			req:    jsonRequest(http.MethodPost, "/sessions/"+id+"/ask", `{"question":"when is rent due?"}`),
			status: http.StatusServiceUnavailable,
			code:   response.CodeServiceUnavail,
		},
		{
			name:   "unknown analysis type",
			req:    jsonRequest(http.MethodPost, "/sessions/"+id+"/analyze", `{"question":"rent","analysis_type":"summary"}`),
			status: http.StatusBadRequest,
			code:   response.CodeBadRequest,
		},
		{
			name:   "missing file part",
			req:    multipartRequest(t, "/documents"),
			status: http.StatusBadRequest,
			code:   response.CodeBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reply := do(t, r, tt.req)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, reply.Code)
			assert.NotEmpty(t, reply.Message)
		})
	}
}

func TestFailedUploadToNewSessionLeavesNoSession(t *testing.T) {
	r := newTestRouter(t, UploadLimits{})

	status, _ := do(t, r, multipartRequest(t, "/documents", upload{"broken.pdf", []byte("%PDF-garbage")}))
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, reply := do(t, r, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(reply.Data))
}

func TestUploadLimits(t *testing.T) {
	r := newTestRouter(t, UploadLimits{MaxFileBytes: 64, MaxFiles: 1})
	small := upload{"a.docx", []byte("x")}

	status, reply := do(t, r, multipartRequest(t, "/documents", small, small))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, reply.Message, "too many files")

	status, reply = do(t, r, multipartRequest(t, "/documents", upload{"big.docx", bytes.Repeat([]byte("x"), 65)}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, response.CodePayloadTooLarge, reply.Code)
}

func TestSessionLifecycle(t *testing.T) {
	r := newTestRouter(t, UploadLimits{})

	status, reply := do(t, r, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	require.Equal(t, http.StatusOK, status)
	var info session.Info
	require.NoError(t, json.Unmarshal(reply.Data, &info))
	require.NotEmpty(t, info.ID)

	status, reply = do(t, r, httptest.NewRequest(http.MethodGet, "/sessions/"+info.ID+"/risks", nil))
	assert.Equal(t, http.StatusNotFound, status, reply.Message)

	status, _ = do(t, r, httptest.NewRequest(http.MethodDelete, "/sessions/"+info.ID, nil))
	require.Equal(t, http.StatusOK, status)

	status, reply = do(t, r, httptest.NewRequest(http.MethodDelete, "/sessions/"+info.ID, nil))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.CodeSessionNotFound, reply.Code)
}

func TestRisks(t *testing.T) {
	r := newTestRouter(t, UploadLimits{})
	id := uploadLease(t, r)

	status, reply := do(t, r, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/risks", nil))
	require.Equal(t, http.StatusOK, status)
	var report app.RiskReport
	require.NoError(t, json.Unmarshal(reply.Data, &report))
	assert.NotEmpty(t, report.Findings)
	assert.Equal(t, len(report.Findings), report.Summary.TotalRisks)
}

func TestAnalyzeRisk(t *testing.T) {
	r := newTestRouter(t, UploadLimits{})
	id := uploadLease(t, r)

	status, reply := do(t, r, jsonRequest(http.MethodPost, "/sessions/"+id+"/analyze", `{"question":"late fee","analysis_type":"risk"}`))
	require.Equal(t, http.StatusOK, status, reply.Message)
	var res app.AnalyzeResult
	require.NoError(t, json.Unmarshal(reply.Data, &res))
	assert.Equal(t, app.AnalysisRisk, res.AnalysisType)
	assert.NotEmpty(t, res.Retrieved)
	require.NotNil(t, res.RiskSummary)
	assert.Equal(t, len(res.Risks), res.RiskSummary.TotalRisks)
	assert.Nil(t, res.QA)
}

func TestWriteErrorDimensionMismatchIsServerError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeError(c, fmt.Errorf("restore s1: %w", rag.ErrDimensionMismatch), "query failed")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var reply apiReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, response.CodeIndexMismatch, reply.Code)
}
