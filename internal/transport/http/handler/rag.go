package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gopherai-legal/internal/app"
	"gopherai-legal/internal/pkg/docextract"
	"gopherai-legal/internal/rag"
	"gopherai-legal/internal/transport/http/response"
)

type UploadLimits struct {
	MaxFileBytes int64
	MaxFiles     int
}

type RAGHandler struct {
	ragService *app.RAGService
	limits     UploadLimits
}

type QueryRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"top_k" binding:"gte=0"`
}

func NewRAGHandler(ragService *app.RAGService, limits UploadLimits) *RAGHandler {
	return &RAGHandler{ragService: ragService, limits: limits}
}

func (h *RAGHandler) CreateSession(c *gin.Context) {
	response.OK(c, h.ragService.CreateSession())
}

func (h *RAGHandler) ListSessions(c *gin.Context) {
	response.OK(c, h.ragService.ListSessions())
}

func (h *RAGHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.ragService.DeleteSession(c.Request.Context(), sessionID); err != nil {
		writeError(c, err, "delete session failed")
		return
	}
	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

// UploadDocuments ingests every "file" part into the session named in the path.
func (h *RAGHandler) UploadDocuments(c *gin.Context) {
	h.upload(c, c.Param("id"))
}

// UploadToNewSession ingests every "file" part into a freshly created session.
func (h *RAGHandler) UploadToNewSession(c *gin.Context) {
	h.upload(c, "")
}

func (h *RAGHandler) upload(c *gin.Context, sessionID string) {
	docs, ok := h.readDocuments(c)
	if !ok {
		return
	}
	result, err := h.ragService.IngestBatch(c.Request.Context(), sessionID, docs)
	if err != nil {
		writeError(c, err, "ingest failed")
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) readDocuments(c *gin.Context) ([]docextract.Document, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return nil, false
	}
	files := form.File["file"]
	if len(files) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return nil, false
	}
	if h.limits.MaxFiles > 0 && len(files) > h.limits.MaxFiles {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
			fmt.Sprintf("too many files (max %d)", h.limits.MaxFiles))
		return nil, false
	}

	var declared docextract.Format
	if raw := strings.TrimSpace(c.PostForm("format")); raw != "" {
		if declared, err = docextract.ParseFormat(raw); err != nil {
			writeError(c, err, "")
			return nil, false
		}
	}

	docs := make([]docextract.Document, 0, len(files))
	for _, file := range files {
		if h.limits.MaxFileBytes > 0 && file.Size > h.limits.MaxFileBytes {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
				fmt.Sprintf("%s is too large (max %d MB)", file.Filename, h.limits.MaxFileBytes>>20))
			return nil, false
		}
		f, err := file.Open()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
			return nil, false
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
			return nil, false
		}
		docs = append(docs, docextract.Document{Filename: file.Filename, Format: declared, Data: data})
	}
	return docs, true
}

func (h *RAGHandler) ListDocuments(c *gin.Context) {
	docs, err := h.ragService.ListDocuments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *RAGHandler) Query(c *gin.Context) {
	input, ok := bindQuery(c)
	if !ok {
		return
	}
	result, err := h.ragService.Query(c.Request.Context(), input)
	if err != nil {
		writeError(c, err, "query failed")
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) Ask(c *gin.Context) {
	input, ok := bindQuery(c)
	if !ok {
		return
	}
	result, err := h.ragService.Ask(c.Request.Context(), input)
	if err != nil {
		writeError(c, err, "ask failed")
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) Translate(c *gin.Context) {
	input, ok := bindQuery(c)
	if !ok {
		return
	}
	result, err := h.ragService.Translate(c.Request.Context(), input)
	if err != nil {
		writeError(c, err, "translate failed")
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) Risks(c *gin.Context) {
	result, err := h.ragService.Risks(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "risk analysis failed")
		return
	}
	response.OK(c, result)
}

type AnalyzeRequest struct {
	QueryRequest
	AnalysisType string `json:"analysis_type"`
}

func (h *RAGHandler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.ragService.Analyze(c.Request.Context(), app.AnalyzeInput{
		QueryInput: app.QueryInput{SessionID: c.Param("id"), Question: req.Question, TopK: req.TopK},
		Type:       app.AnalysisType(req.AnalysisType),
	})
	if err != nil {
		writeError(c, err, "analyze failed")
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) Questions(c *gin.Context) {
	result, err := h.ragService.SuggestQuestions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "suggest questions failed")
		return
	}
	response.OK(c, result)
}

func bindQuery(c *gin.Context) (app.QueryInput, bool) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return app.QueryInput{}, false
	}
	return app.QueryInput{SessionID: c.Param("id"), Question: req.Question, TopK: req.TopK}, true
}

// writeError maps an error kind to its status. fallback replaces the message of
// unclassified errors so internals are not leaked.
func writeError(c *gin.Context, err error, fallback string) {
	switch kind := rag.Kind(err); {
	case errors.Is(err, rag.ErrUnsupportedFormat):
		response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFile, err.Error())
	case errors.Is(err, rag.ErrInvalidQuery):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidQuery, err.Error())
	case errors.Is(err, rag.ErrEmptyIndex):
		response.Error(c, http.StatusBadRequest, response.CodeEmptyIndex, err.Error())
	case errors.Is(err, rag.ErrDimensionMismatch):
		// embedder and stored index disagree
		response.Error(c, http.StatusInternalServerError, response.CodeIndexMismatch, err.Error())
	case kind == rag.ErrInvalidInput:
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case kind == rag.ErrNotFound:
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case kind == rag.ErrCorrupted:
		response.Error(c, http.StatusUnprocessableEntity, response.CodeUnreadableFile, err.Error())
	case kind == rag.ErrTimeout:
		response.Error(c, http.StatusGatewayTimeout, response.CodeUpstreamTimeout, err.Error())
	case kind == rag.ErrExternalUnavailable:
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavail, err.Error())
	default:
		if fallback == "" {
			fallback = "internal error"
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
