package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	retry "github.com/sethvargo/go-retry"

	"gopherai-legal/internal/ai"
	"gopherai-legal/internal/model"
	"gopherai-legal/internal/pkg/docextract"
	"gopherai-legal/internal/rag"
	"gopherai-legal/internal/risk"
	"gopherai-legal/internal/session"
)

const (
	defaultTopK          = 5
	defaultQuestionCount = 8
	questionChunkLimit   = 20
	questionContentRunes = 4000
)

// IngestPublisher announces ingested documents to the ledger worker.
type IngestPublisher interface {
	Publish(ctx context.Context, evt model.IngestEvent) error
}

// SessionLedger keeps one row per live session.
type SessionLedger interface {
	Create(sess *model.RAGSession) error
	DeleteByID(id string) error
}

// DocumentLedger lists and forgets the rows written by the ledger worker.
type DocumentLedger interface {
	ListBySessionID(sessionID string) ([]model.RAGDocument, error)
	DeleteBySessionID(sessionID string) error
}

type RAGServiceConfig struct {
	TopK          int
	RetryMax      int
	RetryBase     time.Duration
	QuestionCount int
}

type RAGService struct {
	store     *session.Store
	generator ai.Generator
	risks     *risk.Engine
	publisher IngestPublisher
	sessions  SessionLedger
	documents DocumentLedger
	cfg       RAGServiceConfig
	logger    *slog.Logger
}

// RAGServiceDeps groups the optional collaborators; nil fields are skipped.
type RAGServiceDeps struct {
	Generator ai.Generator
	Risks     *risk.Engine
	Publisher IngestPublisher
	Sessions  SessionLedger
	Documents DocumentLedger
	Logger    *slog.Logger
}

func NewRAGService(store *session.Store, deps RAGServiceDeps, cfg RAGServiceConfig) *RAGService {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = defaultQuestionCount
	}
	if deps.Risks == nil {
		deps.Risks = risk.NewEngine(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &RAGService{
		store:     store,
		generator: deps.Generator,
		risks:     deps.Risks,
		publisher: deps.Publisher,
		sessions:  deps.Sessions,
		documents: deps.Documents,
		cfg:       cfg,
		logger:    deps.Logger,
	}
}

// retryExternal retries fn while it fails with an unavailable external capability.
// Every other failure, timeouts included, is returned at once.
func (s *RAGService) retryExternal(ctx context.Context, op string, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(uint64(s.cfg.RetryMax), retry.NewFibonacci(s.cfg.RetryBase))
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && rag.Retryable(err) {
			s.logger.Warn("external capability unavailable, retrying", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *RAGService) CreateSession() session.Info {
	sess := s.store.Create()
	if s.sessions != nil {
		if err := s.sessions.Create(&model.RAGSession{ID: sess.ID, CreatedAt: sess.CreatedAt}); err != nil {
			s.logger.Warn("record session in ledger failed", "session_id", sess.ID, "error", err)
		}
	}
	s.logger.Info("session created", "session_id", sess.ID)
	return sess.Info()
}

// IngestInput is a single uploaded file. An empty SessionID creates a new session.
type IngestInput struct {
	SessionID string
	Filename  string
	Format    string
	Data      []byte
}

type IngestResult struct {
	SessionID   string                  `json:"session_id"`
	ChunksAdded int                     `json:"chunks_added"`
	TotalChunks int                     `json:"total_chunks"`
	Documents   []model.SessionDocument `json:"documents"`
}

func (s *RAGService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	doc := docextract.Document{Filename: strings.TrimSpace(input.Filename), Data: input.Data}
	if strings.TrimSpace(input.Format) != "" {
		format, err := docextract.ParseFormat(input.Format)
		if err != nil {
			return nil, err
		}
		doc.Format = format
	}
	return s.IngestBatch(ctx, input.SessionID, []docextract.Document{doc})
}

// IngestBatch adds every document to the session or none of them. A session created
// for this call is dropped again when the ingest fails.
func (s *RAGService) IngestBatch(ctx context.Context, sessionID string, docs []docextract.Document) (*IngestResult, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents", rag.ErrInvalidInput)
	}
	docs = slices.Clone(docs)
	for i := range docs {
		if docs[i].Filename == "" {
			docs[i].Filename = fmt.Sprintf("document-%d", i+1)
		}
	}

	created := false
	if strings.TrimSpace(sessionID) == "" {
		sessionID = s.CreateSession().ID
		created = true
	}

	var res *session.AddResult
	err := s.retryExternal(ctx, "ingest", func(ctx context.Context) error {
		r, err := s.store.AddDocuments(ctx, sessionID, docs)
		res = r
		return err
	})
	if err != nil {
		if created {
			s.forget(context.WithoutCancel(ctx), sessionID)
		}
		return nil, err
	}

	s.announce(ctx, sessionID, res.Documents)
	return &IngestResult{
		SessionID:   sessionID,
		ChunksAdded: res.ChunksAdded,
		TotalChunks: len(res.State.Chunks),
		Documents:   res.Documents,
	}, nil
}

func (s *RAGService) announce(ctx context.Context, sessionID string, docs []model.SessionDocument) {
	if s.publisher == nil {
		return
	}
	for _, d := range docs {
		evt := model.IngestEvent{
			SessionID:    sessionID,
			Name:         d.Name,
			Format:       d.Format,
			FirstChunkID: d.FirstChunkID,
			ChunkCount:   d.ChunkCount,
			PageCount:    d.PageCount,
			IngestedAt:   d.IngestedAt,
		}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("publish ingest event failed", "session_id", sessionID, "document", d.Name, "error", err)
		}
	}
}

type QueryInput struct {
	SessionID string
	Question  string
	TopK      int
}

type QueryResult struct {
	SessionID string       `json:"session_id"`
	Question  string       `json:"question"`
	Results   []rag.Result `json:"results"`
}

// Query returns the session's chunks most relevant to the question.
func (s *RAGService) Query(ctx context.Context, input QueryInput) (*QueryResult, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", rag.ErrInvalidInput)
	}
	k := input.TopK
	if k <= 0 {
		k = s.cfg.TopK
	}

	var results []rag.Result
	err := s.retryExternal(ctx, "retrieve", func(ctx context.Context) error {
		r, err := s.store.Retrieve(ctx, input.SessionID, input.Question, k)
		results = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return &QueryResult{SessionID: input.SessionID, Question: strings.TrimSpace(input.Question), Results: results}, nil
}

func (s *RAGService) generate(ctx context.Context, op, prompt string) (string, error) {
	if s.generator == nil {
		return "", fmt.Errorf("%w: no generation capability configured", rag.ErrGenerationUnavailable)
	}
	var out string
	err := s.retryExternal(ctx, op, func(ctx context.Context) error {
		text, err := s.generator.Generate(ctx, prompt)
		out = text
		return err
	})
	return out, err
}

// decodeModelJSON strips a markdown code fence around the model output and decodes it.
func decodeModelJSON(raw string, v any) error {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return json.Unmarshal([]byte(strings.TrimSpace(text)), v)
}

func clauseTexts(results []rag.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Text
	}
	return out
}

type AskInput = QueryInput

type AskResult struct {
	Question        string            `json:"question"`
	DocumentType    risk.DocumentType `json:"document_type"`
	Answer          string            `json:"answer"`
	RelevantClauses []string          `json:"relevant_clauses"`
	Confidence      string            `json:"confidence"`
	AdditionalNotes string            `json:"additional_notes,omitempty"`
	Retrieved       []rag.Result      `json:"retrieved_clauses"`
}

// Ask answers a question grounded in the session's most relevant clauses.
func (s *RAGService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	q, err := s.Query(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.answer(ctx, q)
}

func (s *RAGService) answer(ctx context.Context, q *QueryResult) (*AskResult, error) {
	clauses := clauseTexts(q.Results)
	docType := risk.DetectDocumentType(clauses)

	raw, err := s.generate(ctx, "ask", buildQAPrompt(docType, q.Question, clauses))
	if err != nil {
		return nil, err
	}

	out := &AskResult{Question: q.Question, DocumentType: docType, Retrieved: q.Results}
	var parsed struct {
		Answer          string   `json:"answer"`
		RelevantClauses []string `json:"relevant_clauses"`
		Confidence      string   `json:"confidence"`
		AdditionalNotes string   `json:"additional_notes"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil || parsed.Answer == "" {
		s.logger.Warn("model answer is not structured", "session_id", q.SessionID, "error", err)
		out.Answer = strings.TrimSpace(raw)
		out.Confidence = "low"
		out.AdditionalNotes = "The model did not return a structured answer."
		return out, nil
	}
	out.Answer = parsed.Answer
	out.RelevantClauses = parsed.RelevantClauses
	out.Confidence = parsed.Confidence
	out.AdditionalNotes = parsed.AdditionalNotes
	return out, nil
}

type Translation struct {
	Original   string   `json:"original"`
	Simplified string   `json:"simplified"`
	KeyPoints  []string `json:"key_points"`
}

type TranslateResult struct {
	Question     string            `json:"question"`
	DocumentType risk.DocumentType `json:"document_type"`
	Translations []Translation     `json:"translations"`
	Raw          string            `json:"raw,omitempty"`
	Retrieved    []rag.Result      `json:"retrieved_clauses"`
}

// Translate rewrites the clauses relevant to the question in plain English.
func (s *RAGService) Translate(ctx context.Context, input QueryInput) (*TranslateResult, error) {
	q, err := s.Query(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.translate(ctx, q)
}

func (s *RAGService) translate(ctx context.Context, q *QueryResult) (*TranslateResult, error) {
	clauses := clauseTexts(q.Results)
	docType := risk.DetectDocumentType(clauses)

	raw, err := s.generate(ctx, "translate", buildTranslationPrompt(docType, clauses))
	if err != nil {
		return nil, err
	}

	out := &TranslateResult{Question: q.Question, DocumentType: docType, Retrieved: q.Results}
	var parsed struct {
		Translations []Translation `json:"translations"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil {
		s.logger.Warn("model translation is not structured", "session_id", q.SessionID, "error", err)
		out.Raw = strings.TrimSpace(raw)
		return out, nil
	}
	out.Translations = parsed.Translations
	return out, nil
}

type RiskReport struct {
	SessionID    string            `json:"session_id"`
	DocumentType risk.DocumentType `json:"document_type"`
	Findings     []risk.Finding    `json:"risk_analysis"`
	Summary      risk.Summary      `json:"summary"`
}

// Risks runs the rule engine over every chunk of the session.
func (s *RAGService) Risks(ctx context.Context, sessionID string) (*RiskReport, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	st := sess.State()
	if len(st.Chunks) == 0 {
		return nil, fmt.Errorf("%w: %s has no documents", rag.ErrSessionNotFound, sessionID)
	}

	texts := make([]string, len(st.Chunks))
	for i, c := range st.Chunks {
		texts[i] = c.Text
	}
	docType := risk.DetectDocumentType(texts)
	findings := s.risks.Analyze(st.Chunks, docType)
	if findings == nil {
		findings = []risk.Finding{}
	}
	return &RiskReport{
		SessionID:    sessionID,
		DocumentType: docType,
		Findings:     findings,
		Summary:      risk.Summarize(findings),
	}, nil
}

type QuestionsResult struct {
	DocumentType    risk.DocumentType `json:"document_type"`
	Questions       []string          `json:"questions"`
	DocumentSummary string            `json:"document_summary,omitempty"`
}

var fallbackQuestions = []string{
	"What are my main obligations under this agreement?",
	"What are the most important terms I should understand?",
	"What happens if I want to terminate this agreement?",
	"Are there any fees or penalties I should know about?",
}

// SuggestQuestions asks the generation capability for questions worth asking about
// the session's documents.
func (s *RAGService) SuggestQuestions(ctx context.Context, sessionID string) (*QuestionsResult, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	st := sess.State()
	if len(st.Chunks) == 0 {
		return nil, fmt.Errorf("%w: %s has no documents", rag.ErrSessionNotFound, sessionID)
	}

	chunks := st.Chunks[:min(len(st.Chunks), questionChunkLimit)]
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	docType := risk.DetectDocumentType(texts)
	content := []rune(joinClauses(texts))
	content = content[:min(len(content), questionContentRunes)]

	raw, err := s.generate(ctx, "questions", buildQuestionsPrompt(s.cfg.QuestionCount, string(content), docType))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Questions       []string `json:"questions"`
		DocumentSummary string   `json:"document_summary"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil || len(parsed.Questions) == 0 {
		s.logger.Warn("model questions are not structured", "session_id", sessionID, "error", err)
		return &QuestionsResult{DocumentType: docType, Questions: fallbackQuestions}, nil
	}
	if len(parsed.Questions) > s.cfg.QuestionCount {
		parsed.Questions = parsed.Questions[:s.cfg.QuestionCount]
	}
	return &QuestionsResult{DocumentType: docType, Questions: parsed.Questions, DocumentSummary: parsed.DocumentSummary}, nil
}

// DeleteSession releases the session and its persisted state.
func (s *RAGService) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.forgetLedger(sessionID)
	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// EvictIdle drops sessions idle for at least timeout, ledger rows included.
func (s *RAGService) EvictIdle(ctx context.Context, timeout time.Duration) []string {
	ids := s.store.EvictIdle(ctx, timeout)
	for _, id := range ids {
		s.forgetLedger(id)
	}
	return ids
}

func (s *RAGService) forget(ctx context.Context, sessionID string) {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("drop session failed", "session_id", sessionID, "error", err)
	}
	s.forgetLedger(sessionID)
}

// forgetLedger drops the session row before its documents. The ledger worker only
// inserts while the session row exists, so no document row can land after this.
func (s *RAGService) forgetLedger(sessionID string) {
	if s.sessions != nil {
		if err := s.sessions.DeleteByID(sessionID); err != nil {
			s.logger.Warn("delete ledger session failed", "session_id", sessionID, "error", err)
		}
	}
	if s.documents != nil {
		if err := s.documents.DeleteBySessionID(sessionID); err != nil {
			s.logger.Warn("delete ledger documents failed", "session_id", sessionID, "error", err)
		}
	}
}

// ListDocuments returns the session's documents. Ledger rows are used once the
// ledger worker has caught up with the session; until then the live state answers.
func (s *RAGService) ListDocuments(ctx context.Context, sessionID string) ([]model.RAGDocument, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	live := sess.State().Documents

	if s.documents != nil {
		rows, err := s.documents.ListBySessionID(sessionID)
		switch {
		case err != nil:
			s.logger.Warn("list ledger documents failed", "session_id", sessionID, "error", err)
		case len(rows) >= len(live):
			return rows, nil
		}
	}

	out := make([]model.RAGDocument, len(live))
	for i, d := range live {
		out[i] = model.RAGDocument{
			SessionID:    sessionID,
			Name:         d.Name,
			Format:       d.Format,
			FirstChunkID: d.FirstChunkID,
			ChunkCount:   d.ChunkCount,
			PageCount:    d.PageCount,
			CreatedAt:    d.IngestedAt,
		}
	}
	return out, nil
}

func (s *RAGService) ListSessions() []session.Info {
	return s.store.List()
}
