package app

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"gopherai-legal/internal/model"
	"gopherai-legal/internal/rag"
	"gopherai-legal/internal/risk"
)

type AnalysisType string

const (
	AnalysisQA            AnalysisType = "qa"
	AnalysisTranslate     AnalysisType = "translate"
	AnalysisRisk          AnalysisType = "risk"
	AnalysisComprehensive AnalysisType = "comprehensive"
)

// ParseAnalysisType defaults an empty value to qa.
func ParseAnalysisType(v string) (AnalysisType, error) {
	switch t := AnalysisType(strings.ToLower(strings.TrimSpace(v))); t {
	case "":
		return AnalysisQA, nil
	case AnalysisQA, AnalysisTranslate, AnalysisRisk, AnalysisComprehensive:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown analysis type %q", rag.ErrInvalidInput, v)
	}
}

type AnalyzeInput struct {
	QueryInput
	Type AnalysisType
}

// AnalyzeResult carries the layers the analysis type asked for. Risk findings are
// scored over the retrieved clauses only, not the whole session.
type AnalyzeResult struct {
	AnalysisType AnalysisType      `json:"analysis_type"`
	Question     string            `json:"question"`
	DocumentType risk.DocumentType `json:"document_type"`
	QA           *AskResult        `json:"qa_response,omitempty"`
	Translation  *TranslateResult  `json:"translation,omitempty"`
	Risks        []risk.Finding    `json:"risk_analysis,omitempty"`
	RiskSummary  *risk.Summary     `json:"risk_summary,omitempty"`
	Retrieved    []rag.Result      `json:"retrieved_clauses"`
}

// Analyze retrieves once for the question and runs the requested layers over the
// same clauses. comprehensive runs qa and translation concurrently.
func (s *RAGService) Analyze(ctx context.Context, input AnalyzeInput) (*AnalyzeResult, error) {
	typ, err := ParseAnalysisType(string(input.Type))
	if err != nil {
		return nil, err
	}
	q, err := s.Query(ctx, input.QueryInput)
	if err != nil {
		return nil, err
	}

	out := &AnalyzeResult{
		AnalysisType: typ,
		Question:     q.Question,
		DocumentType: risk.DetectDocumentType(clauseTexts(q.Results)),
		Retrieved:    q.Results,
	}

	if typ == AnalysisRisk || typ == AnalysisComprehensive {
		chunks := make([]model.RAGChunk, len(q.Results))
		for i, r := range q.Results {
			chunks[i] = r.Chunk
		}
		findings := s.risks.Analyze(chunks, out.DocumentType)
		if findings == nil {
			findings = []risk.Finding{}
		}
		summary := risk.Summarize(findings)
		out.Risks = findings
		out.RiskSummary = &summary
	}

	g, gctx := errgroup.WithContext(ctx)
	if typ == AnalysisQA || typ == AnalysisComprehensive {
		g.Go(func() error {
			res, err := s.answer(gctx, q)
			out.QA = res
			return err
		})
	}
	if typ == AnalysisTranslate || typ == AnalysisComprehensive {
		g.Go(func() error {
			res, err := s.translate(gctx, q)
			out.Translation = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
