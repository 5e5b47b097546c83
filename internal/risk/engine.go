package risk

import (
	"slices"
	"strings"

	"gopherai-legal/internal/model"
)

const dedupePrefixLen = 100

// Finding is one rule match, reported with the sentence it occurred in.
type Finding struct {
	ChunkID      int64    `json:"chunk_id"`
	DocumentName string   `json:"document_name"`
	SourcePage   int      `json:"source_page"`
	Category     Category `json:"risk_type"`
	Severity     Severity `json:"risk_level"`
	Clause       string   `json:"clause"`
	MatchedText  string   `json:"matched_text"`
	Explanation  string   `json:"warning"`
	Suggestion   string   `json:"suggestion"`
}

type Engine struct {
	rules []Rule
}

// NewEngine uses DefaultRules when rules is empty.
func NewEngine(rules []Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{rules: rules}
}

// Analyze runs every rule that applies to docType over each chunk. Findings for the
// same category and clause are reported once; the result is ordered by severity,
// then chunk id.
func (e *Engine) Analyze(chunks []model.RAGChunk, docType DocumentType) []Finding {
	type key struct {
		cat    Category
		prefix string
	}
	seen := make(map[key]struct{})
	var out []Finding

	for _, c := range chunks {
		for _, r := range e.rules {
			if !r.AppliesTo(docType) {
				continue
			}
			for _, loc := range r.Pattern.FindAllStringIndex(c.Text, -1) {
				clause := sentenceAround(c.Text, loc[0], loc[1])
				k := key{r.Category, prefix(clause, dedupePrefixLen)}
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				out = append(out, Finding{
					ChunkID:      c.ID,
					DocumentName: c.DocumentName,
					SourcePage:   c.SourcePage,
					Category:     r.Category,
					Severity:     r.Severity,
					Clause:       clause,
					MatchedText:  c.Text[loc[0]:loc[1]],
					Explanation:  r.Explanation,
					Suggestion:   r.Suggestion,
				})
			}
		}
	}

	slices.SortStableFunc(out, func(a, b Finding) int {
		if d := a.Severity.rank() - b.Severity.rank(); d != 0 {
			return d
		}
		switch {
		case a.ChunkID < b.ChunkID:
			return -1
		case a.ChunkID > b.ChunkID:
			return 1
		}
		return 0
	})
	return out
}

// sentenceAround returns the period-delimited sentence containing text[start:end],
// or a window around the match when that sentence is blank.
func sentenceAround(text string, start, end int) string {
	from := strings.LastIndexByte(text[:start], '.') + 1
	to := len(text)
	if i := strings.IndexByte(text[end:], '.'); i >= 0 {
		to = end + i
	}
	if s := strings.TrimSpace(text[from:to]); s != "" {
		return s
	}
	lo, hi := max(0, start-50), min(len(text), end+50)
	return strings.ToValidUTF8(text[lo:hi], "")
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type Summary struct {
	TotalRisks      int              `json:"total_risks"`
	Distribution    map[Severity]int `json:"risk_distribution"`
	HighestSeverity string           `json:"highest_risk"`
	Categories      []Category       `json:"risk_types_found"`
	Recommendations []string         `json:"recommendations"`
}

const manyRisksThreshold = 5

// Summarize aggregates findings into counts and recommendations.
func Summarize(findings []Finding) Summary {
	if len(findings) == 0 {
		return Summary{
			Distribution:    map[Severity]int{},
			HighestSeverity: "none",
			Categories:      []Category{},
			Recommendations: []string{"This document appears to have standard terms with no major red flags."},
		}
	}

	dist := make(map[Severity]int)
	found := make(map[Category]struct{})
	highest := findings[0].Severity
	for _, f := range findings {
		dist[f.Severity]++
		found[f.Category] = struct{}{}
		if f.Severity.rank() < highest.rank() {
			highest = f.Severity
		}
	}
	cats := make([]Category, 0, len(found))
	for c := range found {
		cats = append(cats, c)
	}
	slices.Sort(cats)

	has := func(cs ...Category) bool {
		for _, c := range cs {
			if _, ok := found[c]; ok {
				return true
			}
		}
		return false
	}
	var recs []string
	if has(AutomaticRenewal) {
		recs = append(recs, "Set calendar reminders for cancellation dates to avoid unwanted renewals.")
	}
	if has(LiabilityShift) {
		recs = append(recs, "Consider purchasing additional insurance coverage to protect yourself.")
	}
	if has(DisputeResolution) {
		recs = append(recs, "Understand that you're giving up certain legal rights. Consult a lawyer if concerned.")
	}
	if has(VariableInterest) {
		recs = append(recs, "Budget for potential rate increases and understand the maximum possible rate.")
	}
	if has(HiddenFees, PenaltyFees) {
		recs = append(recs, "Get a complete fee schedule in writing and budget for potential additional costs.")
	}
	if len(findings) > manyRisksThreshold {
		recs = append(recs, "This document has many potentially problematic clauses. Consider legal review before signing.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Review the highlighted clauses carefully and ask questions about anything unclear.")
	}

	return Summary{
		TotalRisks:      len(findings),
		Distribution:    dist,
		HighestSeverity: string(highest),
		Categories:      cats,
		Recommendations: recs,
	}
}
