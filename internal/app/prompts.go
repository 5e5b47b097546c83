package app

import (
	"fmt"
	"strings"

	"gopherai-legal/internal/risk"
)

const qaPrompt = `You are a legal document Q&A assistant. Answer the user's question based ONLY on the provided document clauses.
%s
User Question: %s

Relevant Clauses:
%s

Provide a clear, direct answer in plain English. If the information isn't in the provided clauses, say so.

Return a JSON response with:
{
  "answer": "direct answer to the question",
  "relevant_clauses": ["clause 1", "clause 2"],
  "confidence": "high|medium|low",
  "additional_notes": "any important context or warnings"
}

Only use information from the provided clauses. Return only valid JSON.`

const translationPrompt = `You are a legal document translator. Your job is to convert complex legal jargon into simple, fifth-grade reading level language.
%s
For each clause provided, translate it into plain English that anyone can understand.

Clauses to translate:
%s

Return a JSON response with:
{
  "translations": [
    {
      "original": "original clause text",
      "simplified": "plain English translation",
      "key_points": ["main takeaway 1", "main takeaway 2"]
    }
  ]
}

Make the language accessible to everyday people. Avoid legal terms. Return only valid JSON.`

const questionsPrompt = `You are a legal document analyst. Based on the document content provided, generate %d insightful questions that someone should ask about this specific document.

Document Content:
%s

Document Type: %s

Generate questions that are:
1. Specific to this actual document
2. Important for the person signing/agreeing to understand
3. Focus on potential risks, obligations, and rights
4. Written in simple, everyday language

Return a JSON response with:
{
  "questions": ["Question 1?", "Question 2?"],
  "document_summary": "Brief 2-sentence summary of what this document is about"
}

Make questions specific to THIS document, not generic template questions. Return only valid JSON.`

// focus lines steer the prompts toward the concerns of the weaker party.
var qaFocus = map[risk.DocumentType]string{
	risk.RentalAgreement: `
You are answering for a tenant. Consider monthly rent and additional costs, security deposit return
conditions, maintenance and repair responsibilities, early termination, guest and pet policies, rent
increases and lease renewals.
`,
	risk.LoanContract: `
You are answering for a borrower. Consider total loan cost and monthly payments, interest rate changes
and caps, early payment options and penalties, default consequences, required insurance or collateral,
fees and additional charges.
`,
	risk.EmploymentContract: `
You are answering for an employee. Consider compensation and benefits, job responsibilities, termination
conditions and severance, non-compete and confidentiality rules, intellectual property ownership, work
schedule and location flexibility.
`,
}

var translationFocus = map[risk.DocumentType]string{
	risk.RentalAgreement: `
These clauses come from a rental agreement. Emphasize rent payment terms and late fees, security deposit
conditions, maintenance responsibilities, lease termination and renewal, and landlord entry rights.
`,
	risk.LoanContract: `
These clauses come from a loan contract. Emphasize interest rates and APR, the payment schedule, fees and
penalties, default consequences, prepayment terms and collateral requirements.
`,
	risk.TermsOfService: `
These clauses come from terms of service. Emphasize data collection and usage, account termination,
content ownership, liability limitations and service changes.
`,
	risk.EmploymentContract: `
These clauses come from an employment contract. Emphasize compensation and benefits, termination
conditions, non-compete and confidentiality, disciplinary procedures and intellectual property rights.
`,
}

func joinClauses(clauses []string) string {
	return strings.Join(clauses, "\n\n")
}

func buildQAPrompt(docType risk.DocumentType, question string, clauses []string) string {
	return fmt.Sprintf(qaPrompt, qaFocus[docType], question, joinClauses(clauses))
}

func buildTranslationPrompt(docType risk.DocumentType, clauses []string) string {
	return fmt.Sprintf(translationPrompt, translationFocus[docType], joinClauses(clauses))
}

func buildQuestionsPrompt(n int, content string, docType risk.DocumentType) string {
	return fmt.Sprintf(questionsPrompt, n, content, docType)
}
