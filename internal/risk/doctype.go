package risk

import "strings"

type DocumentType string

const (
	RentalAgreement      DocumentType = "rental_agreement"
	LeaseAgreement       DocumentType = "lease_agreement"
	LoanContract         DocumentType = "loan_contract"
	CreditAgreement      DocumentType = "credit_agreement"
	Mortgage             DocumentType = "mortgage"
	TermsOfService       DocumentType = "terms_of_service"
	PrivacyPolicy        DocumentType = "privacy_policy"
	Subscription         DocumentType = "subscription"
	EmploymentContract   DocumentType = "employment_contract"
	InsurancePolicy      DocumentType = "insurance_policy"
	ServiceAgreement     DocumentType = "service_agreement"
	GeneralLegalDocument DocumentType = "general_legal_document"
)

// checked in order; the first type with a matching keyword wins
var docTypeKeywords = []struct {
	docType  DocumentType
	keywords []string
}{
	{RentalAgreement, []string{"lease", "rent", "tenant", "landlord", "premises"}},
	{LoanContract, []string{"loan", "borrower", "lender", "interest rate", "repayment"}},
	{TermsOfService, []string{"terms of service", "user agreement", "privacy policy", "cookies"}},
	{EmploymentContract, []string{"employment", "employee", "employer", "salary", "termination"}},
	{InsurancePolicy, []string{"insurance", "policy", "coverage", "premium", "deductible"}},
}

// DetectDocumentType guesses the kind of legal document from its text by keyword.
func DetectDocumentType(texts []string) DocumentType {
	combined := strings.ToLower(strings.Join(texts, " "))
	for _, dt := range docTypeKeywords {
		for _, kw := range dt.keywords {
			if strings.Contains(combined, kw) {
				return dt.docType
			}
		}
	}
	return GeneralLegalDocument
}
