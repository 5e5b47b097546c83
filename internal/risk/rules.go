// Package risk flags clauses that commonly work against the weaker party of a
// contract (tenant, borrower, consumer, employee) using a table of regex rules.
package risk

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"gopherai-legal/internal/rag"
)

type Category string

const (
	AutomaticRenewal  Category = "automatic_renewal"
	HiddenFees        Category = "hidden_fees"
	LiabilityShift    Category = "liability_shift"
	UnfairTermination Category = "unfair_termination"
	PenaltyFees       Category = "penalty_fees"
	DisputeResolution Category = "dispute_resolution_limitation"
	PrivacyRisk       Category = "privacy_risk"
	VariableInterest  Category = "variable_interest"
	DepositRisk       Category = "deposit_risk"
	UnilateralChanges Category = "unilateral_changes"
)

var categories = map[Category]struct{}{
	AutomaticRenewal: {}, HiddenFees: {}, LiabilityShift: {}, UnfairTermination: {}, PenaltyFees: {},
	DisputeResolution: {}, PrivacyRisk: {}, VariableInterest: {}, DepositRisk: {}, UnilateralChanges: {},
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities, most severe first.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

type Rule struct {
	Pattern       *regexp.Regexp
	Category      Category
	Severity      Severity
	Explanation   string
	Suggestion    string
	DocumentTypes []DocumentType
}

// AppliesTo reports whether the rule is relevant for a document type. Every rule
// applies to a document whose type could not be detected.
func (r Rule) AppliesTo(docType DocumentType) bool {
	if docType == GeneralLegalDocument || docType == "" {
		return true
	}
	for _, t := range r.DocumentTypes {
		if t == docType {
			return true
		}
	}
	return false
}

func mustRule(pattern string, cat Category, sev Severity, explanation, suggestion string, types ...DocumentType) Rule {
	return Rule{
		Pattern:       regexp.MustCompile(`(?i)` + pattern),
		Category:      cat,
		Severity:      sev,
		Explanation:   explanation,
		Suggestion:    suggestion,
		DocumentTypes: types,
	}
}

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		mustRule(`(automatic[ly]*\s*(renew|extend|continue)|renew[s]*\s*automatic[ly]*|unless\s*you\s*cancel)`,
			AutomaticRenewal, SeverityHigh,
			"This contract will renew itself automatically unless you take action to cancel it.",
			"Mark your calendar to cancel before the renewal date if you don't want to continue.",
			RentalAgreement, Subscription, InsurancePolicy, TermsOfService),
		mustRule(`(additional\s*fees|service\s*charges|administrative\s*fees|processing\s*fees|convenience\s*fees)`,
			HiddenFees, SeverityMedium,
			"There may be extra fees beyond the main price that could increase your total cost.",
			"Ask for a complete breakdown of all possible fees before signing.",
			LoanContract, RentalAgreement, ServiceAgreement),
		mustRule(`(you\s*(agree\s*to\s*)?(indemnify|hold\s*harmless|defend)|liability\s*is\s*limited\s*to|not\s*liable\s*for)`,
			LiabilityShift, SeverityHigh,
			"You may be responsible for paying for damages or legal costs, even if they're not your fault.",
			"Consider if you need additional insurance or legal protection.",
			RentalAgreement, ServiceAgreement, TermsOfService),
		mustRule(`(terminate\s*at\s*any\s*time|without\s*cause|without\s*notice|immediate\s*termination)`,
			UnfairTermination, SeverityHigh,
			"The other party can end this agreement suddenly without giving you much warning or reason.",
			"Negotiate for reasonable notice period or termination protections.",
			EmploymentContract, RentalAgreement, ServiceAgreement),
		mustRule(`(penalty|fine|late\s*fee|breach\s*fee|early\s*termination\s*fee)`,
			PenaltyFees, SeverityMedium,
			"You could face financial penalties for various actions or situations.",
			"Understand exactly when penalties apply and how much they cost.",
			LoanContract, RentalAgreement, EmploymentContract),
		mustRule(`(arbitration|binding\s*arbitration|waive\s*right\s*to\s*jury|class\s*action\s*waiver)`,
			DisputeResolution, SeverityHigh,
			"You're giving up your right to sue in court or join group lawsuits.",
			"Understand that you'll have to resolve disputes through arbitration, which may limit your options.",
			TermsOfService, EmploymentContract, ServiceAgreement),
		mustRule(`(collect\s*personal\s*information|share\s*with\s*third\s*parties|sell\s*your\s*data|marketing\s*purposes)`,
			PrivacyRisk, SeverityMedium,
			"Your personal information may be collected, shared, or used in ways you might not expect.",
			"Review privacy settings and opt-out options if available.",
			TermsOfService, PrivacyPolicy, ServiceAgreement),
		mustRule(`(variable\s*rate|adjustable\s*rate|rate\s*may\s*increase|subject\s*to\s*change)`,
			VariableInterest, SeverityHigh,
			"Interest rates can go up, making your payments more expensive over time.",
			"Ask about rate caps and consider if you can afford higher payments.",
			LoanContract, CreditAgreement, Mortgage),
		mustRule(`(non-refundable|deposit\s*may\s*not\s*be\s*returned|normal\s*wear\s*and\s*tear)`,
			DepositRisk, SeverityMedium,
			"You might not get your full deposit back, even if you take good care of the property.",
			"Document the condition of the property when you move in and out.",
			RentalAgreement, LeaseAgreement),
		mustRule(`(reserve\s*the\s*right\s*to\s*modify|terms\s*may\s*change|unilateral|at\s*our\s*discretion)`,
			UnilateralChanges, SeverityHigh,
			"The other party can change the terms of this agreement without your consent.",
			"Look for limitations on changes and your right to cancel if terms change significantly.",
			TermsOfService, ServiceAgreement, Subscription),
	}
}

type ruleFile struct {
	Rules []struct {
		Category      Category       `yaml:"category"`
		Severity      Severity       `yaml:"severity"`
		Pattern       string         `yaml:"pattern"`
		Explanation   string         `yaml:"explanation"`
		Suggestion    string         `yaml:"suggestion"`
		DocumentTypes []DocumentType `yaml:"document_types"`
	} `yaml:"rules"`
}

// LoadRules reads a YAML rule file. A rule in the file replaces the default rule
// of the same category; categories the file does not mention keep their defaults.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk rules failed: %w", err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse risk rules: %w", rag.ErrInvalidInput, err)
	}

	overrides := make(map[Category]Rule, len(f.Rules))
	for i, r := range f.Rules {
		if _, ok := categories[r.Category]; !ok {
			return nil, fmt.Errorf("%w: rule %d: unknown category %q", rag.ErrInvalidInput, i, r.Category)
		}
		if r.Severity.rank() > 3 {
			return nil, fmt.Errorf("%w: rule %d: unknown severity %q", rag.ErrInvalidInput, i, r.Severity)
		}
		re, err := regexp.Compile(`(?i)` + r.Pattern)
		if err != nil || r.Pattern == "" {
			return nil, fmt.Errorf("%w: rule %d: bad pattern %q", rag.ErrInvalidInput, i, r.Pattern)
		}
		overrides[r.Category] = Rule{
			Pattern:       re,
			Category:      r.Category,
			Severity:      r.Severity,
			Explanation:   r.Explanation,
			Suggestion:    r.Suggestion,
			DocumentTypes: r.DocumentTypes,
		}
	}

	rules := DefaultRules()
	for i, r := range rules {
		if o, ok := overrides[r.Category]; ok {
			rules[i] = o
		}
	}
	return rules, nil
}
