// internal/insurance/types.go
package insurance

import "time"

// --- Products ---

// Product is immutable reference data; fetched, never mutated.
type Product struct {
	ID          string  `json:"id"`
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	TermYears   int     `json:"term_years"`
	MinCoverage int64   `json:"min_coverage"`
	MaxCoverage int64   `json:"max_coverage"`
	BaseRate    float64 `json:"base_rate"`
}

// --- Quotes ---

type QuoteStatus string

const (
	QuoteStatusNew     QuoteStatus = "new"
	QuoteStatusPriced  QuoteStatus = "priced"
	QuoteStatusExpired QuoteStatus = "expired"
)

type QuoteInput struct {
	ProductSlug    string `json:"product_slug"`
	CoverageAmount int64  `json:"coverage_amount"`
	TermYears      int    `json:"term_years"`
	Age            int    `json:"age"`
	Smoker         bool   `json:"smoker,omitempty"`
}

type Quote struct {
	ID             string      `json:"id"`
	ProductID      string      `json:"product_id"`
	ProductSlug    string      `json:"product_slug"`
	CoverageAmount int64       `json:"coverage_amount"`
	TermYears      int         `json:"term_years"`
	MonthlyPremium float64     `json:"monthly_premium"`
	Status         QuoteStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
}

// --- Applications ---

type ApplicationStatus string

const (
	ApplicationStatusDraft       ApplicationStatus = "draft"
	ApplicationStatusSubmitted   ApplicationStatus = "submitted"
	ApplicationStatusUnderReview ApplicationStatus = "under_review"
	ApplicationStatusApproved    ApplicationStatus = "approved"
	ApplicationStatusDeclined    ApplicationStatus = "declined"
)

type Applicant struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	DateOfBirth string `json:"date_of_birth"`
	Age         int    `json:"age"`
	Smoker      bool   `json:"smoker"`
	State       string `json:"state"`
}

type ApplicationInput struct {
	QuoteID   string    `json:"quote_id"`
	Applicant Applicant `json:"applicant"`
}

// ApplicationPatch updates applicant details while the application is
// still a draft. Nil fields are left unchanged.
type ApplicationPatch struct {
	Applicant *Applicant `json:"applicant,omitempty"`
}

type Application struct {
	ID             string            `json:"id"`
	QuoteID        string            `json:"quote_id"`
	ProductID      string            `json:"product_id"`
	ProductSlug    string            `json:"product_slug"`
	CoverageAmount int64             `json:"coverage_amount"`
	TermYears      int               `json:"term_years"`
	MonthlyPremium float64           `json:"monthly_premium"`
	Applicant      Applicant         `json:"applicant"`
	Status         ApplicationStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	SubmittedAt    *time.Time        `json:"submitted_at,omitempty"`
}

// --- Underwriting ---

type UWDecision string

const (
	UWDecisionPending  UWDecision = "pending"
	UWDecisionApproved UWDecision = "approved"
	UWDecisionDeclined UWDecision = "declined"
	UWDecisionReferred UWDecision = "referred"
)

type UWMethod string

const (
	UWMethodAuto   UWMethod = "auto"
	UWMethodManual UWMethod = "manual"
)

type RiskFactors struct {
	Age            int   `json:"age"`
	Smoker         bool  `json:"smoker"`
	CoverageAmount int64 `json:"coverage_amount"`
	TermYears      int   `json:"term_years"`
}

type RiskScore struct {
	Score       int        `json:"score"` // 0-100, higher = riskier
	Flags       []string   `json:"flags"`
	Recommended UWDecision `json:"recommended,omitempty"`
}

type UnderwritingCase struct {
	ID            string      `json:"id"`
	ApplicationID string      `json:"application_id"`
	RiskFactors   RiskFactors `json:"risk_factors"`
	RiskScore     RiskScore   `json:"risk_score"`
	Decision      UWDecision  `json:"decision"`
	Method        UWMethod    `json:"method"`
	DecidedBy     string      `json:"decided_by"`
	Reason        string      `json:"reason"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	DecidedAt     *time.Time  `json:"decided_at,omitempty"`
}

type UWDecisionInput struct {
	Decision UWDecision `json:"decision"` // approved or declined
	Reason   string     `json:"reason"`
}

// --- Offers ---

type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusDeclined OfferStatus = "declined"
	OfferStatusExpired  OfferStatus = "expired"
	OfferStatusIssued   OfferStatus = "issued"
)

type Offer struct {
	ID             string      `json:"id"`
	ApplicationID  string      `json:"application_id"`
	ProductSlug    string      `json:"product_slug"`
	CoverageAmount int64       `json:"coverage_amount"`
	TermYears      int         `json:"term_years"`
	MonthlyPremium float64     `json:"monthly_premium"`
	Status         OfferStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
	AcceptedAt     *time.Time  `json:"accepted_at,omitempty"`
	DeclinedAt     *time.Time  `json:"declined_at,omitempty"`
}

// --- Policies ---

type PolicyStatus string

const (
	PolicyStatusActive    PolicyStatus = "active"
	PolicyStatusLapsed    PolicyStatus = "lapsed"
	PolicyStatusCancelled PolicyStatus = "cancelled"
	PolicyStatusExpired   PolicyStatus = "expired"
)

type Policy struct {
	ID             string       `json:"id"`
	Number         string       `json:"number"`
	ApplicationID  string       `json:"application_id"`
	OfferID        string       `json:"offer_id"`
	ProductSlug    string       `json:"product_slug"`
	CoverageAmount int64        `json:"coverage_amount"`
	TermYears      int          `json:"term_years"`
	MonthlyPremium float64      `json:"monthly_premium"`
	Insured        Applicant    `json:"insured"`
	Status         PolicyStatus `json:"status"`
	EffectiveDate  time.Time    `json:"effective_date"`
	ExpiryDate     time.Time    `json:"expiry_date"`
	IssuedAt       time.Time    `json:"issued_at"`
}

type PolicyList struct {
	Items  []Policy `json:"items"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// PolicyFilter narrows a policy list call. Zero values are omitted from
// the query string.
type PolicyFilter struct {
	ApplicationID string
	Status        PolicyStatus
	Limit         int
	Offset        int
}
