// internal/journey/stage.go
package journey

import (
	"time"

	"insurance-journey/internal/insurance"
)

// Stage is one of the seven ordered steps of the issuance workflow.
type Stage int

const (
	StageSelectProduct Stage = iota + 1
	StageQuote
	StageApplicant
	StageAwaitSubmission
	StageUnderwriting
	StageOffer
	StagePolicy
)

func (s Stage) String() string {
	switch s {
	case StageSelectProduct:
		return "select_product"
	case StageQuote:
		return "quote"
	case StageApplicant:
		return "applicant"
	case StageAwaitSubmission:
		return "await_submission"
	case StageUnderwriting:
		return "underwriting"
	case StageOffer:
		return "offer"
	case StagePolicy:
		return "policy"
	}
	return "unknown"
}

// Outcome is the terminal resolution of a run. Empty while in flight.
type Outcome string

const (
	OutcomeNone          Outcome = ""
	OutcomeIssued        Outcome = "issued"
	OutcomeDeclined      Outcome = "declined"
	OutcomeOfferDeclined Outcome = "offer_declined"
)

// Run is the single owned record for one workflow instance: the current
// stage tag plus every entity the stages have produced so far. It is
// mutated only by the Engine on the main control flow.
type Run struct {
	ID      string  `json:"id"`
	Stage   Stage   `json:"stage"`
	Held    bool    `json:"held"`
	Outcome Outcome `json:"outcome,omitempty"`

	// Age and Smoker come from the quote form; the Quote resource does
	// not carry them but the application snapshot needs them.
	Age    int  `json:"age"`
	Smoker bool `json:"smoker"`

	Product     *insurance.Product          `json:"product,omitempty"`
	Quote       *insurance.Quote            `json:"quote,omitempty"`
	Application *insurance.Application      `json:"application,omitempty"`
	Case        *insurance.UnderwritingCase `json:"case,omitempty"`
	Offer       *insurance.Offer            `json:"offer,omitempty"`
	Policy      *insurance.Policy           `json:"policy,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the run has reached a terminal resolution.
// Value receiver so it is callable on snapshot copies.
func (r Run) Terminal() bool {
	return r.Outcome != OutcomeNone
}
