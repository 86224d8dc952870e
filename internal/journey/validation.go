// internal/journey/validation.go
package journey

import (
	"fmt"
	"strings"

	"insurance-journey/internal/common/validation"
	"insurance-journey/internal/insurance"
)

// QuoteForm is the user-entered input for the quote stage.
type QuoteForm struct {
	CoverageAmount int64
	Age            int
	Smoker         bool
}

// ApplicantForm is the user-entered input for the applicant stage.
type ApplicantForm struct {
	FirstName   string
	LastName    string
	Email       string
	DateOfBirth string
	State       string
}

// applicantSchema covers the structural checks on the applicant form;
// the trim-sensitive name checks stay in code below.
const applicantSchema = `{
	"type": "object",
	"required": ["first_name", "last_name", "email", "date_of_birth", "state"],
	"properties": {
		"first_name":    {"type": "string", "minLength": 1},
		"last_name":     {"type": "string", "minLength": 1},
		"email":         {"type": "string", "pattern": "^[^\\s@]+@[^\\s@]+\\.[^\\s@]+$"},
		"date_of_birth": {"type": "string", "minLength": 1},
		"state":         {"type": "string", "minLength": 2, "maxLength": 2}
	}
}`

// ValidateQuoteForm checks the quote form against the selected product.
// An empty result means "proceed"; messages are ordered and human
// readable. This is a pure function: no network, no state.
func ValidateQuoteForm(product *insurance.Product, form QuoteForm) []string {
	if product == nil {
		return []string{"No product selected"}
	}

	var errs []string
	if form.CoverageAmount < product.MinCoverage || form.CoverageAmount > product.MaxCoverage {
		errs = append(errs, fmt.Sprintf("Coverage must be between $%d and $%d",
			product.MinCoverage, product.MaxCoverage))
	}
	if form.Age < 18 || form.Age > 120 {
		errs = append(errs, "Age must be between 18 and 120")
	}
	return errs
}

// ValidateApplicantForm checks the applicant form. Structural checks run
// through the JSON schema; messages come out in a fixed field order so
// the operator always sees the same list for the same input.
func ValidateApplicantForm(form ApplicantForm) []string {
	var errs []string

	if strings.TrimSpace(form.FirstName) == "" {
		errs = append(errs, "First name is required")
	}
	if strings.TrimSpace(form.LastName) == "" {
		errs = append(errs, "Last name is required")
	}

	document := map[string]interface{}{
		"first_name":    strings.TrimSpace(form.FirstName),
		"last_name":     strings.TrimSpace(form.LastName),
		"email":         strings.TrimSpace(form.Email),
		"date_of_birth": form.DateOfBirth,
		"state":         strings.TrimSpace(form.State),
	}

	result, err := validation.ValidateDocument(document, applicantSchema)
	if err != nil {
		// The schema is a compile-time constant; failing to run it is a
		// programming error, not a form problem.
		return append(errs, "applicant validation unavailable: "+err.Error())
	}

	if strings.TrimSpace(form.Email) == "" {
		errs = append(errs, "Email is required")
	} else if result.HasErrors("email") {
		errs = append(errs, "Invalid email format")
	}
	if form.DateOfBirth == "" {
		errs = append(errs, "Date of birth is required")
	}
	if strings.TrimSpace(form.State) == "" {
		errs = append(errs, "State is required")
	} else if result.HasErrors("state") {
		errs = append(errs, "State must be a 2-letter code")
	}

	return errs
}
