// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "insurance-journey/internal/common/errors"
	"insurance-journey/internal/common/logger"
	"insurance-journey/internal/insurance"
	"insurance-journey/internal/journey"
)

// ==========================
// Fake Insurance API
// ==========================

// fakeInsuranceAPI is a stateful in-process rendition of the backend:
// it prices quotes, runs a fake underwriting pipeline whose decisions
// become visible only after a configurable number of status reads, and
// issues policies a few reads after an offer is accepted.
type fakeInsuranceAPI struct {
	mu sync.Mutex

	apiKey string

	products map[string]insurance.Product
	quotes   map[string]insurance.Quote
	apps     map[string]*insurance.Application
	cases    map[string]*insurance.UnderwritingCase
	offers   map[string]*insurance.Offer
	policies []insurance.Policy

	seq int

	// decisionAfterReads delays the underwriting outcome: the app stays
	// submitted until it has been fetched this many times.
	decisionAfterReads int
	decision           insurance.UWDecision
	appReads           map[string]int

	// policyAfterReads delays issuance the same way.
	policyAfterReads int
	policyReads      map[string]int
}

func newFakeAPI() *fakeInsuranceAPI {
	return &fakeInsuranceAPI{
		apiKey: "e2e-test-key",
		products: map[string]insurance.Product{
			"term-life": {
				ID: "p-1", Slug: "term-life", Name: "Term Life", TermYears: 20,
				MinCoverage: 50000, MaxCoverage: 1000000, BaseRate: 0.09,
			},
		},
		quotes:             map[string]insurance.Quote{},
		apps:               map[string]*insurance.Application{},
		cases:              map[string]*insurance.UnderwritingCase{},
		offers:             map[string]*insurance.Offer{},
		seq:                0,
		decisionAfterReads: 2,
		decision:           insurance.UWDecisionApproved,
		appReads:           map[string]int{},
		policyAfterReads:   2,
		policyReads:        map[string]int{},
	}
}

func (f *fakeInsuranceAPI) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeInsuranceAPI) writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(commonerrors.ProblemDetails{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}

func (f *fakeInsuranceAPI) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (f *fakeInsuranceAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != f.apiKey {
			f.writeProblem(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		path := r.URL.Path
		switch {
		case path == "/products" && r.Method == http.MethodGet:
			items := make([]insurance.Product, 0, len(f.products))
			for _, p := range f.products {
				items = append(items, p)
			}
			f.writeJSON(w, http.StatusOK, items)

		case strings.HasPrefix(path, "/products/") && r.Method == http.MethodGet:
			slug := strings.TrimPrefix(path, "/products/")
			p, ok := f.products[slug]
			if !ok {
				f.writeProblem(w, http.StatusNotFound, "no such product")
				return
			}
			f.writeJSON(w, http.StatusOK, p)

		case path == "/quotes" && r.Method == http.MethodPost:
			var input insurance.QuoteInput
			json.NewDecoder(r.Body).Decode(&input)
			product, ok := f.products[input.ProductSlug]
			if !ok {
				f.writeProblem(w, http.StatusUnprocessableEntity, "unknown product")
				return
			}
			quote := insurance.Quote{
				ID:             f.nextID("q"),
				ProductID:      product.ID,
				ProductSlug:    product.Slug,
				CoverageAmount: input.CoverageAmount,
				TermYears:      product.TermYears,
				MonthlyPremium: float64(input.CoverageAmount) / 1000 * product.BaseRate,
				Status:         insurance.QuoteStatusPriced,
				CreatedAt:      time.Now().UTC(),
			}
			f.quotes[quote.ID] = quote
			f.writeJSON(w, http.StatusCreated, quote)

		case path == "/applications" && r.Method == http.MethodPost:
			var input insurance.ApplicationInput
			json.NewDecoder(r.Body).Decode(&input)
			quote, ok := f.quotes[input.QuoteID]
			if !ok {
				f.writeProblem(w, http.StatusUnprocessableEntity, "unknown quote")
				return
			}
			app := &insurance.Application{
				ID:             f.nextID("app"),
				QuoteID:        quote.ID,
				ProductSlug:    quote.ProductSlug,
				CoverageAmount: quote.CoverageAmount,
				TermYears:      quote.TermYears,
				MonthlyPremium: quote.MonthlyPremium,
				Applicant:      input.Applicant,
				Status:         insurance.ApplicationStatusDraft,
				CreatedAt:      time.Now().UTC(),
			}
			f.apps[app.ID] = app
			f.writeJSON(w, http.StatusCreated, app)

		case strings.HasPrefix(path, "/applications/") && strings.HasSuffix(path, ":submit") && r.Method == http.MethodPost:
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/applications/"), ":submit")
			app, ok := f.apps[id]
			if !ok {
				f.writeProblem(w, http.StatusNotFound, "no such application")
				return
			}
			app.Status = insurance.ApplicationStatusSubmitted
			now := time.Now().UTC()
			app.SubmittedAt = &now
			f.writeJSON(w, http.StatusOK, app)

		case strings.HasPrefix(path, "/applications/") && strings.HasSuffix(path, "/offers") && r.Method == http.MethodPost:
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/applications/"), "/offers")
			app, ok := f.apps[id]
			if !ok {
				f.writeProblem(w, http.StatusNotFound, "no such application")
				return
			}
			if app.Status != insurance.ApplicationStatusApproved {
				f.writeProblem(w, http.StatusConflict, "application not approved")
				return
			}
			offer := &insurance.Offer{
				ID:             f.nextID("offer"),
				ApplicationID:  app.ID,
				ProductSlug:    app.ProductSlug,
				CoverageAmount: app.CoverageAmount,
				TermYears:      app.TermYears,
				MonthlyPremium: app.MonthlyPremium,
				Status:         insurance.OfferStatusPending,
				CreatedAt:      time.Now().UTC(),
				ExpiresAt:      time.Now().UTC().Add(72 * time.Hour),
			}
			f.offers[offer.ID] = offer
			f.writeJSON(w, http.StatusCreated, offer)

		case strings.HasPrefix(path, "/applications/") && r.Method == http.MethodGet:
			id := strings.TrimPrefix(path, "/applications/")
			app, ok := f.apps[id]
			if !ok {
				f.writeProblem(w, http.StatusNotFound, "no such application")
				return
			}
			f.advanceUnderwriting(app)
			f.writeJSON(w, http.StatusOK, app)

		case strings.HasPrefix(path, "/applications/") && r.Method == http.MethodPatch:
			id := strings.TrimPrefix(path, "/applications/")
			app, ok := f.apps[id]
			if !ok {
				f.writeProblem(w, http.StatusNotFound, "no such application")
				return
			}
			var patch insurance.ApplicationPatch
			json.NewDecoder(r.Body).Decode(&patch)
			if patch.Applicant != nil {
				app.Applicant = *patch.Applicant
			}
			f.writeJSON(w, http.StatusOK, app)

		case path == "/underwriting/cases" && r.Method == http.MethodGet:
			items := make([]insurance.UnderwritingCase, 0, len(f.cases))
			for _, c := range f.cases {
				items = append(items, *c)
			}
			f.writeJSON(w, http.StatusOK, items)

		case strings.HasPrefix(path, "/underwriting/cases/") && strings.HasSuffix(path, ":decide") && r.Method == http.MethodPost:
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/underwriting/cases/"), ":decide")
			uwCase, ok := f.cases[id]
			if !ok {
				f.writeProblem(w, http.StatusNotFound, "no such case")
				return
			}
			var input insurance.UWDecisionInput
			json.NewDecoder(r.Body).Decode(&input)
			uwCase.Decision = input.Decision
			uwCase.Reason = input.Reason
			uwCase.Method = insurance.UWMethodManual
			now := time.Now().UTC()
			uwCase.DecidedAt = &now
			if app, ok := f.apps[uwCase.ApplicationID]; ok {
				switch input.Decision {
				case insurance.UWDecisionApproved:
					app.Status = insurance.ApplicationStatusApproved
				case insurance.UWDecisionDeclined:
					app.Status = insurance.ApplicationStatusDeclined
				}
			}
			f.writeJSON(w, http.StatusOK, uwCase)

		case strings.HasPrefix(path, "/underwriting/cases/") && r.Method == http.MethodGet:
			id := strings.TrimPrefix(path, "/underwriting/cases/")
			uwCase, ok := f.cases[id]
			if !ok {
				f.writeProblem(w, http.StatusNotFound, "no such case")
				return
			}
			f.writeJSON(w, http.StatusOK, uwCase)

		case strings.HasPrefix(path, "/offers/") && strings.HasSuffix(path, ":accept") && r.Method == http.MethodPost:
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/offers/"), ":accept")
			offer, ok := f.offers[id]
			if !ok {
				f.writeProblem(w, http.StatusNotFound, "no such offer")
				return
			}
			offer.Status = insurance.OfferStatusAccepted
			now := time.Now().UTC()
			offer.AcceptedAt = &now
			f.writeJSON(w, http.StatusOK, offer)

		case strings.HasPrefix(path, "/offers/") && strings.HasSuffix(path, ":decline") && r.Method == http.MethodPost:
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/offers/"), ":decline")
			offer, ok := f.offers[id]
			if !ok {
				f.writeProblem(w, http.StatusNotFound, "no such offer")
				return
			}
			offer.Status = insurance.OfferStatusDeclined
			now := time.Now().UTC()
			offer.DeclinedAt = &now
			f.writeJSON(w, http.StatusOK, offer)

		case path == "/policies" && r.Method == http.MethodGet:
			appID := r.URL.Query().Get("application_id")
			f.advanceIssuance(appID)
			items := []insurance.Policy{}
			for _, p := range f.policies {
				if appID == "" || p.ApplicationID == appID {
					items = append(items, p)
				}
			}
			f.writeJSON(w, http.StatusOK, insurance.PolicyList{Items: items, Total: len(items)})

		default:
			f.writeProblem(w, http.StatusNotFound, "unknown route "+r.Method+" "+path)
		}
	})
}

// advanceUnderwriting moves a submitted application toward its decision
// once it has been observed enough times, simulating the asynchronous
// backend pipeline.
func (f *fakeInsuranceAPI) advanceUnderwriting(app *insurance.Application) {
	if app.Status != insurance.ApplicationStatusSubmitted && app.Status != insurance.ApplicationStatusUnderReview {
		return
	}
	f.appReads[app.ID]++
	if f.appReads[app.ID] < f.decisionAfterReads {
		app.Status = insurance.ApplicationStatusUnderReview
		return
	}

	switch f.decision {
	case insurance.UWDecisionApproved:
		app.Status = insurance.ApplicationStatusApproved
	case insurance.UWDecisionDeclined:
		app.Status = insurance.ApplicationStatusDeclined
	case insurance.UWDecisionReferred:
		app.Status = insurance.ApplicationStatusUnderReview
		if _, exists := f.caseForApp(app.ID); !exists {
			uwCase := &insurance.UnderwritingCase{
				ID:            f.nextID("case"),
				ApplicationID: app.ID,
				RiskFactors: insurance.RiskFactors{
					Age: app.Applicant.Age, Smoker: app.Applicant.Smoker,
					CoverageAmount: app.CoverageAmount, TermYears: app.TermYears,
				},
				RiskScore: insurance.RiskScore{Score: 68, Flags: []string{"manual_review"}},
				Decision:  insurance.UWDecisionReferred,
				Method:    insurance.UWMethodAuto,
				CreatedAt: time.Now().UTC(),
			}
			f.cases[uwCase.ID] = uwCase
		}
	}
}

func (f *fakeInsuranceAPI) caseForApp(appID string) (*insurance.UnderwritingCase, bool) {
	for _, c := range f.cases {
		if c.ApplicationID == appID {
			return c, true
		}
	}
	return nil, false
}

// advanceIssuance creates the policy for an accepted offer after enough
// list reads have gone by.
func (f *fakeInsuranceAPI) advanceIssuance(appID string) {
	if appID == "" {
		return
	}
	for _, p := range f.policies {
		if p.ApplicationID == appID {
			return
		}
	}

	var accepted *insurance.Offer
	for _, o := range f.offers {
		if o.ApplicationID == appID && o.Status == insurance.OfferStatusAccepted {
			accepted = o
			break
		}
	}
	if accepted == nil {
		return
	}

	f.policyReads[appID]++
	if f.policyReads[appID] < f.policyAfterReads {
		return
	}

	app := f.apps[appID]
	policy := insurance.Policy{
		ID:             f.nextID("pol"),
		Number:         fmt.Sprintf("POL-%06d", f.seq),
		ApplicationID:  appID,
		OfferID:        accepted.ID,
		ProductSlug:    accepted.ProductSlug,
		CoverageAmount: accepted.CoverageAmount,
		TermYears:      accepted.TermYears,
		MonthlyPremium: accepted.MonthlyPremium,
		Insured:        app.Applicant,
		Status:         insurance.PolicyStatusActive,
		EffectiveDate:  time.Now().UTC(),
		ExpiryDate:     time.Now().UTC().AddDate(accepted.TermYears, 0, 0),
		IssuedAt:       time.Now().UTC(),
	}
	f.policies = append(f.policies, policy)
	accepted.Status = insurance.OfferStatusIssued
}

// ==========================
// Test Setup
// ==========================

type journeyHarness struct {
	api      *fakeInsuranceAPI
	engine   *journey.Engine
	recorder *journey.Recorder
}

func instantSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newHarness(t *testing.T) *journeyHarness {
	t.Helper()

	api := newFakeAPI()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	log := logger.NewTestLogger(t)
	recorder := journey.NewRecorder(log)
	client := insurance.NewClient(server.URL, api.apiKey, insurance.WithObserver(recorder))
	engine := journey.NewEngine(client, log, journey.WithSleep(instantSleep))

	return &journeyHarness{api: api, engine: engine, recorder: recorder}
}

// driveToUnderwriting walks the harness through product selection,
// quoting, the applicant form, and submission.
func (h *journeyHarness) driveToUnderwriting(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.engine.SelectProduct(ctx, "term-life"))
	require.NoError(t, h.engine.RequestQuote(ctx, journey.QuoteForm{
		CoverageAmount: 150000,
		Age:            35,
		Smoker:         false,
	}))
	require.NoError(t, h.engine.CreateApplication(ctx, journey.ApplicantForm{
		FirstName:   "John",
		LastName:    "Doe",
		Email:       "john.doe@example.com",
		DateOfBirth: "1989-06-15",
		State:       "CA",
	}))
	require.NoError(t, h.engine.Submit(ctx))
}

// ==========================
// End-to-End Scenarios
// ==========================

func TestJourney_ApprovedToIssuedPolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.driveToUnderwriting(t)

	outcome, err := h.engine.AwaitDecision(ctx)
	require.NoError(t, err)
	require.Equal(t, journey.DecisionApproved, outcome)

	require.NoError(t, h.engine.GenerateOffer(ctx))
	require.NoError(t, h.engine.AcceptOffer(ctx))
	require.NoError(t, h.engine.AwaitPolicy(ctx))

	run := h.engine.Snapshot()
	assert.Equal(t, journey.OutcomeIssued, run.Outcome)
	require.NotNil(t, run.Policy)
	assert.Equal(t, insurance.PolicyStatusActive, run.Policy.Status)
	assert.Equal(t, run.Application.ID, run.Policy.ApplicationID)
	assert.Equal(t, "John", run.Policy.Insured.FirstName)

	// The recorder saw the whole conversation; the last exchange is the
	// policy list that found the issued policy.
	ex, ok := h.recorder.Last()
	require.True(t, ok)
	assert.Equal(t, "policies.list", ex.Operation)
	assert.Equal(t, http.StatusOK, ex.Status)
}

func TestJourney_ReferredThenManuallyApproved(t *testing.T) {
	h := newHarness(t)
	h.api.decision = insurance.UWDecisionReferred
	ctx := context.Background()

	h.driveToUnderwriting(t)

	outcome, err := h.engine.AwaitDecision(ctx)
	require.NoError(t, err)
	require.Equal(t, journey.DecisionReferred, outcome)

	run := h.engine.Snapshot()
	require.True(t, run.Held)
	require.NotNil(t, run.Case)

	// Operator approves the referred case; the wait is re-triggered.
	require.NoError(t, h.engine.DecideCase(ctx, insurance.UWDecisionInput{
		Decision: insurance.UWDecisionApproved,
		Reason:   "manual review completed",
	}))

	outcome, err = h.engine.AwaitDecision(ctx)
	require.NoError(t, err)
	assert.Equal(t, journey.DecisionApproved, outcome)

	require.NoError(t, h.engine.GenerateOffer(ctx))
	require.NoError(t, h.engine.AcceptOffer(ctx))
	require.NoError(t, h.engine.AwaitPolicy(ctx))

	run = h.engine.Snapshot()
	assert.Equal(t, journey.OutcomeIssued, run.Outcome)
	assert.Equal(t, insurance.UWDecisionApproved, run.Case.Decision)
	assert.Equal(t, insurance.UWMethodManual, run.Case.Method)
}

func TestJourney_DeclinedByUnderwriting(t *testing.T) {
	h := newHarness(t)
	h.api.decision = insurance.UWDecisionDeclined
	ctx := context.Background()

	h.driveToUnderwriting(t)

	outcome, err := h.engine.AwaitDecision(ctx)
	assert.Equal(t, journey.DecisionDeclined, outcome)

	var declined *commonerrors.DeclinedOutcome
	require.ErrorAs(t, err, &declined)

	run := h.engine.Snapshot()
	assert.Equal(t, journey.OutcomeDeclined, run.Outcome)
	assert.True(t, run.Terminal())

	// Recovery is a fresh run, which completes normally.
	h.api.decision = insurance.UWDecisionApproved
	h.engine.NewRun()
	h.driveToUnderwriting(t)

	outcome, err = h.engine.AwaitDecision(ctx)
	require.NoError(t, err)
	assert.Equal(t, journey.DecisionApproved, outcome)
}

func TestJourney_OfferDeclined(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.driveToUnderwriting(t)

	outcome, err := h.engine.AwaitDecision(ctx)
	require.NoError(t, err)
	require.Equal(t, journey.DecisionApproved, outcome)

	require.NoError(t, h.engine.GenerateOffer(ctx))
	err = h.engine.DeclineOffer(ctx)

	var declined *commonerrors.DeclinedOutcome
	require.ErrorAs(t, err, &declined)

	run := h.engine.Snapshot()
	assert.Equal(t, journey.OutcomeOfferDeclined, run.Outcome)
	assert.Equal(t, insurance.OfferStatusDeclined, run.Offer.Status)
}

func TestJourney_SlowIssuanceTimesOutThenResumes(t *testing.T) {
	h := newHarness(t)
	// Issuance lands well past one full poll budget.
	h.api.policyAfterReads = 20
	ctx := context.Background()

	h.driveToUnderwriting(t)

	outcome, err := h.engine.AwaitDecision(ctx)
	require.NoError(t, err)
	require.Equal(t, journey.DecisionApproved, outcome)

	require.NoError(t, h.engine.GenerateOffer(ctx))
	require.NoError(t, h.engine.AcceptOffer(ctx))

	err = h.engine.AwaitPolicy(ctx)
	var timeoutErr *commonerrors.PollTimeout
	require.ErrorAs(t, err, &timeoutErr)
	require.True(t, h.engine.Snapshot().Held)

	// Re-triggering the same wait picks up where it left off.
	require.NoError(t, h.engine.AwaitPolicy(ctx))
	run := h.engine.Snapshot()
	assert.Equal(t, journey.OutcomeIssued, run.Outcome)
	assert.False(t, run.Held)
}

func TestJourney_AmendApplicantBeforeSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.SelectProduct(ctx, "term-life"))
	require.NoError(t, h.engine.RequestQuote(ctx, journey.QuoteForm{CoverageAmount: 150000, Age: 35}))
	require.NoError(t, h.engine.CreateApplication(ctx, journey.ApplicantForm{
		FirstName:   "John",
		LastName:    "Doe",
		Email:       "john.doe@example.com",
		DateOfBirth: "1989-06-15",
		State:       "CA",
	}))

	require.NoError(t, h.engine.AmendApplicant(ctx, journey.ApplicantForm{
		FirstName:   "Jane",
		LastName:    "Doe",
		Email:       "jane.doe@example.com",
		DateOfBirth: "1989-06-15",
		State:       "NY",
	}))
	require.NoError(t, h.engine.Submit(ctx))

	outcome, err := h.engine.AwaitDecision(ctx)
	require.NoError(t, err)
	require.Equal(t, journey.DecisionApproved, outcome)

	require.NoError(t, h.engine.GenerateOffer(ctx))
	require.NoError(t, h.engine.AcceptOffer(ctx))
	require.NoError(t, h.engine.AwaitPolicy(ctx))

	run := h.engine.Snapshot()
	assert.Equal(t, "Jane", run.Policy.Insured.FirstName)
	assert.Equal(t, "NY", run.Policy.Insured.State)
}

func TestJourney_BadAPIKeyIsNotRetryable(t *testing.T) {
	api := newFakeAPI()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	log := logger.NewTestLogger(t)
	client := insurance.NewClient(server.URL, "wrong-key")
	engine := journey.NewEngine(client, log, journey.WithSleep(instantSleep))

	err := engine.SelectProduct(context.Background(), "term-life")

	var remoteErr *commonerrors.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusUnauthorized, remoteErr.Status)
	assert.False(t, remoteErr.Retryable())
	assert.Equal(t, journey.StageSelectProduct, engine.Snapshot().Stage)
}

func TestJourney_ValidationNeverReachesNetwork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.SelectProduct(ctx, "term-life"))

	before, _ := h.recorder.Last()
	err := h.engine.RequestQuote(ctx, journey.QuoteForm{CoverageAmount: 10, Age: 200})

	var validationErr *commonerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Len(t, validationErr.Messages, 2)

	after, _ := h.recorder.Last()
	assert.Equal(t, before, after)
	assert.False(t, errors.Is(err, context.Canceled))
}
