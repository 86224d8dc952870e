// internal/journey/engine.go
package journey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	commonerrors "insurance-journey/internal/common/errors"
	"insurance-journey/internal/common/logger"
	"insurance-journey/internal/common/metrics"
	"insurance-journey/internal/insurance"
)

var (
	ErrStageBusy    = errors.New("STAGE_BUSY")
	ErrInvalidStage = errors.New("INVALID_STAGE")
)

// API is the slice of the domain client the engine needs. The concrete
// *insurance.Client satisfies it; tests substitute a fake.
type API interface {
	GetProduct(ctx context.Context, slug string) (*insurance.Product, error)
	CreateQuote(ctx context.Context, input insurance.QuoteInput) (*insurance.Quote, error)
	CreateApplication(ctx context.Context, input insurance.ApplicationInput) (*insurance.Application, error)
	PatchApplication(ctx context.Context, id string, patch insurance.ApplicationPatch) (*insurance.Application, error)
	SubmitApplication(ctx context.Context, id string) (*insurance.Application, error)
	GetApplication(ctx context.Context, id string) (*insurance.Application, error)
	ListUnderwritingCases(ctx context.Context) ([]insurance.UnderwritingCase, error)
	GetUnderwritingCase(ctx context.Context, id string) (*insurance.UnderwritingCase, error)
	DecideUnderwritingCase(ctx context.Context, id string, input insurance.UWDecisionInput) (*insurance.UnderwritingCase, error)
	CreateOffer(ctx context.Context, applicationID string) (*insurance.Offer, error)
	AcceptOffer(ctx context.Context, id string) (*insurance.Offer, error)
	DeclineOffer(ctx context.Context, id string) (*insurance.Offer, error)
	ListPolicies(ctx context.Context, filter insurance.PolicyFilter) (*insurance.PolicyList, error)
}

// DecisionOutcome is what an underwriting wait resolved to.
type DecisionOutcome string

const (
	DecisionApproved DecisionOutcome = "approved"
	DecisionReferred DecisionOutcome = "referred"
	DecisionDeclined DecisionOutcome = "declined"
)

// decisionProbe carries both resources the compound terminal predicate
// needs: the application alone cannot distinguish "still processing"
// from "referred, awaiting a human".
type decisionProbe struct {
	app    *insurance.Application
	uwCase *insurance.UnderwritingCase
}

// Engine owns one workflow run at a time: the current stage, the
// entities each stage produced, and the rules for advancing, branching,
// or halting. Entities are mutated only after a call succeeds, so any
// failure leaves the run exactly where it was.
type Engine struct {
	api  API
	log  logger.Logger
	rand func() string

	pollInterval    time.Duration
	pollMaxAttempts int
	sleep           SleepFunc

	mu   sync.Mutex
	busy bool
	run  *Run
}

type EngineOption func(*Engine)

// WithPollConfig overrides the interval and attempt cap for both waits.
func WithPollConfig(interval time.Duration, maxAttempts int) EngineOption {
	return func(e *Engine) {
		e.pollInterval = interval
		e.pollMaxAttempts = maxAttempts
	}
}

// WithSleep injects the inter-tick wait, used by tests to poll without
// a wall clock.
func WithSleep(sleep SleepFunc) EngineOption {
	return func(e *Engine) { e.sleep = sleep }
}

func NewEngine(api API, log logger.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		api:             api,
		log:             log.WithFields(map[string]interface{}{"component": "engine"}),
		rand:            func() string { return uuid.New().String() },
		pollInterval:    DefaultPollInterval,
		pollMaxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.NewRun()
	return e
}

// NewRun discards the current run and starts a fresh one at the first
// stage. Recovery from a declined outcome is always a fresh run.
func (e *Engine) NewRun() *Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	e.run = &Run{
		ID:        e.rand(),
		Stage:     StageSelectProduct,
		StartedAt: now,
		UpdatedAt: now,
	}
	return e.run
}

// Restore replaces the current run with a previously saved snapshot,
// e.g. a held run reloaded after a restart.
func (e *Engine) Restore(run *Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run = run
}

// Snapshot returns a copy of the run record for persistence or display.
func (e *Engine) Snapshot() Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.run
}

// begin enforces the ordering guarantee: at most one outstanding stage
// action per workflow instance.
func (e *Engine) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return fmt.Errorf("%w: another stage action is still outstanding", ErrStageBusy)
	}
	e.busy = true
	return nil
}

func (e *Engine) end() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

func (e *Engine) requireStage(want Stage) error {
	if e.run.Stage != want {
		return fmt.Errorf("%w: action requires stage %s, run is at %s", ErrInvalidStage, want, e.run.Stage)
	}
	return nil
}

// commit applies a mutation to the run under the lock so concurrent
// Snapshot callers always see a consistent record. The busy guard
// serializes actions, not readers; every write goes through here or
// transition.
func (e *Engine) commit(mutate func(run *Run)) {
	e.mu.Lock()
	mutate(e.run)
	e.run.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()
}

func (e *Engine) transition(to Stage) {
	e.mu.Lock()
	from := e.run.Stage
	e.run.Stage = to
	e.run.Held = false
	e.run.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	metrics.StageTransitions.WithLabelValues(from.String(), to.String()).Inc()
	e.log.Info("stage transition", map[string]interface{}{
		"runId": e.run.ID,
		"from":  from.String(),
		"to":    to.String(),
	})
}

func (e *Engine) fail(stage Stage, err error) error {
	code := errorCode(err)
	metrics.StageFailures.WithLabelValues(stage.String(), code).Inc()
	e.log.WithError(err).Error("stage action failed", map[string]interface{}{
		"runId": e.run.ID,
		"stage": stage.String(),
		"code":  code,
	})
	return err
}

// resolveDeclined records a terminal business decline. It is a run
// outcome, not a stage failure: no failure counter, no error-level log.
func (e *Engine) resolveDeclined(outcome Outcome, err *commonerrors.DeclinedOutcome) error {
	metrics.RunOutcomes.WithLabelValues(string(outcome)).Inc()
	e.log.Info("run resolved as declined", map[string]interface{}{
		"runId":   e.run.ID,
		"stage":   err.Stage,
		"outcome": string(outcome),
		"reason":  err.Reason,
	})
	return err
}

func errorCode(err error) string {
	var (
		validationErr *commonerrors.ValidationError
		remoteErr     *commonerrors.RemoteError
		timeoutErr    *commonerrors.PollTimeout
		declinedErr   *commonerrors.DeclinedOutcome
	)
	switch {
	case errors.As(err, &validationErr):
		return string(commonerrors.ErrCodeValidationFailed)
	case errors.As(err, &remoteErr):
		return string(commonerrors.ErrCodeRemoteFailed)
	case errors.As(err, &timeoutErr):
		return string(commonerrors.ErrCodePollTimeout)
	case errors.As(err, &declinedErr):
		return string(commonerrors.ErrCodeDeclined)
	case errors.Is(err, ErrInvalidStage):
		return string(commonerrors.ErrCodeInvalidStage)
	case errors.Is(err, ErrStageBusy):
		return string(commonerrors.ErrCodeStageBusy)
	}
	return "UNKNOWN_ERROR"
}

// --- Stage actions ---

// SelectProduct commits the product choice and advances to the quote
// stage.
func (e *Engine) SelectProduct(ctx context.Context, slug string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.requireStage(StageSelectProduct); err != nil {
		return e.fail(e.run.Stage, err)
	}

	product, err := e.api.GetProduct(ctx, slug)
	if err != nil {
		return e.fail(StageSelectProduct, err)
	}

	e.commit(func(run *Run) { run.Product = product })
	e.transition(StageQuote)
	return nil
}

// RequestQuote validates the quote form and prices it. Validation
// failures never reach the network.
func (e *Engine) RequestQuote(ctx context.Context, form QuoteForm) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.requireStage(StageQuote); err != nil {
		return e.fail(e.run.Stage, err)
	}

	if msgs := ValidateQuoteForm(e.run.Product, form); len(msgs) > 0 {
		return e.fail(StageQuote, commonerrors.NewValidationError(msgs))
	}

	quote, err := e.api.CreateQuote(ctx, insurance.QuoteInput{
		ProductSlug:    e.run.Product.Slug,
		CoverageAmount: form.CoverageAmount,
		TermYears:      e.run.Product.TermYears,
		Age:            form.Age,
		Smoker:         form.Smoker,
	})
	if err != nil {
		return e.fail(StageQuote, err)
	}

	e.commit(func(run *Run) {
		run.Quote = quote
		run.Age = form.Age
		run.Smoker = form.Smoker
	})
	e.transition(StageApplicant)
	return nil
}

// CreateApplication validates the applicant form and creates the
// application from the committed quote.
func (e *Engine) CreateApplication(ctx context.Context, form ApplicantForm) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.requireStage(StageApplicant); err != nil {
		return e.fail(e.run.Stage, err)
	}

	if msgs := ValidateApplicantForm(form); len(msgs) > 0 {
		return e.fail(StageApplicant, commonerrors.NewValidationError(msgs))
	}

	app, err := e.api.CreateApplication(ctx, insurance.ApplicationInput{
		QuoteID:   e.run.Quote.ID,
		Applicant: e.applicant(form),
	})
	if err != nil {
		return e.fail(StageApplicant, err)
	}

	e.commit(func(run *Run) { run.Application = app })
	e.transition(StageAwaitSubmission)
	return nil
}

// AmendApplicant corrects applicant details while the application is
// still awaiting submission.
func (e *Engine) AmendApplicant(ctx context.Context, form ApplicantForm) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.requireStage(StageAwaitSubmission); err != nil {
		return e.fail(e.run.Stage, err)
	}

	if msgs := ValidateApplicantForm(form); len(msgs) > 0 {
		return e.fail(StageAwaitSubmission, commonerrors.NewValidationError(msgs))
	}

	applicant := e.applicant(form)
	app, err := e.api.PatchApplication(ctx, e.run.Application.ID, insurance.ApplicationPatch{
		Applicant: &applicant,
	})
	if err != nil {
		return e.fail(StageAwaitSubmission, err)
	}

	e.commit(func(run *Run) { run.Application = app })
	return nil
}

func (e *Engine) applicant(form ApplicantForm) insurance.Applicant {
	return insurance.Applicant{
		FirstName:   form.FirstName,
		LastName:    form.LastName,
		Email:       form.Email,
		DateOfBirth: form.DateOfBirth,
		Age:         e.run.Age,
		Smoker:      e.run.Smoker,
		State:       form.State,
	}
}

// Submit marks the application submitted and advances to underwriting.
// The caller then drives the wait with AwaitDecision.
func (e *Engine) Submit(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.requireStage(StageAwaitSubmission); err != nil {
		return e.fail(e.run.Stage, err)
	}

	app, err := e.api.SubmitApplication(ctx, e.run.Application.ID)
	if err != nil {
		return e.fail(StageAwaitSubmission, err)
	}

	e.commit(func(run *Run) { run.Application = app })
	e.transition(StageUnderwriting)
	return nil
}

// AwaitDecision polls until the application reaches a decision or a
// matching underwriting case is referred. The committed entities are
// only updated once the wait resolves.
//
// Resolutions:
//   - approved: advances to the offer stage
//   - referred: holds at underwriting pending a human decision;
//     AwaitDecision may be called again after the operator decides
//   - declined: terminal; returned as a *commonerrors.DeclinedOutcome
//   - timeout: holds at underwriting; returned as *commonerrors.PollTimeout
func (e *Engine) AwaitDecision(ctx context.Context) (DecisionOutcome, error) {
	if err := e.begin(); err != nil {
		return "", err
	}
	defer e.end()

	if err := e.requireStage(StageUnderwriting); err != nil {
		return "", e.fail(e.run.Stage, err)
	}

	appID := e.run.Application.ID
	poller := NewPoller[decisionProbe]("underwriting_decision", e.pollInterval, e.pollMaxAttempts)
	if e.sleep != nil {
		poller.Sleep = e.sleep
	}

	probe, err := poller.Run(ctx,
		func(ctx context.Context) (decisionProbe, error) {
			app, err := e.api.GetApplication(ctx, appID)
			if err != nil {
				return decisionProbe{}, err
			}
			probe := decisionProbe{app: app}

			// A bare under_review is ambiguous: the case list is the
			// only place a referral shows up.
			if app.Status == insurance.ApplicationStatusUnderReview {
				cases, err := e.api.ListUnderwritingCases(ctx)
				if err != nil {
					return decisionProbe{}, err
				}
				for i := range cases {
					if cases[i].ApplicationID == appID && cases[i].Decision == insurance.UWDecisionReferred {
						probe.uwCase = &cases[i]
						break
					}
				}
			}
			return probe, nil
		},
		func(p decisionProbe) bool {
			if p.app.Status == insurance.ApplicationStatusApproved || p.app.Status == insurance.ApplicationStatusDeclined {
				return true
			}
			return p.uwCase != nil
		},
	)

	var timeoutErr *commonerrors.PollTimeout
	if errors.As(err, &timeoutErr) {
		e.commit(func(run *Run) { run.Held = true })
		return "", e.fail(StageUnderwriting, err)
	}
	if err != nil {
		return "", e.fail(StageUnderwriting, err)
	}

	e.commit(func(run *Run) { run.Application = probe.app })

	if probe.uwCase != nil {
		e.commit(func(run *Run) {
			run.Case = probe.uwCase
			run.Held = true
		})
		e.log.Info("underwriting referred for manual review", map[string]interface{}{
			"runId":  e.run.ID,
			"caseId": probe.uwCase.ID,
			"score":  probe.uwCase.RiskScore.Score,
		})
		return DecisionReferred, nil
	}

	// A known case (from an earlier referral) is refreshed so the final
	// decision metadata is visible; it drops out of the open-case list
	// once decided.
	if e.run.Case != nil {
		uwCase, err := e.api.GetUnderwritingCase(ctx, e.run.Case.ID)
		if err != nil {
			return "", e.fail(StageUnderwriting, err)
		}
		e.commit(func(run *Run) { run.Case = uwCase })
	}

	if probe.app.Status == insurance.ApplicationStatusDeclined {
		e.commit(func(run *Run) {
			run.Held = false
			run.Outcome = OutcomeDeclined
		})
		reason := "application declined by underwriting"
		if e.run.Case != nil && e.run.Case.Reason != "" {
			reason = e.run.Case.Reason
		}
		return DecisionDeclined, e.resolveDeclined(OutcomeDeclined, commonerrors.NewDeclinedOutcome(StageUnderwriting.String(), reason))
	}

	e.transition(StageOffer)
	return DecisionApproved, nil
}

// DecideCase records an operator decision on the held, referred case.
// The caller re-runs AwaitDecision afterwards to observe the outcome.
func (e *Engine) DecideCase(ctx context.Context, input insurance.UWDecisionInput) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.requireStage(StageUnderwriting); err != nil {
		return e.fail(e.run.Stage, err)
	}
	if e.run.Case == nil {
		return e.fail(StageUnderwriting, fmt.Errorf("%w: no referred case to decide", ErrInvalidStage))
	}

	uwCase, err := e.api.DecideUnderwritingCase(ctx, e.run.Case.ID, input)
	if err != nil {
		return e.fail(StageUnderwriting, err)
	}

	e.commit(func(run *Run) { run.Case = uwCase })
	return nil
}

// GenerateOffer creates the offer for the approved application.
func (e *Engine) GenerateOffer(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.requireStage(StageOffer); err != nil {
		return e.fail(e.run.Stage, err)
	}
	if e.run.Offer != nil {
		return e.fail(StageOffer, fmt.Errorf("%w: offer already generated", ErrInvalidStage))
	}

	offer, err := e.api.CreateOffer(ctx, e.run.Application.ID)
	if err != nil {
		return e.fail(StageOffer, err)
	}

	e.commit(func(run *Run) { run.Offer = offer })
	return nil
}

// AcceptOffer accepts the pending offer and advances to the policy
// stage; issuance completes asynchronously and is observed with
// AwaitPolicy.
func (e *Engine) AcceptOffer(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.requireStage(StageOffer); err != nil {
		return e.fail(e.run.Stage, err)
	}
	if e.run.Offer == nil {
		return e.fail(StageOffer, fmt.Errorf("%w: no offer to accept", ErrInvalidStage))
	}

	offer, err := e.api.AcceptOffer(ctx, e.run.Offer.ID)
	if err != nil {
		return e.fail(StageOffer, err)
	}

	e.commit(func(run *Run) { run.Offer = offer })
	e.transition(StagePolicy)
	return nil
}

// DeclineOffer declines the pending offer. This is a terminal business
// outcome for the run.
func (e *Engine) DeclineOffer(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.requireStage(StageOffer); err != nil {
		return e.fail(e.run.Stage, err)
	}
	if e.run.Offer == nil {
		return e.fail(StageOffer, fmt.Errorf("%w: no offer to decline", ErrInvalidStage))
	}

	offer, err := e.api.DeclineOffer(ctx, e.run.Offer.ID)
	if err != nil {
		return e.fail(StageOffer, err)
	}

	e.commit(func(run *Run) {
		run.Offer = offer
		run.Outcome = OutcomeOfferDeclined
	})
	return e.resolveDeclined(OutcomeOfferDeclined, commonerrors.NewDeclinedOutcome(StageOffer.String(), "offer declined"))
}

// AwaitPolicy polls until a policy appears for the accepted offer's
// application. Absence of a policy means issuance is still in flight.
func (e *Engine) AwaitPolicy(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.requireStage(StagePolicy); err != nil {
		return e.fail(e.run.Stage, err)
	}

	appID := e.run.Application.ID
	poller := NewPoller[*insurance.PolicyList]("policy_issuance", e.pollInterval, e.pollMaxAttempts)
	if e.sleep != nil {
		poller.Sleep = e.sleep
	}

	list, err := poller.Run(ctx,
		func(ctx context.Context) (*insurance.PolicyList, error) {
			return e.api.ListPolicies(ctx, insurance.PolicyFilter{ApplicationID: appID})
		},
		func(list *insurance.PolicyList) bool {
			return len(list.Items) > 0
		},
	)

	var timeoutErr *commonerrors.PollTimeout
	if errors.As(err, &timeoutErr) {
		e.commit(func(run *Run) { run.Held = true })
		return e.fail(StagePolicy, err)
	}
	if err != nil {
		return e.fail(StagePolicy, err)
	}

	e.commit(func(run *Run) {
		run.Policy = &list.Items[0]
		run.Held = false
		run.Outcome = OutcomeIssued
	})
	metrics.RunOutcomes.WithLabelValues(string(OutcomeIssued)).Inc()
	e.log.Info("policy issued", map[string]interface{}{
		"runId":        e.run.ID,
		"policyNumber": e.run.Policy.Number,
	})
	return nil
}
