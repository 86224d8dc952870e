// cmd/journey-runner/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"insurance-journey/internal/common/config"
	"insurance-journey/internal/common/database"
	commonerrors "insurance-journey/internal/common/errors"
	"insurance-journey/internal/common/logger"
	"insurance-journey/internal/common/observability"
	"insurance-journey/internal/insurance"
	"insurance-journey/internal/journey"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting journey runner...",
		zap.String("apiBaseUrl", cfg.API.BaseURL),
		zap.Int("pollIntervalMs", cfg.Journey.PollInterval),
		zap.Int("pollMaxAttempts", cfg.Journey.PollMaxAttempts),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init Redis (optional) and the run store ---
	var store *journey.RunStore
	if cfg.Redis.Enabled {
		var redisClient *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")

		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		zapLog.Info("Redis connected successfully")

		store = journey.NewRunStore(redisClient, cfg.Journey.TTL(), log)
	}

	// --- Init Domain Client ---
	recorder := journey.NewRecorder(log)
	client := insurance.NewClient(cfg.API.BaseURL, cfg.API.APIKey,
		insurance.WithObserver(recorder),
		insurance.WithHTTPClient(&http.Client{Timeout: cfg.API.RequestTimeout()}),
	)

	// Verify the API is reachable before driving a journey against it.
	var products []insurance.Product
	err = retryWithBackoff(func() error {
		var err error
		products, err = client.ListProducts(ctx)
		return err
	}, 10, 2*time.Second, zapLog, "Insurance API connection")

	if err != nil {
		zapLog.Fatal("insurance api failed after retries", zap.Error(err))
	}
	if len(products) == 0 {
		zapLog.Fatal("insurance api returned no products")
	}
	zapLog.Info("Insurance API connected successfully", zap.Int("products", len(products)))

	engine := journey.NewEngine(client, log,
		journey.WithPollConfig(cfg.Journey.Interval(), cfg.Journey.PollMaxAttempts),
	)

	// --- Health & Metrics Server ---
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "healthy",
					"time":   time.Now().Format(time.RFC3339),
				})
			})
			mux.Handle("/metrics", promhttp.Handler())
			zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
			if err := http.ListenAndServe(cfg.Metrics.Address, mux); err != nil {
				zapLog.Error("Health/Metrics server failed", zap.Error(err))
			}
		}()
	}

	if err := runJourney(ctx, engine, store, obs, products[0].Slug, log); err != nil {
		if ctx.Err() != nil {
			zapLog.Info("Journey interrupted by shutdown signal")
			return
		}
		// A decline is a legitimate terminal resolution of the workflow,
		// not a process failure.
		var declined *commonerrors.DeclinedOutcome
		if errors.As(err, &declined) {
			zapLog.Info("Journey resolved: declined",
				zap.String("stage", declined.Stage),
				zap.String("reason", declined.Reason),
			)
			return
		}
		zapLog.Fatal("journey failed", zap.Error(err))
	}

	zapLog.Info("Journey runner finished")
}

// runJourney drives one complete issuance workflow: quote, application,
// underwriting wait, offer, policy wait. Held states are snapshotted to
// the store (when configured) and the waits re-triggered.
func runJourney(ctx context.Context, engine *journey.Engine, store *journey.RunStore, obs *observability.Observability, productSlug string, log logger.Logger) error {
	start := time.Now()
	defer func() {
		run := engine.Snapshot()
		if run.Terminal() {
			obs.RecordRunResolved(ctx, string(run.Outcome))
			obs.RecordRunDuration(ctx, time.Since(start), string(run.Outcome))
		}
	}()

	if err := engine.SelectProduct(ctx, productSlug); err != nil {
		return err
	}

	if err := engine.RequestQuote(ctx, journey.QuoteForm{
		CoverageAmount: 150000,
		Age:            35,
		Smoker:         false,
	}); err != nil {
		return err
	}
	snapshot(ctx, engine, store, log)

	if err := engine.CreateApplication(ctx, journey.ApplicantForm{
		FirstName:   "John",
		LastName:    "Doe",
		Email:       "john.doe@example.com",
		DateOfBirth: "1989-06-15",
		State:       "CA",
	}); err != nil {
		return err
	}

	if err := engine.Submit(ctx); err != nil {
		return err
	}
	snapshot(ctx, engine, store, log)

	if err := awaitDecision(ctx, engine, store, log); err != nil {
		return err
	}

	if err := engine.GenerateOffer(ctx); err != nil {
		return err
	}
	if err := engine.AcceptOffer(ctx); err != nil {
		return err
	}
	snapshot(ctx, engine, store, log)

	for {
		err := engine.AwaitPolicy(ctx)
		if err == nil {
			break
		}
		var timeoutErr *commonerrors.PollTimeout
		if errors.As(err, &timeoutErr) {
			// Issuance is taking longer than expected; the run is held
			// and the wait can simply be re-triggered.
			log.Warn("policy issuance still in flight, retrying wait", map[string]interface{}{
				"attempts": timeoutErr.Attempts,
			})
			snapshot(ctx, engine, store, log)
			continue
		}
		return err
	}

	run := engine.Snapshot()
	log.Info("journey complete", map[string]interface{}{
		"runId":        run.ID,
		"outcome":      string(run.Outcome),
		"policyNumber": run.Policy.Number,
		"elapsed":      time.Since(start).String(),
	})
	if store != nil {
		_ = store.Delete(ctx, run.ID)
	}
	return nil
}

// awaitDecision drives the underwriting wait, including the referred
// branch: a referred case is auto-approved here the way an operator
// console would, then the wait is re-triggered to observe the outcome.
func awaitDecision(ctx context.Context, engine *journey.Engine, store *journey.RunStore, log logger.Logger) error {
	for {
		outcome, err := engine.AwaitDecision(ctx)

		var timeoutErr *commonerrors.PollTimeout
		if errors.As(err, &timeoutErr) {
			log.Warn("underwriting decision still pending, retrying wait", map[string]interface{}{
				"attempts": timeoutErr.Attempts,
			})
			snapshot(ctx, engine, store, log)
			continue
		}
		if err != nil {
			var declined *commonerrors.DeclinedOutcome
			if errors.As(err, &declined) {
				log.Info("application declined", map[string]interface{}{
					"reason": declined.Reason,
				})
			}
			return err
		}

		switch outcome {
		case journey.DecisionApproved:
			return nil
		case journey.DecisionReferred:
			snapshot(ctx, engine, store, log)
			run := engine.Snapshot()
			log.Info("case referred for manual review, deciding", map[string]interface{}{
				"caseId": run.Case.ID,
			})
			if err := engine.DecideCase(ctx, insurance.UWDecisionInput{
				Decision: insurance.UWDecisionApproved,
				Reason:   "manual review completed",
			}); err != nil {
				return err
			}
		}
	}
}

func snapshot(ctx context.Context, engine *journey.Engine, store *journey.RunStore, log logger.Logger) {
	if store == nil {
		return
	}
	run := engine.Snapshot()
	if err := store.Save(ctx, run); err != nil {
		log.WithError(err).Warn("run snapshot save failed", map[string]interface{}{
			"runId": run.ID,
		})
	}
}
