package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	x402 "github.com/smart402/x402-go"
	"github.com/smart402/x402-go/batch"
	"github.com/smart402/x402-go/encoding"
	"github.com/smart402/x402-go/executor"
	"github.com/smart402/x402-go/tracker"
)

// Config holds the configuration for the provider-side X402 middleware.
type Config struct {
	// Registry resolves contracts to their payment terms.
	Registry x402.ContractRegistry

	// Executor authorizes and submits payments.
	Executor *executor.Executor

	// Tracker registers submitted records for receipt polling. Optional;
	// without it, submitted records are returned to the payer but not
	// advanced to a terminal state by this process.
	Tracker *tracker.Tracker

	// Settler aggregates payments instead of settling them directly.
	// Optional; when set, accepted payments are enqueued for batch
	// settlement rather than submitted one by one.
	Settler *batch.Settler

	// ContractID maps a request to the contract it is billed under. A
	// return of "" leaves the request unprotected.
	ContractID func(*http.Request) string

	// Conditions maps a request to the condition ids that must hold
	// before settlement. Optional.
	Conditions func(*http.Request) []string

	// VerifyOnly authorizes payments without settling them.
	VerifyOnly bool

	// Logger overrides the slog logger.
	Logger *slog.Logger
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// paymentContextKey stores the accepted payment record on the request
// context.
const paymentContextKey = contextKey("x402_payment_record")

// PaymentFromContext returns the accepted payment record stored by the
// middleware, if any.
func PaymentFromContext(ctx context.Context) (x402.PaymentRecord, bool) {
	rec, ok := ctx.Value(paymentContextKey).(x402.PaymentRecord)
	return rec, ok
}

// NewMiddleware wraps handlers with X402 payment gating. Requests
// without payment headers receive a 402 challenge advertising the
// contract's terms; requests carrying a header are decoded, authorized,
// and settled (directly, or through the batch settler when configured)
// before the protected handler runs.
func NewMiddleware(cfg Config) func(http.Handler) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			contractID := ""
			if cfg.ContractID != nil {
				contractID = cfg.ContractID(r)
			}
			if contractID == "" {
				next.ServeHTTP(w, r)
				return
			}

			var conditions []string
			if cfg.Conditions != nil {
				conditions = cfg.Conditions(r)
			}

			terms, err := cfg.Registry.GetTerms(r.Context(), contractID)
			if err != nil {
				requestsTotal.WithLabelValues("no_terms").Inc()
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !encoding.HasPaymentHeader(r.Header) {
				requestsTotal.WithLabelValues("challenged").Inc()
				WriteChallenge(w, *terms, conditions, "")
				return
			}

			header, err := encoding.ReadHTTPHeader(r.Header)
			if err != nil {
				requestsTotal.WithLabelValues("malformed").Inc()
				w.Header().Set(ErrorHeader, err.Error())
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			rec, err := cfg.Executor.Authorize(r.Context(), header, conditions)
			if err != nil {
				requestsTotal.WithLabelValues("refused").Inc()
				log.Info("payment refused", "contract_id", contractID, "error", err)
				WriteChallenge(w, *terms, conditions, err.Error())
				return
			}

			if !cfg.VerifyOnly {
				rec, err = settle(r.Context(), cfg, rec)
				if err != nil {
					requestsTotal.WithLabelValues("settlement_failed").Inc()
					log.Error("settlement failed", "record_id", rec.ID, "error", err)
					w.Header().Set(ErrorHeader, err.Error())
					http.Error(w, err.Error(), http.StatusBadGateway)
					return
				}
			}

			requestsTotal.WithLabelValues("accepted").Inc()
			w.Header().Set(RecordHeader, rec.ID)
			w.Header().Set(StateHeader, string(rec.State))

			ctx := context.WithValue(r.Context(), paymentContextKey, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// settle moves an authorized record toward settlement: enqueue when a
// batch settler is configured, otherwise submit and track.
func settle(ctx context.Context, cfg Config, rec x402.PaymentRecord) (x402.PaymentRecord, error) {
	if cfg.Settler != nil {
		if _, err := cfg.Settler.Enqueue(ctx, rec); err != nil {
			return rec, err
		}
		return rec, nil
	}

	submitted, err := cfg.Executor.Submit(ctx, rec)
	if err != nil {
		return submitted, err
	}
	if cfg.Tracker != nil {
		if err := cfg.Tracker.Track(submitted); err != nil && !errors.Is(err, x402.ErrAlreadyTracked) {
			return submitted, err
		}
	}
	return submitted, nil
}
