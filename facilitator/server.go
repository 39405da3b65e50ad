package facilitator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/smart402/x402-go"
	"github.com/smart402/x402-go/encoding"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_facilitator_requests_total",
		Help: "Total facilitator HTTP requests, labeled by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "x402_facilitator_request_duration_seconds",
		Help:    "Latency distribution of facilitator requests",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"endpoint"})
)

// VerifyRequest is the payload sent to POST /verify.
type VerifyRequest struct {
	// Header holds the payment header as wire key/value pairs.
	Header map[string]string `json:"header"`

	// Conditions lists the contract conditions that must hold.
	Conditions []string `json:"conditions,omitempty"`
}

// SettleRequest is the payload sent to POST /settle.
type SettleRequest struct {
	Header     map[string]string `json:"header"`
	Conditions []string          `json:"conditions,omitempty"`
}

// Handler serves the facilitator JSON protocol.
type Handler struct {
	svc Interface
	log *slog.Logger
}

// NewHandler builds an HTTP handler over the given facilitator.
func NewHandler(svc Interface, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Router returns a mux router exposing the facilitator endpoints along
// with /health and Prometheus /metrics.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/verify", h.verify).Methods(http.MethodPost)
	r.HandleFunc("/settle", h.settle).Methods(http.MethodPost)
	r.HandleFunc("/status/{id}", h.status).Methods(http.MethodGet)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "/health")
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(requestDuration.WithLabelValues("/verify"))
	defer timer.ObserveDuration()

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed JSON body", "/verify")
		return
	}

	header, err := headerFromWire(req.Header)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "/verify")
		return
	}

	resp, err := h.svc.Verify(r.Context(), header, req.Conditions)
	if err != nil {
		h.log.Error("verify failed", "error", err)
		respondError(w, http.StatusInternalServerError, "verification error", "/verify")
		return
	}
	respondJSON(w, http.StatusOK, resp, "/verify")
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(requestDuration.WithLabelValues("/settle"))
	defer timer.ObserveDuration()

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed JSON body", "/settle")
		return
	}

	header, err := headerFromWire(req.Header)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "/settle")
		return
	}

	resp, err := h.svc.Settle(r.Context(), header, req.Conditions)
	if err != nil {
		h.log.Error("settle failed", "error", err)
		respondError(w, http.StatusInternalServerError, "settlement error", "/settle")
		return
	}
	respondJSON(w, http.StatusOK, resp, "/settle")
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	resp, err := h.svc.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, x402.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "record not found", "/status")
			return
		}
		h.log.Error("status lookup failed", "record_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "status error", "/status")
		return
	}
	respondJSON(w, http.StatusOK, resp, "/status")
}

// headerFromWire rebuilds a payment header from wire key/value pairs.
func headerFromWire(m map[string]string) (x402.Header, error) {
	fields := make([]encoding.Field, 0, len(m))
	for k, v := range m {
		fields = append(fields, encoding.Field{Key: k, Value: v})
	}
	return encoding.Decode(fields)
}

// headerToWire flattens a payment header into wire key/value pairs.
func headerToWire(h x402.Header) (map[string]string, error) {
	fields, err := encoding.Encode(h)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m, nil
}

func respondError(w http.ResponseWriter, code int, message, endpoint string) {
	respondJSON(w, code, map[string]string{"error": message}, endpoint)
}

func respondJSON(w http.ResponseWriter, code int, payload any, endpoint string) {
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
