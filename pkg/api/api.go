package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dailymind-app/dailymind-api/pkg/domain"
	"github.com/dailymind-app/dailymind-api/pkg/repository/ledger"
	"github.com/dailymind-app/dailymind-api/pkg/service/chat"
	"github.com/dailymind-app/dailymind-api/pkg/service/gate"
	"github.com/dailymind-app/dailymind-api/pkg/service/license"
	"github.com/dailymind-app/dailymind-api/pkg/service/payment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// premiumDurationDays is how long one verified payment keeps an account on
// the premium tier.
const premiumDurationDays = 30

// streamErrorNotice is appended in-band when the upstream relay fails after
// the response has started.
const streamErrorNotice = "I’m having trouble responding right now. Please try again."

// PaymentVerifier confirms a transaction reference with the payment
// provider before any upgrade is granted.
type PaymentVerifier interface {
	Verify(ctx context.Context, reference string) (*payment.Verification, error)
}

type Handler struct {
	service  chat.Service
	store    ledger.Ledger
	gate     *gate.Gate
	licenses *license.Issuer
	payments PaymentVerifier
	logger   *slog.Logger
}

func NewHandler(service chat.Service, store ledger.Ledger, g *gate.Gate, licenses *license.Issuer, payments PaymentVerifier, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		store:    store,
		gate:     g,
		licenses: licenses,
		payments: payments,
		logger:   logger,
	}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)

	r.Get("/health", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/payment-success", h.HandlePaymentSuccess)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat-stream", h.HandleChatStream)
		r.Post("/check-premium", h.HandleCheckPremium)
		r.Post("/license/validate", h.HandleValidateLicense)
		r.Post("/payments/webhook", h.HandlePaymentWebhook)
		r.Get("/admin/stats", h.HandleAdminStats)
		r.Post("/admin/config", h.HandleUpdateConfig)
	})

	return r
}

type ChatStreamRequest struct {
	Identity    string `json:"identity"`
	Text        string `json:"text"`
	Personality string `json:"personality,omitempty"`
	LicenseKey  string `json:"license_key,omitempty"`
}

func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Identity = strings.TrimSpace(req.Identity)
	req.Text = strings.TrimSpace(req.Text)
	if req.Identity == "" {
		respondWithError(w, http.StatusBadRequest, "Identity required")
		return
	}
	if req.Text == "" {
		respondWithError(w, http.StatusBadRequest, "Message required")
		return
	}

	decision, err := h.gate.Evaluate(r.Context(), req.Identity)
	if err != nil {
		h.logger.Error("gate evaluation failed", "identity", req.Identity, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !decision.Allowed {
		chatDecisionsTotal.WithLabelValues("denied").Inc()
		// Denials go out as plain text, same as the reply stream the
		// client would otherwise be reading.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, decision.Reason)
		return
	}
	chatDecisionsTotal.WithLabelValues("allowed").Inc()

	// A client disconnect must not abort the upstream read, so the call
	// does not use the request context.
	stream, err := h.service.StreamReply(context.Background(), chat.Request{
		Text:        req.Text,
		Premium:     decision.Premium,
		Personality: req.Personality,
	})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err != nil {
		h.logger.Error("upstream stream failed to open", "error", err)
		io.WriteString(w, streamErrorNotice)
		return
	}
	defer stream.Close()

	flusher, canFlush := w.(http.Flusher)
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			h.logger.Error("upstream stream broke", "error", err)
			io.WriteString(w, streamErrorNotice)
			return
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			// Client went away; keep draining upstream.
			continue
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

type IdentityRequest struct {
	Identity string `json:"identity"`
}

type CheckPremiumResponse struct {
	Premium bool `json:"premium"`
}

func (h *Handler) HandleCheckPremium(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Identity == "" {
		respondWithError(w, http.StatusBadRequest, "Identity required")
		return
	}

	premium, err := h.gate.Refresh(r.Context(), req.Identity)
	if err != nil {
		h.logger.Error("premium check failed", "identity", req.Identity, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, CheckPremiumResponse{Premium: premium})
}

type ValidateLicenseRequest struct {
	Identity   string `json:"identity"`
	LicenseKey string `json:"license_key"`
}

type ValidateLicenseResponse struct {
	Valid bool `json:"valid"`
}

func (h *Handler) HandleValidateLicense(w http.ResponseWriter, r *http.Request) {
	var req ValidateLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Identity == "" {
		respondWithError(w, http.StatusBadRequest, "Identity required")
		return
	}

	respondWithJSON(w, http.StatusOK, ValidateLicenseResponse{
		Valid: h.licenses.Validate(req.Identity, req.LicenseKey),
	})
}

type UpgradeResponse struct {
	Message    string `json:"message"`
	Tier       string `json:"tier"`
	LicenseKey string `json:"license_key"`
	ExpiresAt  string `json:"expires_at"`
}

func (h *Handler) HandlePaymentSuccess(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid payment reference")
		return
	}

	verification, err := h.payments.Verify(r.Context(), reference)
	if err != nil {
		h.logger.Warn("payment verification failed", "reference", reference, "error", err)
		respondWithError(w, http.StatusBadRequest, "Payment verification failed")
		return
	}

	account, err := h.upgrade(r.Context(), verification.Email)
	if err != nil {
		h.logger.Error("upgrade failed", "identity", verification.Email, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	upgradesTotal.WithLabelValues("callback").Inc()

	respondWithJSON(w, http.StatusOK, UpgradeResponse{
		Message:    "Upgrade successful",
		Tier:       string(account.Tier),
		LicenseKey: account.LicenseKey,
		ExpiresAt:  account.ExpiresAt.UTC().Format("2006-01-02"),
	})
}

type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Customer  struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

func (h *Handler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var event WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if event.Event != "charge.success" {
		// Acknowledge so the provider stops retrying events we ignore.
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if event.Data.Reference == "" {
		respondWithError(w, http.StatusBadRequest, "Missing transaction reference")
		return
	}

	// Never trust the payload: the email used for the upgrade comes from
	// the provider's verify endpoint, not from the webhook body.
	verification, err := h.payments.Verify(r.Context(), event.Data.Reference)
	if err != nil {
		h.logger.Warn("webhook verification failed", "reference", event.Data.Reference, "error", err)
		respondWithError(w, http.StatusBadRequest, "Payment verification failed")
		return
	}

	if _, err := h.upgrade(r.Context(), verification.Email); err != nil {
		h.logger.Error("webhook upgrade failed", "identity", verification.Email, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	upgradesTotal.WithLabelValues("webhook").Inc()

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats query failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

type UpdateConfigRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

func (h *Handler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	service, ok := h.service.(*chat.GPTService)
	if !ok {
		respondWithError(w, http.StatusNotImplemented, "Config updates not supported")
		return
	}
	service.UpdateConfig(chat.Config{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Config updated successfully"})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upgrade(ctx context.Context, email string) (*domain.Account, error) {
	key := h.licenses.Derive(email)
	return h.store.Upgrade(ctx, email, key, premiumDurationDays)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Helper functions for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}
