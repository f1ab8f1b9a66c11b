package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "falconlic/internal/errors"
	"falconlic/internal/license"
	custommw "falconlic/internal/middleware"
)

// maxWebhookBody bounds the webhook payload size.
const maxWebhookBody = 64 * 1024

// WebhookHandler turns payment provider events into license
// operations: purchase issues, a repeat payment reference renews,
// refund and cancellation revoke.
type WebhookHandler struct {
	issuer   *license.Issuer
	licenses license.LicenseStore
	secrets  map[string]string
	errs     *apierrors.ErrorHandler
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler. secrets maps a
// provider name to its HMAC signing secret; providers without an entry
// are rejected.
func NewWebhookHandler(issuer *license.Issuer, licenses license.LicenseStore, secrets map[string]string, errs *apierrors.ErrorHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		issuer:   issuer,
		licenses: licenses,
		secrets:  secrets,
		errs:     errs,
		logger:   logger.With(slog.String("handler", "webhook")),
	}
}

// WebhookEvent is the generic payment event shape.
type WebhookEvent struct {
	Event      string `json:"event"`
	PaymentRef string `json:"payment_ref"`
	UserID     string `json:"user_id,omitempty"`
	Email      string `json:"email,omitempty"`
	Tier       string `json:"tier,omitempty"`
	AutoRenew  bool   `json:"auto_renew,omitempty"`
}

// Routes returns the chi router for webhook endpoints.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.Handle)
	return r
}

// Handle handles POST /api/webhook/{provider}. The raw body is
// authenticated with HMAC-SHA256 before any parsing.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")

	secret, ok := h.secrets[provider]
	if !ok || secret == "" {
		h.reject(w, r, http.StatusNotFound, apierrors.TypeNotFound,
			"Unknown Provider", "No webhook is configured for provider "+provider)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.reject(w, r, http.StatusBadRequest, apierrors.TypeValidation,
			"Invalid Payload", "Could not read request body")
		return
	}

	if !verifySignature(body, r.Header.Get("X-Webhook-Signature"), secret) {
		h.logger.WarnContext(ctx, "webhook signature rejected",
			slog.String("provider", provider),
			slog.String("remote_addr", r.RemoteAddr))
		h.reject(w, r, http.StatusUnauthorized, apierrors.TypeInvalidSignature,
			"Invalid Signature", "The webhook signature did not verify")
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.reject(w, r, http.StatusBadRequest, apierrors.TypeValidation,
			"Invalid Payload", "Could not parse event JSON")
		return
	}
	if event.PaymentRef == "" {
		h.reject(w, r, http.StatusBadRequest, apierrors.TypeValidation,
			"Invalid Payload", "payment_ref is required")
		return
	}

	switch event.Event {
	case "purchase", "payment.completed":
		h.handlePurchase(w, r, provider, event)
	case "refund", "cancellation", "subscription.cancelled":
		h.handleRevocation(w, r, event)
	default:
		// Unknown events are acknowledged so providers do not retry
		// them forever.
		h.logger.InfoContext(ctx, "webhook event ignored",
			slog.String("provider", provider),
			slog.String("event", event.Event))
		render.JSON(w, r, map[string]any{"status": "ignored"})
	}
}

// handlePurchase issues a license for a fresh payment reference and
// renews for a known one.
func (h *WebhookHandler) handlePurchase(w http.ResponseWriter, r *http.Request, provider string, event WebhookEvent) {
	ctx := r.Context()

	existing, err := h.licenses.ByPaymentRef(ctx, event.PaymentRef)
	switch {
	case err == nil:
		lic, err := h.issuer.Renew(ctx, event.PaymentRef)
		if err != nil {
			h.errs.HandleError(w, r, err)
			return
		}
		h.logger.InfoContext(ctx, "webhook renewal processed",
			slog.String("provider", provider),
			slog.String("user_id", existing.UserID))
		render.JSON(w, r, map[string]any{"status": "renewed", "license": lic})

	case errors.Is(err, license.ErrNotFound):
		if event.UserID == "" || event.Tier == "" {
			h.reject(w, r, http.StatusBadRequest, apierrors.TypeValidation,
				"Invalid Payload", "user_id and tier are required for a purchase event")
			return
		}
		lic, err := h.issuer.Issue(ctx, license.IssueParams{
			UserID:          event.UserID,
			Email:           event.Email,
			Tier:            license.ParseTier(event.Tier),
			PaymentRef:      event.PaymentRef,
			PaymentProvider: provider,
			AutoRenew:       event.AutoRenew,
		})
		if err != nil {
			h.errs.HandleError(w, r, err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"status":    "issued",
			"license":   lic,
			"deep_link": "falcon://activate?key=" + lic.Key,
		})

	default:
		h.errs.HandleError(w, r, err)
	}
}

func (h *WebhookHandler) handleRevocation(w http.ResponseWriter, r *http.Request, event WebhookEvent) {
	ctx := r.Context()

	lic, err := h.licenses.ByPaymentRef(ctx, event.PaymentRef)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}

	revoked, err := h.issuer.Revoke(ctx, lic.Key, "payment "+event.Event)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"status": "revoked", "license": revoked})
}

func (h *WebhookHandler) reject(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	problem := apierrors.NewProblemDetails(status, problemType, title, detail, r.URL.Path).
		WithExtension("trace_id", custommw.GetRequestID(r.Context()))
	render.Render(w, r, problem)
}

// verifySignature checks a hex HMAC-SHA256 over the raw body with a
// constant-time compare.
func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
