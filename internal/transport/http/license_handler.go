package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "falconlic/internal/errors"
	"falconlic/internal/license"
	custommw "falconlic/internal/middleware"
)

// LicenseHandler handles the caller-facing license endpoints.
type LicenseHandler struct {
	engine   *license.Engine
	bindings *license.Bindings
	licenses license.LicenseStore
	errs     *apierrors.ErrorHandler
	logger   *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(engine *license.Engine, bindings *license.Bindings, licenses license.LicenseStore, errs *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		engine:   engine,
		bindings: bindings,
		licenses: licenses,
		errs:     errs,
		logger:   logger.With(slog.String("handler", "license")),
	}
}

// ValidateRequest is the payload for POST /api/license/validate
type ValidateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	HardwareID string `json:"hardware_id,omitempty"`
}

// Bind implements render.Binder
func (v *ValidateRequest) Bind(r *http.Request) error {
	return validateStruct(v)
}

// BindDeviceRequest is the payload for POST /api/license/bind-device.
// Either a precomputed hardware_id or the raw fingerprint components
// must be supplied.
type BindDeviceRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	HardwareID string `json:"hardware_id,omitempty"`

	CanvasHash string `json:"canvas_hash,omitempty"`
	WebGLHash  string `json:"webgl_hash,omitempty"`
	FontsHash  string `json:"fonts_hash,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`

	Force bool `json:"force,omitempty"`
}

// Bind implements render.Binder
func (b *BindDeviceRequest) Bind(r *http.Request) error {
	if err := validateStruct(b); err != nil {
		return err
	}
	// Cross-field: either a precomputed ID or at least one raw component.
	if b.HardwareID == "" && b.CanvasHash == "" && b.WebGLHash == "" && b.FontsHash == "" && b.UserAgent == "" {
		return errors.New("hardware_id or fingerprint components are required")
	}
	return nil
}

// VerifyTokenRequest is the payload for POST /api/license/verify-token
type VerifyTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// Bind implements render.Binder
func (v *VerifyTokenRequest) Bind(r *http.Request) error {
	return validateStruct(v)
}

// Validate handles POST /api/license/validate. The verdict is always
// 200: an invalid license is a domain outcome, not an HTTP failure.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")
	ctx, span := tracer.Start(ctx, "license_handler.validate",
		trace.WithAttributes(attribute.String("http.route", "/api/license/validate")))
	defer span.End()

	req := &ValidateRequest{}
	if err := render.Bind(r, req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	verdict, err := h.engine.Validate(ctx, req.LicenseKey, req.HardwareID, callerMeta(r))
	if err != nil {
		span.RecordError(err)
		h.errs.HandleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.Bool("license.valid", verdict.Valid),
		attribute.String("license.tier", string(verdict.Tier)),
	)
	render.JSON(w, r, verdict)
}

// BindDevice handles POST /api/license/bind-device.
func (h *LicenseHandler) BindDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")
	ctx, span := tracer.Start(ctx, "license_handler.bind_device",
		trace.WithAttributes(attribute.String("http.route", "/api/license/bind-device")))
	defer span.End()

	req := &BindDeviceRequest{}
	if err := render.Bind(r, req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	lic, err := h.licenses.ByKey(ctx, req.LicenseKey)
	if err != nil {
		span.RecordError(err)
		h.errs.HandleError(w, r, err)
		return
	}

	comps := license.FingerprintComponents{
		CanvasHash: req.CanvasHash,
		WebGLHash:  req.WebGLHash,
		FontsHash:  req.FontsHash,
		UserAgent:  req.UserAgent,
	}
	fingerprint := req.HardwareID
	if fingerprint == "" {
		fingerprint = license.ComputeFingerprint(comps)
	}

	meta := callerMeta(r)
	meta.HardwareID = fingerprint

	binding, err := h.bindings.Bind(ctx, lic, fingerprint, comps, meta, req.Force)
	if err != nil {
		span.RecordError(err)
		h.errs.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "device bound",
		slog.String("license_id", lic.ID.String()),
		slog.String("change_reason", binding.ChangeReason))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, binding)
}

// Bindings handles GET /api/license/bindings/{key}.
func (h *LicenseHandler) Bindings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lic, err := h.licenses.ByKey(ctx, chi.URLParam(r, "key"))
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}

	history, err := h.bindings.BindingsOf(ctx, lic.ID)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, history)
}

// CanChange handles GET /api/license/can-change/{key}.
func (h *LicenseHandler) CanChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lic, err := h.licenses.ByKey(ctx, chi.URLParam(r, "key"))
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}

	elig, err := h.bindings.CanChangeDevice(ctx, lic.ID)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, elig)
}

// VerifyToken handles POST /api/license/verify-token.
func (h *LicenseHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	req := &VerifyTokenRequest{}
	if err := render.Bind(r, req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	claims, err := h.engine.VerifySessionToken(req.Token)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]any{
		"valid":       true,
		"user_id":     claims.UserID,
		"tier":        claims.Tier,
		"license_key": claims.LicenseKey,
		"expires_at":  claims.ExpiresAt.Time,
	})
}

func (h *LicenseHandler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	problem := apierrors.NewProblemDetails(
		http.StatusBadRequest,
		apierrors.TypeValidation,
		"Validation Failed",
		err.Error(),
		r.URL.Path,
	).WithExtension("trace_id", custommw.GetRequestID(r.Context()))
	render.Render(w, r, problem)
}

// callerMeta extracts the request metadata recorded in audit entries.
func callerMeta(r *http.Request) license.CallerMeta {
	return license.CallerMeta{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}
