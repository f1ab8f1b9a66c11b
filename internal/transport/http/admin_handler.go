package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	apierrors "falconlic/internal/errors"
	"falconlic/internal/license"
	custommw "falconlic/internal/middleware"
)

const defaultAuditLimit = 100

// AdminHandler handles the administrative surface: issuance, renewal,
// revocation and audit access. The router mounts it behind AdminAuth.
type AdminHandler struct {
	issuer *license.Issuer
	audit  license.AuditReader
	errs   *apierrors.ErrorHandler
	logger *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(issuer *license.Issuer, audit license.AuditReader, errs *apierrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		issuer: issuer,
		audit:  audit,
		errs:   errs,
		logger: logger.With(slog.String("handler", "admin")),
	}
}

// GenerateRequest is the payload for POST /api/license/generate
type GenerateRequest struct {
	UserID          string `json:"user_id" validate:"required"`
	Email           string `json:"email,omitempty" validate:"omitempty,email"`
	Tier            string `json:"tier" validate:"required"`
	ExpiresDays     *int   `json:"expires_days,omitempty" validate:"omitempty,gt=0"`
	HardwareID      string `json:"hardware_id,omitempty"`
	Floating        bool   `json:"floating,omitempty"`
	PaymentRef      string `json:"payment_ref,omitempty"`
	PaymentProvider string `json:"payment_provider,omitempty"`
	AutoRenew       bool   `json:"auto_renew,omitempty"`
}

// Bind implements render.Binder
func (g *GenerateRequest) Bind(r *http.Request) error {
	if err := validateStruct(g); err != nil {
		return err
	}
	// Tier membership is domain knowledge the tag language cannot carry.
	if !license.Tier(g.Tier).Valid() {
		return errors.New("unknown tier: " + g.Tier)
	}
	return nil
}

// RenewRequest is the payload for POST /api/license/renew
type RenewRequest struct {
	PaymentRef string `json:"payment_ref" validate:"required"`
}

// Bind implements render.Binder
func (rr *RenewRequest) Bind(r *http.Request) error {
	return validateStruct(rr)
}

// RevokeRequest is the payload for POST /api/license/revoke
type RevokeRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

// Bind implements render.Binder
func (rv *RevokeRequest) Bind(r *http.Request) error {
	return validateStruct(rv)
}

// Generate handles POST /api/license/generate.
func (h *AdminHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &GenerateRequest{}
	if err := render.Bind(r, req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	lic, err := h.issuer.Issue(ctx, license.IssueParams{
		UserID:          req.UserID,
		Email:           req.Email,
		Tier:            license.Tier(req.Tier),
		ExpiresDays:     req.ExpiresDays,
		HardwareID:      req.HardwareID,
		Floating:        req.Floating,
		PaymentRef:      req.PaymentRef,
		PaymentProvider: req.PaymentProvider,
		AutoRenew:       req.AutoRenew,
	})
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, lic)
}

// Renew handles POST /api/license/renew.
func (h *AdminHandler) Renew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &RenewRequest{}
	if err := render.Bind(r, req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	lic, err := h.issuer.Renew(ctx, req.PaymentRef)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, lic)
}

// Revoke handles POST /api/license/revoke.
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &RevokeRequest{}
	if err := render.Bind(r, req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	lic, err := h.issuer.Revoke(ctx, req.LicenseKey, req.Reason)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, lic)
}

// Audit handles GET /api/audit?limit=N.
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			h.badRequest(w, r, errors.New("limit must be an integer between 1 and 1000"))
			return
		}
		limit = n
	}

	records, err := h.audit.Recent(ctx, limit)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"records": records, "count": len(records)})
}

func (h *AdminHandler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	problem := apierrors.NewProblemDetails(
		http.StatusBadRequest,
		apierrors.TypeValidation,
		"Validation Failed",
		err.Error(),
		r.URL.Path,
	).WithExtension("trace_id", custommw.GetRequestID(r.Context()))
	render.Render(w, r, problem)
}
