package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "falconlic/internal/errors"
	"falconlic/internal/license"
	custommw "falconlic/internal/middleware"
)

// TiersHandler serves the static tier catalog.
type TiersHandler struct{}

// NewTiersHandler creates a new tiers handler
func NewTiersHandler() *TiersHandler {
	return &TiersHandler{}
}

// Routes returns the chi router for tier endpoints.
func (h *TiersHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{tier}", h.Get)
	return r
}

// List handles GET /api/tiers.
func (h *TiersHandler) List(w http.ResponseWriter, r *http.Request) {
	tiers := license.AllTiers()
	defs := make([]license.TierDefinition, 0, len(tiers))
	for _, t := range tiers {
		defs = append(defs, license.FeaturesOf(t))
	}
	render.JSON(w, r, map[string]any{"tiers": defs})
}

// Get handles GET /api/tiers/{tier}. Unknown tier names are a 404, not
// a silent free fallback: this endpoint serves the catalog, not an
// untrusted payload.
func (h *TiersHandler) Get(w http.ResponseWriter, r *http.Request) {
	t := license.Tier(chi.URLParam(r, "tier"))
	if !t.Valid() {
		problem := apierrors.NewProblemDetails(
			http.StatusNotFound,
			apierrors.TypeNotFound,
			"Tier Not Found",
			"No such tier: "+string(t),
			r.URL.Path,
		).WithExtension("trace_id", custommw.GetRequestID(r.Context()))
		render.Render(w, r, problem)
		return
	}
	render.JSON(w, r, license.FeaturesOf(t))
}
