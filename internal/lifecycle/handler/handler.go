// Package handler exposes the package lifecycle over HTTP. Delivery has
// no endpoint here; it is reachable only through code verification.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/lifecycle/models"
	"custodia/internal/lifecycle/service"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

type Handler struct {
	svc    *service.Service
	logger *slog.Logger

	// lockoutThreshold mirrors the verification policy so responses can
	// carry a derived attempts-remaining counter for front-desk staff.
	lockoutThreshold int
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func WithLockoutThreshold(threshold int) Option {
	return func(h *Handler) {
		if threshold > 0 {
			h.lockoutThreshold = threshold
		}
	}
}

func NewHandler(svc *service.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, logger: slog.Default(), lockoutThreshold: 5}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/packages", func(r chi.Router) {
		r.Post("/", h.intake)
		r.Route("/{packageID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/transition", h.transition)
			r.Post("/exception", h.markException)
			r.Post("/exception/resolve", h.resolveException)
		})
	})
}

type intakeRequest struct {
	CustomerID         string `json:"customer_id"`
	SuiteCode          string `json:"suite_code"`
	Description        string `json:"description"`
	WeightGrams        int64  `json:"weight_grams"`
	DeclaredValueCents int64  `json:"declared_value_cents"`
}

type transitionRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

type exceptionRequest struct {
	Reason string `json:"reason"`
}

type packageResponse struct {
	ID                 string     `json:"id"`
	TrackingCode       string     `json:"tracking_code"`
	Status             string     `json:"status"`
	HeldStatus         string     `json:"held_status,omitempty"`
	CustomerID         string     `json:"customer_id"`
	SuiteCode          string     `json:"suite_code"`
	Description        string     `json:"description,omitempty"`
	WeightGrams        int64      `json:"weight_grams"`
	DeclaredValueCents int64      `json:"declared_value_cents"`
	ShipmentID         string     `json:"shipment_id,omitempty"`
	CodeExpiresAt      *time.Time `json:"code_expires_at,omitempty"`
	AttemptsRemaining  *int       `json:"attempts_remaining,omitempty"`
	LockedUntil        *time.Time `json:"locked_until,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (h *Handler) toPackageResponse(pkg *models.Package) packageResponse {
	resp := packageResponse{
		ID:                 pkg.ID.String(),
		TrackingCode:       pkg.TrackingCode,
		Status:             pkg.Status.String(),
		CustomerID:         pkg.CustomerID.String(),
		SuiteCode:          pkg.SuiteCode,
		Description:        pkg.Description,
		WeightGrams:        pkg.WeightGrams,
		DeclaredValueCents: pkg.DeclaredValueCents,
		CodeExpiresAt:      pkg.CodeExpiresAt,
		CreatedAt:          pkg.CreatedAt,
		UpdatedAt:          pkg.UpdatedAt,
	}
	if pkg.HeldStatus != nil {
		resp.HeldStatus = pkg.HeldStatus.String()
	}
	if pkg.ShipmentID != nil {
		resp.ShipmentID = pkg.ShipmentID.String()
	}
	if pkg.CodeExpiresAt != nil && pkg.CodeUsedAt == nil {
		remaining := h.lockoutThreshold - pkg.FailedAttempts
		if remaining < 0 {
			remaining = 0
		}
		resp.AttemptsRemaining = &remaining
		resp.LockedUntil = pkg.LockedUntil
	}
	return resp
}

func (h *Handler) intake(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[intakeRequest](w, r, h.logger, r.Context())
	if !ok {
		return
	}
	customerID, err := id.ParseCustomerID(req.CustomerID)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "invalid customer_id"))
		return
	}

	pkg, err := h.svc.Intake(r.Context(), service.IntakeRequest{
		CustomerID:         customerID,
		SuiteCode:          req.SuiteCode,
		Description:        req.Description,
		WeightGrams:        req.WeightGrams,
		DeclaredValueCents: req.DeclaredValueCents,
	}, requestcontext.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, h.toPackageResponse(pkg))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	pkgID, err := packageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pkg, err := h.svc.Get(r.Context(), pkgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toPackageResponse(pkg))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	pkgID, err := packageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[transitionRequest](w, r, h.logger, r.Context())
	if !ok {
		return
	}
	target, err := models.ParseStatus(req.Target)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	pkg, err := h.svc.Transition(r.Context(), pkgID, target, requestcontext.Actor(r.Context()), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toPackageResponse(pkg))
}

func (h *Handler) markException(w http.ResponseWriter, r *http.Request) {
	pkgID, err := packageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[exceptionRequest](w, r, h.logger, r.Context())
	if !ok {
		return
	}
	if req.Reason == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "reason is required"))
		return
	}

	pkg, err := h.svc.MarkException(r.Context(), pkgID, requestcontext.Actor(r.Context()), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toPackageResponse(pkg))
}

func (h *Handler) resolveException(w http.ResponseWriter, r *http.Request) {
	pkgID, err := packageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[transitionRequest](w, r, h.logger, r.Context())
	if !ok {
		return
	}
	target, err := models.ParseStatus(req.Target)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	pkg, err := h.svc.ResolveException(r.Context(), pkgID, target, requestcontext.Actor(r.Context()), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toPackageResponse(pkg))
}

func packageIDParam(r *http.Request) (id.PackageID, error) {
	pkgID, err := id.ParsePackageID(chi.URLParam(r, "packageID"))
	if err != nil {
		return id.PackageID{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid package id")
	}
	return pkgID, nil
}
