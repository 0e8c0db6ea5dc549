// Package handler exposes code verification and the administrative
// reissue override over HTTP. Plaintext codes never appear in any
// response; they travel only through the notification collaborator.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/release/service"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

type Handler struct {
	svc       *service.Service
	adminOnly func(http.Handler) http.Handler
	logger    *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler builds the release handler. adminOnly guards the reissue
// endpoint; pass the admin-token middleware from the wiring.
func NewHandler(svc *service.Service, adminOnly func(http.Handler) http.Handler, opts ...Option) *Handler {
	h := &Handler{svc: svc, adminOnly: adminOnly, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/packages/{packageID}", func(r chi.Router) {
		r.Post("/verify", h.verify)
		r.With(h.adminOnly).Post("/code/reissue", h.reissue)
	})
}

type verifyRequest struct {
	IdentityClaim string `json:"identity_claim"`
	Code          string `json:"code"`
}

type verifyResponse struct {
	PackageID   string    `json:"package_id"`
	Status      string    `json:"status"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type reissueResponse struct {
	PackageID string    `json:"package_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	pkgID, err := packageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[verifyRequest](w, r, h.logger, r.Context())
	if !ok {
		return
	}
	if req.IdentityClaim == "" || req.Code == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "identity_claim and code are required"))
		return
	}

	outcome, err := h.svc.Verify(r.Context(), pkgID, req.IdentityClaim, req.Code, requestcontext.Actor(r.Context()))
	if err != nil {
		// Attempts remaining only accompany a code mismatch; other
		// rejections say nothing about the counter.
		if outcome != nil && dErrors.HasCode(err, dErrors.CodeInvalidCode) {
			httputil.WriteErrorWithAttempts(w, err, outcome.AttemptsRemaining)
			return
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		PackageID:   outcome.Package.ID.String(),
		Status:      outcome.Package.Status.String(),
		DeliveredAt: *outcome.Package.CodeUsedAt,
	})
}

func (h *Handler) reissue(w http.ResponseWriter, r *http.Request) {
	pkgID, err := packageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	expiresAt, err := h.svc.Reissue(r.Context(), pkgID, requestcontext.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, reissueResponse{
		PackageID: pkgID.String(),
		ExpiresAt: expiresAt,
	})
}

func packageIDParam(r *http.Request) (id.PackageID, error) {
	pkgID, err := id.ParsePackageID(chi.URLParam(r, "packageID"))
	if err != nil {
		return id.PackageID{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid package id")
	}
	return pkgID, nil
}
