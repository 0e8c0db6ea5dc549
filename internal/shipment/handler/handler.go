// Package handler exposes shipment consolidation over HTTP, including
// the departed/arrived events the physical-ops collaborator reports.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/shipment/service"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func NewHandler(svc *service.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/shipments", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Route("/{shipmentID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/depart", h.depart)
			r.Post("/arrive", h.arrive)
			r.Post("/unlink", h.unlink)
		})
	})
}

type createRequest struct {
	PackageIDs   []string `json:"package_ids"`
	Destination  string   `json:"destination"`
	ServiceLevel string   `json:"service_level"`
}

type unlinkRequest struct {
	PackageID string `json:"package_id"`
	Reason    string `json:"reason"`
}

type memberResponse struct {
	ID           string `json:"id"`
	TrackingCode string `json:"tracking_code"`
	Status       string `json:"status"`
}

type shipmentResponse struct {
	ID               string           `json:"id"`
	TrackingCode     string           `json:"tracking_code"`
	Status           string           `json:"status"`
	Destination      string           `json:"destination"`
	ServiceLevel     string           `json:"service_level"`
	PackageCount     int              `json:"package_count"`
	TotalWeightGrams int64            `json:"total_weight_grams"`
	TotalValueCents  int64            `json:"total_value_cents"`
	ArchivedAt       *time.Time       `json:"archived_at,omitempty"`
	Members          []memberResponse `json:"packages"`
	CreatedAt        time.Time        `json:"created_at"`
}

func toShipmentResponse(view *service.View) shipmentResponse {
	members := make([]memberResponse, len(view.Members))
	for i, pkg := range view.Members {
		members[i] = memberResponse{
			ID:           pkg.ID.String(),
			TrackingCode: pkg.TrackingCode,
			Status:       pkg.Status.String(),
		}
	}
	return shipmentResponse{
		ID:               view.Shipment.ID.String(),
		TrackingCode:     view.Shipment.TrackingCode,
		Status:           view.Status.String(),
		Destination:      view.Shipment.Destination,
		ServiceLevel:     view.Shipment.ServiceLevel,
		PackageCount:     view.Shipment.PackageCount,
		TotalWeightGrams: view.Shipment.TotalWeightGrams,
		TotalValueCents:  view.Shipment.TotalValueCents,
		ArchivedAt:       view.Shipment.ArchivedAt,
		Members:          members,
		CreatedAt:        view.Shipment.CreatedAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[createRequest](w, r, h.logger, r.Context())
	if !ok {
		return
	}
	pkgIDs := make([]id.PackageID, 0, len(req.PackageIDs))
	for _, raw := range req.PackageIDs {
		pkgID, err := id.ParsePackageID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "invalid package id"))
			return
		}
		pkgIDs = append(pkgIDs, pkgID)
	}

	view, err := h.svc.Create(r.Context(), service.CreateRequest{
		PackageIDs:   pkgIDs,
		Destination:  req.Destination,
		ServiceLevel: req.ServiceLevel,
	}, requestcontext.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toShipmentResponse(view))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	views, err := h.svc.List(r.Context(), includeArchived)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]shipmentResponse, len(views))
	for i, view := range views {
		out[i] = toShipmentResponse(view)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := shipmentIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.svc.Get(r.Context(), shipmentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toShipmentResponse(view))
}

func (h *Handler) depart(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := shipmentIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.svc.Depart(r.Context(), shipmentID, requestcontext.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toShipmentResponse(view))
}

func (h *Handler) arrive(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := shipmentIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.svc.Arrive(r.Context(), shipmentID, requestcontext.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toShipmentResponse(view))
}

func (h *Handler) unlink(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := shipmentIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[unlinkRequest](w, r, h.logger, r.Context())
	if !ok {
		return
	}
	pkgID, err := id.ParsePackageID(req.PackageID)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "invalid package id"))
		return
	}

	view, err := h.svc.Unlink(r.Context(), shipmentID, pkgID, requestcontext.Actor(r.Context()), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toShipmentResponse(view))
}

func shipmentIDParam(r *http.Request) (id.ShipmentID, error) {
	shipmentID, err := id.ParseShipmentID(chi.URLParam(r, "shipmentID"))
	if err != nil {
		return id.ShipmentID{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid shipment id")
	}
	return shipmentID, nil
}
