package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	lifecyclemodels "custodia/internal/lifecycle/models"
	lifecycleservice "custodia/internal/lifecycle/service"
	lifecyclestore "custodia/internal/lifecycle/store"
	"custodia/internal/shipment/handler"
	"custodia/internal/shipment/service"
	"custodia/internal/shipment/store"
	id "custodia/pkg/domain"
	auditmem "custodia/pkg/platform/audit/store/memory"
	"custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// stubIssuer satisfies the CodeIssuer dependency; issuance policy is
// covered by the release tests.
type stubIssuer struct{}

func (stubIssuer) Issue(context.Context, id.PackageID, string) (string, time.Time, error) {
	return "123456", time.Now().Add(30 * 24 * time.Hour), nil
}

type ShipmentHandlerSuite struct {
	suite.Suite
	server    *httptest.Server
	lifecycle *lifecycleservice.Service
	ctx       context.Context
}

func TestShipmentHandlerSuite(t *testing.T) {
	suite.Run(t, new(ShipmentHandlerSuite))
}

func (s *ShipmentHandlerSuite) SetupTest() {
	packages := lifecyclestore.NewInMemory()
	shipments := store.NewInMemory()
	audits := auditmem.New()
	runner := tx.NewMemoryRunner()

	var err error
	s.lifecycle, err = lifecycleservice.New(packages, audits, runner)
	s.Require().NoError(err)
	svc, err := service.New(shipments, packages, s.lifecycle, audits, runner, stubIssuer{})
	s.Require().NoError(err)

	s.ctx = requestcontext.WithActor(context.Background(), "warehouse:lena")

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := requestcontext.WithActor(req.Context(), "warehouse:lena")
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	handler.NewHandler(svc).Register(r)
	s.server = httptest.NewServer(r)
}

func (s *ShipmentHandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *ShipmentHandlerSuite) post(path string, body map[string]any) (*http.Response, map[string]any) {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)
	resp, err := http.Post(s.server.URL+path, "application/json", bytes.NewReader(raw))
	s.Require().NoError(err)
	defer resp.Body.Close()

	var decoded map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (s *ShipmentHandlerSuite) processedPackage() *lifecyclemodels.Package {
	pkg, err := s.lifecycle.Intake(s.ctx, lifecycleservice.IntakeRequest{
		CustomerID:         id.NewCustomerID(),
		SuiteCode:          "STE-3100",
		WeightGrams:        400,
		DeclaredValueCents: 9900,
	}, "warehouse:lena")
	s.Require().NoError(err)

	for _, target := range []lifecyclemodels.Status{
		lifecyclemodels.StatusReceived,
		lifecyclemodels.StatusProcessing,
		lifecyclemodels.StatusProcessed,
	} {
		pkg, err = s.lifecycle.Transition(s.ctx, pkg.ID, target, "warehouse:lena", "")
		s.Require().NoError(err)
	}
	return pkg
}

func (s *ShipmentHandlerSuite) createShipment(pkgs ...*lifecyclemodels.Package) string {
	ids := make([]string, len(pkgs))
	for i, pkg := range pkgs {
		ids[i] = pkg.ID.String()
	}
	resp, body := s.post("/shipments", map[string]any{
		"package_ids":   ids,
		"destination":   "Yerevan",
		"service_level": "standard",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func (s *ShipmentHandlerSuite) TestCreate() {
	s.Run("consolidates processed packages", func() {
		a, b := s.processedPackage(), s.processedPackage()

		resp, body := s.post("/shipments", map[string]any{
			"package_ids":   []string{a.ID.String(), b.ID.String()},
			"destination":   "Yerevan",
			"service_level": "express",
		})
		s.Equal(http.StatusCreated, resp.StatusCode)
		s.Equal("grouped", body["status"])
		s.Equal(float64(2), body["package_count"])
		s.Equal(float64(800), body["total_weight_grams"])
		s.Len(body["packages"], 2)
	})

	s.Run("409 when a member is not processed", func() {
		pkg, err := s.lifecycle.Intake(s.ctx, lifecycleservice.IntakeRequest{
			CustomerID:  id.NewCustomerID(),
			SuiteCode:   "STE-3101",
			WeightGrams: 100,
		}, "warehouse:lena")
		s.Require().NoError(err)

		resp, body := s.post("/shipments", map[string]any{
			"package_ids":   []string{pkg.ID.String()},
			"destination":   "Yerevan",
			"service_level": "standard",
		})
		s.Equal(http.StatusConflict, resp.StatusCode)
		s.Equal("package_not_ready", body["error"])
	})

	s.Run("400 for a malformed package id", func() {
		resp, body := s.post("/shipments", map[string]any{
			"package_ids": []string{"not-a-uuid"},
			"destination": "Yerevan",
		})
		s.Equal(http.StatusBadRequest, resp.StatusCode)
		s.Equal("validation", body["error"])
	})
}

func (s *ShipmentHandlerSuite) TestDepartAndArrive() {
	shipmentID := s.createShipment(s.processedPackage())

	resp, body := s.post(fmt.Sprintf("/shipments/%s/depart", shipmentID), nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("in_transit", body["status"])

	resp, body = s.post(fmt.Sprintf("/shipments/%s/arrive", shipmentID), nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("arrived", body["status"])

	// A second departure of the same shipment is rejected.
	resp, body = s.post(fmt.Sprintf("/shipments/%s/depart", shipmentID), nil)
	s.Equal(http.StatusConflict, resp.StatusCode)
	s.Equal("invalid_transition", body["error"])
}

func (s *ShipmentHandlerSuite) TestUnlink() {
	s.Run("removes a member before departure", func() {
		a, b := s.processedPackage(), s.processedPackage()
		shipmentID := s.createShipment(a, b)

		resp, body := s.post(fmt.Sprintf("/shipments/%s/unlink", shipmentID), map[string]any{
			"package_id": a.ID.String(),
			"reason":     "customer hold",
		})
		s.Equal(http.StatusOK, resp.StatusCode)
		s.Equal(float64(1), body["package_count"])
	})

	s.Run("409 once the shipment departed", func() {
		pkg := s.processedPackage()
		shipmentID := s.createShipment(pkg)

		resp, _ := s.post(fmt.Sprintf("/shipments/%s/depart", shipmentID), nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)

		resp, body := s.post(fmt.Sprintf("/shipments/%s/unlink", shipmentID), map[string]any{
			"package_id": pkg.ID.String(),
		})
		s.Equal(http.StatusConflict, resp.StatusCode)
		s.Equal("shipment_in_transit", body["error"])
	})
}

func (s *ShipmentHandlerSuite) TestGetAndList() {
	shipmentID := s.createShipment(s.processedPackage())

	resp, err := http.Get(s.server.URL + "/shipments/" + shipmentID)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	var body map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	s.Equal(shipmentID, body["id"])
	s.Equal("grouped", body["status"])

	listResp, err := http.Get(s.server.URL + "/shipments")
	s.Require().NoError(err)
	defer listResp.Body.Close()
	s.Equal(http.StatusOK, listResp.StatusCode)

	var views []map[string]any
	s.Require().NoError(json.NewDecoder(listResp.Body).Decode(&views))
	s.Len(views, 1)

	notFound, err := http.Get(s.server.URL + "/shipments/" + id.NewShipmentID().String())
	s.Require().NoError(err)
	notFound.Body.Close()
	s.Equal(http.StatusNotFound, notFound.StatusCode)
}
