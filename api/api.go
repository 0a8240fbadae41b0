// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package api provides the REST interface of the plantcare service

It exposes telemetry ingestion, plant status and history queries,
remote actuation and the administrative provisioning routes. Handlers
translate HTTP to the domain packages and back; all domain rules live
in those packages.
*/
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/verdantech/plantcare/core"
	"github.com/verdantech/plantcare/core/access"
	"github.com/verdantech/plantcare/core/logger"
	"github.com/verdantech/plantcare/core/schema"
	"github.com/verdantech/plantcare/core/store"
	"github.com/verdantech/plantcare/inference"
	"github.com/verdantech/plantcare/ingest"
)

// Store is the persistence the API needs.
type Store interface {
	CreateDevice(ctx context.Context, d store.Device) (store.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*store.Device, error)
	RotateDeviceToken(ctx context.Context, deviceID, token string) error
	CreatePlant(ctx context.Context, p store.Plant) (store.Plant, error)
	ListPlants(ctx context.Context) ([]store.Plant, error)
	LatestReading(ctx context.Context, deviceID string) (*store.SensorReading, error)
	ReadingHistory(ctx context.Context, deviceID string, limit int) ([]store.SensorReading, error)
}

// Ingestor is the part of the ingestion router the API needs.
type Ingestor interface {
	Ingest(ctx context.Context, p ingest.SensorPayload, transport ingest.Transport) (ingest.Result, error)
	Evaluate(ctx context.Context, r store.SensorReading) inference.Result
}

// Actuator triggers remote watering.
type Actuator interface {
	Actuate(ctx context.Context, deviceID, token string, durationSeconds int) (uuid.UUID, error)
}

// Health reports the state of the service internals for /healthz.
type Health struct {
	ModelDegraded bool
	ModelVersion  string
	BusState      func() string
}

// Builder is a builder helper for the API service
type Builder struct {
	// Router is the mux router the routes are added to. Mandatory.
	Router *mux.Router
	// Store is the database-backed store. Mandatory.
	Store Store
	// Ingestor handles telemetry. Mandatory.
	Ingestor Ingestor
	// Actuator handles watering commands. Mandatory.
	Actuator Actuator
	// AdminSecret signs the admin tokens for provisioning routes. Mandatory.
	AdminSecret string
	// Health feeds the /healthz route. Optional.
	Health Health
}

// Service is the REST interface.
type Service struct {
	store    Store
	ingestor Ingestor
	actuator Actuator
	health   Health
}

// MustNewService creates the service and adds its routes to the router.
// It panics on invalid configuration.
func MustNewService(b *Builder) *Service {
	if b.Router == nil {
		panic("missing router")
	}
	if b.Store == nil || b.Ingestor == nil || b.Actuator == nil {
		panic("missing store, ingestor or actuator")
	}
	if b.AdminSecret == "" {
		panic("missing admin secret")
	}

	s := &Service{
		store:    b.Store,
		ingestor: b.Ingestor,
		actuator: b.Actuator,
		health:   b.Health,
	}

	b.Router.Use(access.NewAdminMiddleware(b.AdminSecret))
	s.handleRoutes(b.Router)
	return s
}

func (s *Service) handleRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("api routes:")
	rlog.Debugln("  handle route: /ingest POST")
	router.HandleFunc("/ingest", s.ingestWithAuth).Methods(http.MethodPost)
	rlog.Debugln("  handle route: /plants/{device_id}/status GET")
	router.HandleFunc("/plants/{device_id}/status", s.plantStatus).Methods(http.MethodGet)
	rlog.Debugln("  handle route: /plants/{device_id}/history GET")
	router.HandleFunc("/plants/{device_id}/history", s.plantHistory).Methods(http.MethodGet)
	rlog.Debugln("  handle route: /plants GET POST")
	router.HandleFunc("/plants", s.listPlants).Methods(http.MethodGet)
	router.HandleFunc("/plants", s.createPlant).Methods(http.MethodPost)
	rlog.Debugln("  handle route: /actuate POST")
	router.HandleFunc("/actuate", s.actuate).Methods(http.MethodPost)
	rlog.Debugln("  handle route: /devices POST")
	router.HandleFunc("/devices", s.createDevice).Methods(http.MethodPost)
	rlog.Debugln("  handle route: /devices/{device_id}/token PUT")
	router.HandleFunc("/devices/{device_id}/token", s.rotateToken).Methods(http.MethodPut)
	rlog.Debugln("  handle route: /healthz GET")
	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, object interface{}) {
	jsonData, _ := json.MarshalIndent(object, "", "  ")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// writeError maps domain errors to status codes. Anything unknown is a
// plain internal server error without leaking details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidPayload):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrNotAuthorized):
		http.Error(w, "not authorized", http.StatusUnauthorized)
	case errors.Is(err, core.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		var perr *core.PersistenceError
		if errors.As(err, &perr) {
			logger.FromContext(r.Context()).WithError(err).Error("persistence failure")
			http.Error(w, "temporary persistence failure", http.StatusServiceUnavailable)
			return
		}
		logger.FromContext(r.Context()).WithError(err).Error("internal error")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// ingestWithAuth accepts one sensor reading over HTTP. The route is
// open so unprovisioned devices can report, but a device token sent in
// X-Device-Token must match the provisioned one.
func (s *Service) ingestWithAuth(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	if err := schema.ValidateSensorPayload(body); err != nil {
		writeError(w, r, err)
		return
	}

	var payload ingest.SensorPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if token := r.Header.Get("X-Device-Token"); token != "" {
		device, err := s.store.GetDevice(r.Context(), payload.DeviceID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if device == nil || device.Token != token {
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
	}

	result, err := s.ingestor.Ingest(r.Context(), payload, ingest.TransportHTTP)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type statusResponse struct {
	DeviceID      string               `json:"device_id"`
	LatestReading *store.SensorReading `json:"latest_reading"`
	WaterNow      bool                 `json:"water_now"`
	Score         *float64             `json:"score"`
	Reason        string               `json:"reason"`
}

func (s *Service) plantStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	reading, err := s.store.LatestReading(r.Context(), deviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reading == nil {
		http.Error(w, "no readings for device", http.StatusNotFound)
		return
	}

	scored := s.ingestor.Evaluate(r.Context(), *reading)
	writeJSON(w, http.StatusOK, statusResponse{
		DeviceID:      deviceID,
		LatestReading: reading,
		WaterNow:      scored.WaterNow,
		Score:         scored.Confidence,
		Reason:        string(scored.Reason),
	})
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

type historyResponse struct {
	DeviceID string                `json:"device_id"`
	Count    int                   `json:"count"`
	Items    []store.SensorReading `json:"items"`
}

func (s *Service) plantHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	items, err := s.store.ReadingHistory(r.Context(), deviceID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		DeviceID: deviceID,
		Count:    len(items),
		Items:    items,
	})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !access.AuthorizationFromContext(r.Context()).HasRole("admin") {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Service) listPlants(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	plants, err := s.store.ListPlants(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plants)
}

func (s *Service) createPlant(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var plant store.Plant
	if err := json.NewDecoder(r.Body).Decode(&plant); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if plant.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	created, err := s.store.CreatePlant(r.Context(), plant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type actuateRequest struct {
	DeviceID        string `json:"device_id"`
	Token           string `json:"token"`
	DurationSeconds int    `json:"duration_seconds"`
}

type actuateResponse struct {
	OK      bool      `json:"ok"`
	EventID uuid.UUID `json:"event_id"`
}

func (s *Service) actuate(w http.ResponseWriter, r *http.Request) {
	var req actuateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	eventID, err := s.actuator.Actuate(r.Context(), req.DeviceID, req.Token, req.DurationSeconds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actuateResponse{OK: true, EventID: eventID})
}

func (s *Service) createDevice(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var device store.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if device.DeviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	if device.Token == "" {
		device.Token = uuid.New().String()
	}
	created, err := s.store.CreateDevice(r.Context(), device)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type rotateTokenRequest struct {
	Token string `json:"token"`
}

func (s *Service) rotateToken(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	deviceID := mux.Vars(r)["device_id"]
	var req rotateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		req.Token = uuid.New().String()
	}
	if err := s.store.RotateDeviceToken(r.Context(), deviceID, req.Token); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, store.Device{DeviceID: deviceID, Token: req.Token})
}

type healthzResponse struct {
	Status string      `json:"status"`
	Model  modelHealth `json:"model"`
	Bus    string      `json:"bus,omitempty"`
}

type modelHealth struct {
	Degraded bool   `json:"degraded"`
	Version  string `json:"version,omitempty"`
}

func (s *Service) healthz(w http.ResponseWriter, r *http.Request) {
	response := healthzResponse{
		Status: "ok",
		Model: modelHealth{
			Degraded: s.health.ModelDegraded,
			Version:  s.health.ModelVersion,
		},
	}
	if s.health.BusState != nil {
		response.Bus = s.health.BusState()
	}
	writeJSON(w, http.StatusOK, response)
}
