//go:build integration
// +build integration

package test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/verdantech/plantcare/core/store"
	"github.com/verdantech/plantcare/ingest"
)

func TestIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

// TestDeviceLifecycle walks the full path a real deployment takes:
// provision a device, ingest telemetry, query status and history,
// trigger a remote watering and observe the decision change.
func (s *IntegrationTestSuite) TestDeviceLifecycle() {
	admin := s.adminHeader()

	// provision the device
	var device store.Device
	status := s.request(http.MethodPost, "/devices",
		map[string]interface{}{"device_id": "pot-1"}, admin, &device)
	s.Require().Equal(http.StatusCreated, status)
	s.Require().NotEmpty(device.Token)

	// register the plant sitting on the device
	var plant store.Plant
	status = s.request(http.MethodPost, "/plants",
		map[string]interface{}{"name": "Basil", "species": "basil", "device_id": "pot-1"}, admin, &plant)
	s.Require().Equal(http.StatusCreated, status)

	// dry soil: the model wants water
	var result ingest.Result
	status = s.request(http.MethodPost, "/ingest",
		map[string]interface{}{"device_id": "pot-1", "soil_moisture": 5.0, "air_temp_c": 22.0},
		map[string]string{"X-Device-Token": device.Token}, &result)
	s.Require().Equal(http.StatusOK, status)
	s.Require().True(result.Saved)
	s.Require().NotNil(result.WaterNow)
	s.True(*result.WaterNow)
	s.Equal("model", result.Reason)

	// wet soil: it does not
	status = s.request(http.MethodPost, "/ingest",
		map[string]interface{}{"device_id": "pot-1", "soil_moisture": 80.0}, nil, &result)
	s.Require().Equal(http.StatusOK, status)
	s.Require().NotNil(result.WaterNow)
	s.False(*result.WaterNow)

	// status reflects the latest reading
	var plantStatus struct {
		DeviceID      string               `json:"device_id"`
		LatestReading *store.SensorReading `json:"latest_reading"`
		WaterNow      bool                 `json:"water_now"`
		Reason        string               `json:"reason"`
	}
	status = s.request(http.MethodGet, "/plants/pot-1/status", nil, nil, &plantStatus)
	s.Require().Equal(http.StatusOK, status)
	s.Require().NotNil(plantStatus.LatestReading)
	s.Require().NotNil(plantStatus.LatestReading.SoilMoisture)
	s.Equal(80.0, *plantStatus.LatestReading.SoilMoisture)
	s.False(plantStatus.WaterNow)

	// history is newest first
	var history struct {
		Count int                   `json:"count"`
		Items []store.SensorReading `json:"items"`
	}
	status = s.request(http.MethodGet, "/plants/pot-1/history", nil, nil, &history)
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal(2, history.Count)
	s.Require().NotNil(history.Items[0].SoilMoisture)
	s.Equal(80.0, *history.Items[0].SoilMoisture)

	// remote watering requires the device token
	status = s.request(http.MethodPost, "/actuate",
		map[string]interface{}{"device_id": "pot-1", "token": "wrong"}, nil, nil)
	s.Equal(http.StatusUnauthorized, status)

	var actuated struct {
		OK      bool   `json:"ok"`
		EventID string `json:"event_id"`
	}
	status = s.request(http.MethodPost, "/actuate",
		map[string]interface{}{"device_id": "pot-1", "token": device.Token, "duration_seconds": 7}, nil, &actuated)
	s.Require().Equal(http.StatusOK, status)
	s.True(actuated.OK)
	s.NotEmpty(actuated.EventID)

	count, err := s.store.WaterEventCount(context.Background(), "pot-1")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *IntegrationTestSuite) TestUnknownDeviceHasNoStatus() {
	status := s.request(http.MethodGet, "/plants/never-seen/status", nil, nil, nil)
	s.Equal(http.StatusNotFound, status)
}

func (s *IntegrationTestSuite) TestIngestValidation() {
	status := s.request(http.MethodPost, "/ingest",
		map[string]interface{}{"soil_moisture": 5.0}, nil, nil)
	s.Equal(http.StatusBadRequest, status)
}

func (s *IntegrationTestSuite) TestTokenRotationInvalidatesOldToken() {
	admin := s.adminHeader()

	var device store.Device
	status := s.request(http.MethodPost, "/devices",
		map[string]interface{}{"device_id": "pot-2"}, admin, &device)
	s.Require().Equal(http.StatusCreated, status)
	oldToken := device.Token

	var rotated store.Device
	status = s.request(http.MethodPut, "/devices/pot-2/token", nil, admin, &rotated)
	s.Require().Equal(http.StatusOK, status)
	s.NotEqual(oldToken, rotated.Token)

	status = s.request(http.MethodPost, "/actuate",
		map[string]interface{}{"device_id": "pot-2", "token": oldToken}, nil, nil)
	s.Equal(http.StatusUnauthorized, status)

	status = s.request(http.MethodPost, "/actuate",
		map[string]interface{}{"device_id": "pot-2", "token": rotated.Token}, nil, nil)
	s.Equal(http.StatusOK, status)
}

func (s *IntegrationTestSuite) TestHealthz() {
	var health struct {
		Status string `json:"status"`
		Model  struct {
			Degraded bool   `json:"degraded"`
			Version  string `json:"version"`
		} `json:"model"`
	}
	status := s.request(http.MethodGet, "/healthz", nil, nil, &health)
	s.Require().Equal(http.StatusOK, status)
	s.Equal("ok", health.Status)
	s.False(health.Model.Degraded)
	s.Equal("e2e-test", health.Model.Version)
}
