//go:build integration
// +build integration

/*Package test contains the end-to-end suite for the plantcare service

The suite starts a throwaway Postgres container, wires the full service
(store, inference, ingestion router, actuation dispatcher, REST api)
against it and exercises the HTTP surface the way a device and a
frontend would.
*/
package test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/verdantech/plantcare/actuation"
	"github.com/verdantech/plantcare/api"
	"github.com/verdantech/plantcare/core/access"
	"github.com/verdantech/plantcare/core/csql"
	"github.com/verdantech/plantcare/core/store"
	"github.com/verdantech/plantcare/inference"
	"github.com/verdantech/plantcare/ingest"
	"github.com/verdantech/plantcare/iot/mqtt"
)

const adminSecret = "e2e-test-secret"

// modelArtifact waters on dry soil: with no watering history the
// decision boundary sits at 12.5% soil moisture, and every day since
// the last watering moves it up. That keeps the test scenarios easy to
// reason about.
const modelArtifact = `{
	"version": "e2e-test",
	"model": {
		"kind": "logistic",
		"weights": [-0.2, 0.0, 0.0, 0.0, 0.5],
		"intercept": 2.5
	}
}`

type IntegrationTestSuite struct {
	suite.Suite

	postgresContainer testcontainers.Container
	db                *csql.DB
	store             *store.Store
	srv               *httptest.Server
	adminToken        string
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	s.db = csql.OpenWithSchema(fmt.Sprintf(
		"host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable",
		pgHost, pgPort.Port()), "plantcare_e2e")
	s.store = store.MustNew(s.db)

	modelPath := filepath.Join(s.T().TempDir(), "model.json")
	s.Require().NoError(os.WriteFile(modelPath, []byte(modelArtifact), 0600))
	adapter := inference.Load(ctx, modelPath)
	s.Require().False(adapter.Degraded())

	ingestRouter := ingest.NewRouter(s.store, adapter)
	broker := mqtt.NewBroker(&mqtt.Builder{Listen: "127.0.0.1:18831", Devices: s.store})
	dispatcher := actuation.NewDispatcher(s.store, broker)

	router := mux.NewRouter()
	api.MustNewService(&api.Builder{
		Router:      router,
		Store:       s.store,
		Ingestor:    ingestRouter,
		Actuator:    dispatcher,
		AdminSecret: adminSecret,
		Health: api.Health{
			ModelDegraded: adapter.Degraded(),
			ModelVersion:  adapter.Version(),
		},
	})
	s.srv = httptest.NewServer(router)

	s.adminToken, err = access.NewAdminToken(adminSecret, "e2e")
	s.Require().NoError(err)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.srv != nil {
		s.srv.Close()
	}
	if s.db != nil {
		s.db.ClearSchema()
		s.db.Close()
	}
	if s.postgresContainer != nil {
		err := s.postgresContainer.Terminate(context.Background())
		s.Require().NoError(err)
	}
}

// request sends one JSON request to the service and decodes the reply
// into out when out is not nil.
func (s *IntegrationTestSuite) request(method, path string, body interface{}, header map[string]string, out interface{}) int {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer res.Body.Close()
	if out != nil && res.StatusCode < 300 {
		s.Require().NoError(json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func (s *IntegrationTestSuite) adminHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.adminToken}
}
