// The plantcare service: telemetry ingestion over HTTP and MQTT,
// watering inference and remote actuation in one process.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/verdantech/plantcare/actuation"
	"github.com/verdantech/plantcare/api"
	"github.com/verdantech/plantcare/core/csql"
	"github.com/verdantech/plantcare/core/logger"
	"github.com/verdantech/plantcare/core/store"
	"github.com/verdantech/plantcare/firehose"
	"github.com/verdantech/plantcare/inference"
	"github.com/verdantech/plantcare/ingest"
	"github.com/verdantech/plantcare/iot/mqtt"
	"github.com/verdantech/plantcare/iot/subscriber"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres     string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	Schema       string `env:"SCHEMA,default=plantcare" description:"the database schema"`
	Port         string `env:"PORT,default=3000" description:"the HTTP listen port"`
	MQTTListen   string `env:"MQTT_LISTEN,default=:1883" description:"the MQTT broker listen address"`
	ModelPath    string `env:"MODEL_PATH,optional" description:"path or s3:// url of the model artifact"`
	KafkaBrokers string `env:"KAFKA_BROKERS,optional" description:"comma-separated Kafka brokers for the reading firehose"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=plantcare.readings" description:"the Kafka topic for the reading firehose"`
	AdminSecret  string `env:"ADMIN_SECRET,required" description:"the HMAC secret for admin tokens"`
	CORSOrigins  string `env:"CORS_ORIGINS,default=*" description:"comma-separated allowed CORS origins"`
	LogLevel     string `env:"LOG_LEVEL,default=info" description:"the log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := csql.OpenWithSchema(service.Postgres, service.Schema)
	defer db.Close()
	s := store.MustNew(db)

	adapter := inference.Load(ctx, service.ModelPath)
	if adapter.Degraded() {
		rlog.Warn("starting degraded, every decision will be water_now=false")
	} else {
		rlog.Infof("model %s loaded", adapter.Version())
	}

	router := ingest.NewRouter(s, adapter)
	if service.KafkaBrokers != "" {
		exporter := firehose.NewExporter(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer exporter.Close()
		router = router.WithNotifier(exporter)
	}

	broker := mqtt.NewBroker(&mqtt.Builder{
		Listen:  service.MQTTListen,
		Devices: s,
	})
	sub := subscriber.New(broker, router)
	dispatcher := actuation.NewDispatcher(s, broker)

	muxRouter := mux.NewRouter()
	logger.AddRequestID(muxRouter)
	api.MustNewService(&api.Builder{
		Router:      muxRouter,
		Store:       s,
		Ingestor:    router,
		Actuator:    dispatcher,
		AdminSecret: service.AdminSecret,
		Health: api.Health{
			ModelDegraded: adapter.Degraded(),
			ModelVersion:  adapter.Version(),
			BusState:      func() string { return sub.State().String() },
		},
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(strings.Split(service.CORSOrigins, ",")),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Device-Token"}),
	)

	go sub.Run(ctx)
	go broker.Run(ctx)

	rlog.Infof("listen on port :%s", service.Port)
	srv := &http.Server{
		Addr:    ":" + service.Port,
		Handler: cors(handlers.RecoveryHandler()(handlers.CompressHandler(muxRouter))),
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		rlog.WithError(err).Fatal("http server failed")
	}
}
