package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/backend"
	"github.com/relabs-tech/tablerest/core/csql"
	"github.com/relabs-tech/tablerest/core/logger"
	"github.com/relabs-tech/tablerest/core/notifier"
)

// Service holds the configuration for this service
//
// use DB_DRIVER=postgres DB_DSN="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker" for postgres. Without DB_DSN, sqlite runs in memory.
type Service struct {
	Driver             string `env:"DB_DRIVER,default=sqlite3" description:"the database driver, sqlite3 or postgres"`
	DSN                string `env:"DB_DSN" description:"the data source name, a file for sqlite, a connection string without password for postgres"`
	PostgresPassword   string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	Schema             string `env:"DB_SCHEMA,default=public" description:"the postgres schema of all tables"`
	Port               int    `env:"PORT,default=3000" description:"the port to listen on"`
	LogLevel           string `env:"LOG_LEVEL,default=info" description:"the log level: debug, info, warn, error"`
	MissingTablePolicy string `env:"MISSING_TABLE_POLICY,default=create" description:"what to do with missing generic tables: create or reject"`
	DefaultTable       string `env:"DEFAULT_TABLE,default=contacts" description:"the generic table of requests which name none"`
	LegacyContacts     bool   `env:"LEGACY_CONTACTS,default=true" description:"serve the /contacts routes"`
	ContactsTable      string `env:"LEGACY_CONTACTS_TABLE,default=legacy_contacts" description:"the contact table of requests which name none, must differ from DEFAULT_TABLE"`
	KafkaBrokers       string `env:"KAFKA_BROKERS" description:"comma separated kafka brokers for row notifications, optional"`
	KafkaTopic         string `env:"KAFKA_TOPIC,default=row_notification" description:"the topic of row notifications"`
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

	db := csql.Open(service.Driver, service.DSN, service.PostgresPassword, service.Schema)
	defer db.Close()

	var rowNotifier core.Notifier
	if service.KafkaBrokers != "" {
		kafkaNotifier := notifier.NewKafka(service.KafkaBrokers, service.KafkaTopic)
		defer kafkaNotifier.Close()
		rowNotifier = kafkaNotifier
		rlog.Infof("row notifications go to kafka topic %s", service.KafkaTopic)
	}

	router := mux.NewRouter()
	backend.New(&backend.Builder{
		DB:                 db,
		Router:             router,
		Notifier:           rowNotifier,
		MissingTablePolicy: backend.MissingTablePolicy(service.MissingTablePolicy),
		DefaultTable:       service.DefaultTable,
		ContactsTable:      service.ContactsTable,
		DisableContacts:    !service.LegacyContacts,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", service.Port),
		Handler:           handlers.CombinedLoggingHandler(os.Stdout, router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		rlog.Infof("listen on port %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rlog.WithError(err).Fatalln("Error 4001: cannot listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		rlog.WithError(err).Errorln("Error 4002: shutdown")
	}
	rlog.Infoln("server stopped")
}
