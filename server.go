package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/mmdatafocus/card_audit_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("card-audit")

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen before dependencies are up; the readiness gate answers 503 meanwhile.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: setupRouter(logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	if !config.ConnectRedisWithRetry() {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis unavailable; running without cache, locks and rate limiting")
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Audit events are published after commit by the outbox dispatcher.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.AuditEventsEnabled() {
		var publisher workflow.Publisher = workflow.NewPubSubPublisher(config.AuditEventsTopic())
		if !config.PubSubConfigured() {
			logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("pubsub project not set; audit events go to the log")
			publisher = workflow.NewLogPublisher(logger)
		}
		go workflow.NewOutboxDispatcher(db, logger, publisher).Run(dispatcherCtx)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("card audit api listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers before draining requests.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
