package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rxgateway/internal/attestation"
	"rxgateway/internal/attestation/store"
	"rxgateway/internal/audit"
	"rxgateway/internal/catalog"
	"rxgateway/internal/nonce"
	"rxgateway/internal/platform/config"
	"rxgateway/internal/platform/httpserver"
	"rxgateway/internal/platform/logger"
	"rxgateway/internal/platform/metrics"
	"rxgateway/internal/platform/redis"
	"rxgateway/internal/protocol"
	transporthttp "rxgateway/internal/transport/http"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	cfg := config.FromEnv()

	for _, name := range cfg.WeakSecrets() {
		log.Warn("secret is shorter than 32 bytes; key derivation is a single hash, use a high-entropy value", "secret", name)
	}

	m := metrics.New()

	st, err := store.Open(cfg.SnapshotPath, log, store.WithMetrics(m))
	if err != nil {
		log.Error("open snapshot store", "path", cfg.SnapshotPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var nonces nonce.Cache = nonce.NewMemoryCache()
	if cfg.RedisURL != "" {
		rdb, err := redis.New(cfg.RedisURL)
		if err != nil {
			log.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		nonces = nonce.NewRedisCache(rdb.Client)
		log.Info("nonce cache backed by redis")
	}

	auditStore, closeAudit, err := buildAuditStore(cfg, log)
	if err != nil {
		log.Error("open audit store", "error", err)
		os.Exit(1)
	}
	defer closeAudit()
	publisher := audit.NewPublisher(auditStore, log)
	defer publisher.Close()

	svc := attestation.New(st, catalog.New(), log, attestation.Secrets{
		PII:       cfg.PIISecret,
		Signing:   cfg.SigningSecret,
		Transport: cfg.TransportSecret,
	}, attestation.WithMetrics(m))

	router := transporthttp.NewRouter(transporthttp.Deps{
		Service:       svc,
		Authenticator: protocol.NewAuthenticator(nonces, cfg.RequestWindow, cfg.NonceTTL),
		Audit:         publisher,
		JWTValidator:  transporthttp.NewHSValidator(cfg.PharmacyJWTKey),
		Logger:        log,
		Metrics:       m,
	})
	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown", "error", err)
	}
	if err := st.Flush(); err != nil {
		log.Error("final snapshot flush", "error", err)
	}
}

// buildAuditStore picks the audit sink: Kafka when brokers are configured,
// LevelDB when a path is configured, otherwise in-memory.
func buildAuditStore(cfg config.Server, log *slog.Logger) (audit.Store, func(), error) {
	switch {
	case cfg.AuditBrokers != "":
		ks, err := audit.OpenKafka(cfg.AuditBrokers, cfg.AuditTopic, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("audit events flowing to kafka", "topic", cfg.AuditTopic)
		return ks, func() { _ = ks.Close() }, nil
	case cfg.AuditPath != "":
		ls, err := audit.OpenLevelDB(cfg.AuditPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("audit events flowing to leveldb", "path", cfg.AuditPath)
		return ls, func() { _ = ls.Close() }, nil
	default:
		log.Warn("audit events held in memory only; set RX_AUDIT_PATH or RX_AUDIT_BROKERS for durability")
		return audit.NewMemoryStore(), func() {}, nil
	}
}
