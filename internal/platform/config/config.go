package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration. Built once in main from the
// environment so the rest of the code never reads env vars directly.
type Server struct {
	Addr string

	// SnapshotPath is the durable-store snapshot file.
	SnapshotPath string

	// PIISecret keys tokenization and the encrypted PII side channel.
	PIISecret string
	// SigningSecret keys attestation self-signatures and handoff inner signatures.
	SigningSecret string
	// TransportSecret keys the sealed handoff envelope and its outer signature.
	TransportSecret string

	// PharmacyJWTKey signs and validates pharmacy-partner bearer tokens.
	PharmacyJWTKey string

	// RequestWindow bounds how far a signed request timestamp may drift from
	// server time. NonceTTL bounds replay-defense retention; it should be at
	// least twice the request window.
	RequestWindow time.Duration
	NonceTTL      time.Duration

	// RedisURL enables the Redis nonce cache when set. Empty means in-memory.
	RedisURL string

	// AuditPath enables the LevelDB audit store when set.
	// AuditBrokers enables the Kafka audit publisher when set.
	AuditPath    string
	AuditBrokers string
	AuditTopic   string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:            envOr("RX_ADDR", ":8080"),
		SnapshotPath:    envOr("RX_SNAPSHOT_PATH", "data/attestations.json"),
		PIISecret:       envOr("RX_PII_SECRET", "dev-pii-secret-change-in-production"),
		SigningSecret:   envOr("RX_SIGNING_SECRET", "dev-signing-secret-change-in-production"),
		TransportSecret: envOr("RX_TRANSPORT_SECRET", "dev-transport-secret-change-in-production"),
		PharmacyJWTKey:  envOr("RX_PHARMACY_JWT_KEY", "dev-pharmacy-jwt-key-change-in-production"),
		RequestWindow:   envDuration("RX_REQUEST_WINDOW_MS", 5*time.Minute),
		NonceTTL:        envDuration("RX_NONCE_TTL_MS", 10*time.Minute),
		RedisURL:        os.Getenv("RX_REDIS_URL"),
		AuditPath:       os.Getenv("RX_AUDIT_PATH"),
		AuditBrokers:    os.Getenv("RX_AUDIT_BROKERS"),
		AuditTopic:      envOr("RX_AUDIT_TOPIC", "rxgateway.audit"),
	}
}

// WeakSecrets lists configured secrets shorter than 32 bytes. The secrets feed
// a single-hash key derivation, so entropy must come from the secret itself.
func (s Server) WeakSecrets() []string {
	var weak []string
	for name, v := range map[string]string{
		"RX_PII_SECRET":       s.PIISecret,
		"RX_SIGNING_SECRET":   s.SigningSecret,
		"RX_TRANSPORT_SECRET": s.TransportSecret,
	} {
		if len(v) < 32 {
			weak = append(weak, name)
		}
	}
	return weak
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
