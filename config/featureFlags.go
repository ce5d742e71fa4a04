package config

import (
	"os"
	"strings"
	"time"
)

const defaultAuditSessionTTLDays = 30

// AuditSessionTTL is the lifetime stamped into expires_at when a session starts.
//
// Set via env:
// - AUDIT_SESSION_TTL_DAYS=30
func AuditSessionTTL() time.Duration {
	days := intFromEnv("AUDIT_SESSION_TTL_DAYS", defaultAuditSessionTTLDays)
	if days <= 0 {
		days = defaultAuditSessionTTLDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// AuditExpiryEnforced turns expires_at from an advisory timestamp into a hard limit:
// expired sessions are cancelled on lookup and reject ledger mutations.
//
// Set via env:
// - AUDIT_EXPIRY_ENFORCED=true
func AuditExpiryEnforced() bool {
	return boolFromEnv("AUDIT_EXPIRY_ENFORCED", false)
}

// AuditEventsEnabled gates the outbox dispatcher. Events are always written to the outbox.
//
// Set via env:
// - AUDIT_EVENTS_ENABLED=true
func AuditEventsEnabled() bool {
	return boolFromEnv("AUDIT_EVENTS_ENABLED", false)
}

func AuditEventsTopic() string {
	if v := strings.TrimSpace(os.Getenv("AUDIT_EVENTS_TOPIC")); v != "" {
		return v
	}
	return "audit-events"
}

// SkipMigrations disables AutoMigrate at startup (schema managed out of band).
func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS", false)
}
