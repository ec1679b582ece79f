// Package storage defines the registration audit trail interface.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL.
//
// The audit trail records that a token registration or lookup happened,
// never the token itself. Identities are stored as SHA-256 digests so the
// trail cannot be joined back to the secret store path space.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Outcome values for registration events.
const (
	OutcomeRegistered     = "registered"      // token validated and written
	OutcomeRejectedFormat = "rejected_format" // token failed the syntactic check
	OutcomeRejectedLive   = "rejected_live"   // LMS refused the token during validation
	OutcomeLookup         = "lookup"          // stored token retrieved for use
	OutcomeLookupMissing  = "lookup_missing"  // lookup found no stored token
)

// RegistrationEvent is one append-only record in the audit trail.
type RegistrationEvent struct {
	ID             uuid.UUID `json:"id"`
	IdentityDigest string    `json:"identity_digest"` // SHA-256 hex of the entity ID, never the raw ID
	Outcome        string    `json:"outcome"`
	Detail         string    `json:"detail,omitempty"` // short non-sensitive note, e.g. upstream status
	CreatedAt      time.Time `json:"created_at"`
}

// AuditStore is the persistence interface for the registration audit trail.
// Append-only: no update or delete methods exist.
// Both SQLite and PostgreSQL backends implement this interface.
type AuditStore interface {
	// Append inserts a single event. The event's ID and CreatedAt are
	// assigned by the store if zero.
	Append(ctx context.Context, event RegistrationEvent) error

	// Recent returns events newest first. If identityDigest is non-empty,
	// filters to that identity. Limit defaults to 100.
	Recent(ctx context.Context, identityDigest string, limit int) ([]RegistrationEvent, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// IdentityDigest returns the SHA-256 hex digest of a Vault entity ID.
// Raw entity IDs never reach the audit trail.
func IdentityDigest(entityID string) string {
	sum := sha256.Sum256([]byte(entityID))
	return hex.EncodeToString(sum[:])
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
