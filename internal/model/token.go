package model

import (
	"slices"
	"time"
)

// Abilities granted to API tokens. Sync covers push, pull and the
// orchestrator trigger; resolve covers conflict resolution.
const (
	AbilitySync    = "sync"
	AbilityResolve = "sync:resolve"
)

// APIToken is a database-backed bearer credential. The wire form is
// "<id>|<secret>"; only the argon2id hash of the secret is stored.
type APIToken struct {
	ID         int64
	Name       string
	SecretHash string
	Abilities  []string
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// Can reports whether the token carries the given ability. A token
// with the wildcard ability "*" can do anything.
func (t *APIToken) Can(ability string) bool {
	return slices.Contains(t.Abilities, "*") || slices.Contains(t.Abilities, ability)
}

// Expired reports whether the token is past its expiry, if it has one.
func (t *APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Revoked reports whether the token has been revoked.
func (t *APIToken) Revoked() bool {
	return t.RevokedAt != nil
}
