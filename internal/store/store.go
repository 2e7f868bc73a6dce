// Package store implements the relational store (§6.2/§6.4): the four
// tables backing users, permissions, OAuth identities, and bans, behind a
// narrow interface so the rest of the core never imports pgx directly.
package store

import (
	"context"
	"time"

	"github.com/statehub-server/core/internal/auth"
)

// Ban is one row of the bans table.
type Ban struct {
	ID        string
	UserID    string
	Reason    string
	BannedBy  string
	ExpiresAt *time.Time
	Permaban  bool
	BannedAt  time.Time
}

// Active reports whether the ban is in effect at t: a permaban never
// expires, otherwise it is active only while t is before ExpiresAt.
func (b Ban) Active(t time.Time) bool {
	if b.Permaban {
		return true
	}
	if b.ExpiresAt == nil {
		return false
	}
	return t.Before(*b.ExpiresAt)
}

// NewUser collects the fields needed to create a user account.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	PasswordSalt string
}

// Store is the full persistence surface the application layer needs. It
// is satisfied by *PGStore; tests substitute an in-memory fake.
type Store interface {
	auth.UserStore

	CreateUser(ctx context.Context, u NewUser) (auth.User, error)
	GetUserByUsername(ctx context.Context, username string) (auth.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (auth.User, bool, error)
	RecordLogin(ctx context.Context, userID, ip, token string) error

	GrantPermission(ctx context.Context, userID, permission string, minRole int) error
	Permissions(ctx context.Context, userID string) ([]string, error)

	ActiveBan(ctx context.Context, userID string) (Ban, bool, error)

	LinkOAuthIdentity(ctx context.Context, userID, provider, providerID string) error
	GetUserByOAuthIdentity(ctx context.Context, provider, providerID string) (auth.User, bool, error)
}
