package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statehub-server/core/internal/auth"
)

// Logger is the minimal logging surface the store needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewPool opens a pgx connection pool against databaseURL and verifies
// connectivity with a ping before returning (boot-fatal on failure per §7).
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	return pool, nil
}

// PGStore is the pgx-backed implementation of Store.
type PGStore struct {
	pool *pgxpool.Pool
	log  Logger
}

// NewPGStore wraps an already-connected pool.
func NewPGStore(pool *pgxpool.Pool, log Logger) *PGStore {
	return &PGStore{pool: pool, log: log}
}

// Migrate applies the schema. Safe to call on every boot: every statement
// is IF NOT EXISTS.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (auth.User, error) {
	var u auth.User
	var lastLogin *time.Time
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.PasswordSalt, &u.LastIP, &u.LastToken, &lastLogin)
	return u, err
}

const userColumns = `id, username, email, passwordhash, passwordsalt, lastip, lasttoken, lastlogin`

// CreateUser inserts a new user row. Username/email uniqueness is enforced
// by the schema; callers translate the resulting unique-violation into the
// §6.1 usernameTaken/emailTaken error codes.
func (s *PGStore) CreateUser(ctx context.Context, u NewUser) (auth.User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, passwordhash, passwordsalt)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+userColumns,
		u.Username, u.Email, u.PasswordHash, u.PasswordSalt)
	user, err := scanUser(row)
	if err != nil {
		return auth.User{}, fmt.Errorf("store: create user: %w", err)
	}
	return s.withPermissions(ctx, user)
}

// GetUserByUsername looks up a user for the login flow.
func (s *PGStore) GetUserByUsername(ctx context.Context, username string) (auth.User, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return s.scanOptionalUser(ctx, row)
}

// GetUserByEmail looks up a user during registration's uniqueness check.
func (s *PGStore) GetUserByEmail(ctx context.Context, email string) (auth.User, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return s.scanOptionalUser(ctx, row)
}

// GetUserByToken implements auth.UserStore: it resolves the user whose
// current session token (lastToken) matches tokenString exactly, so that a
// newer login invalidates any token issued before it (§4.8).
func (s *PGStore) GetUserByToken(ctx context.Context, tokenString string) (auth.User, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lasttoken = $1`, tokenString)
	return s.scanOptionalUser(ctx, row)
}

func (s *PGStore) scanOptionalUser(ctx context.Context, row pgx.Row) (auth.User, bool, error) {
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.User{}, false, nil
	}
	if err != nil {
		return auth.User{}, false, fmt.Errorf("store: scan user: %w", err)
	}
	user, err = s.withPermissions(ctx, user)
	if err != nil {
		return auth.User{}, false, err
	}
	return user, true, nil
}

func (s *PGStore) withPermissions(ctx context.Context, u auth.User) (auth.User, error) {
	perms, err := s.Permissions(ctx, u.ID)
	if err != nil {
		return auth.User{}, err
	}
	u.Permissions = perms
	return u, nil
}

// RecordLogin stamps lastIp/lastToken/lastLogin after a successful
// authentication, establishing the new single-active-session token.
func (s *PGStore) RecordLogin(ctx context.Context, userID, ip, token string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET lastip = $1, lasttoken = $2, lastlogin = now() WHERE id = $3`,
		ip, token, userID)
	if err != nil {
		return fmt.Errorf("store: record login: %w", err)
	}
	return nil
}

// GrantPermission inserts (userID, permission) if absent. ON CONFLICT DO
// NOTHING on the (userid, permission) unique index is what makes repeating
// the call idempotent (§8: exactly one row survives N grants).
func (s *PGStore) GrantPermission(ctx context.Context, userID, permission string, minRole int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO userpermissions (userid, permission, minrole)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (userid, permission) DO NOTHING`,
		userID, permission, minRole)
	if err != nil {
		return fmt.Errorf("store: grant permission: %w", err)
	}
	return nil
}

// Permissions lists the permission strings granted to userID.
func (s *PGStore) Permissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT permission FROM userpermissions WHERE userid = $1 ORDER BY permission`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("store: scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ActiveBan returns the most recent ban for userID, whether or not it is
// currently active; callers apply Ban.Active themselves, since what counts
// as "now" belongs to the caller, not the store.
func (s *PGStore) ActiveBan(ctx context.Context, userID string) (Ban, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, userid, reason, bannedby, expiresat, permaban, bannedat
		 FROM bans WHERE userid = $1
		 ORDER BY bannedat DESC LIMIT 1`, userID)

	var b Ban
	err := row.Scan(&b.ID, &b.UserID, &b.Reason, &b.BannedBy, &b.ExpiresAt, &b.Permaban, &b.BannedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ban{}, false, nil
	}
	if err != nil {
		return Ban{}, false, fmt.Errorf("store: scan ban: %w", err)
	}
	return b, true, nil
}

// LinkOAuthIdentity associates an external provider identity with userID.
// The (provider, providerId) unique index rejects re-linking the same
// external identity to a different user.
func (s *PGStore) LinkOAuthIdentity(ctx context.Context, userID, provider, providerID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO oauthidentities (userid, provider, providerid) VALUES ($1, $2, $3)
		 ON CONFLICT (provider, providerid) DO NOTHING`,
		userID, provider, providerID)
	if err != nil {
		return fmt.Errorf("store: link oauth identity: %w", err)
	}
	return nil
}

// GetUserByOAuthIdentity resolves the user linked to an external identity,
// used by the OAuth callback handlers to find-or-create on first login.
func (s *PGStore) GetUserByOAuthIdentity(ctx context.Context, provider, providerID string) (auth.User, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+qualifiedUserColumns()+`
		 FROM users u
		 JOIN oauthidentities o ON o.userid = u.id
		 WHERE o.provider = $1 AND o.providerid = $2`,
		provider, providerID)
	return s.scanOptionalUser(ctx, row)
}

func qualifiedUserColumns() string {
	return "u.id, u.username, u.email, u.passwordhash, u.passwordsalt, u.lastip, u.lasttoken, u.lastlogin"
}
