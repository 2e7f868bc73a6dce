package store

// schema creates the four tables of §6.4. Migrations are forward-only,
// matching the registry pattern this store is grounded on: there is no
// down migration, a fresh environment just re-applies the same DDL
// idempotently via IF NOT EXISTS.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	passwordhash  TEXT NOT NULL,
	passwordsalt  TEXT NOT NULL,
	lastip        TEXT NOT NULL DEFAULT '',
	lasttoken     TEXT NOT NULL DEFAULT '',
	lastlogin     TIMESTAMPTZ,
	createdat     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS userpermissions (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	userid     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	permission TEXT NOT NULL,
	minrole    INTEGER NOT NULL DEFAULT 0,
	createdat  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (userid, permission)
);

CREATE TABLE IF NOT EXISTS oauthidentities (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	userid     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider   TEXT NOT NULL,
	providerid TEXT NOT NULL,
	UNIQUE (provider, providerid)
);

CREATE TABLE IF NOT EXISTS bans (
	id        UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	userid    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	reason    TEXT NOT NULL,
	bannedby  TEXT NOT NULL DEFAULT '',
	expiresat TIMESTAMPTZ,
	permaban  BOOLEAN NOT NULL DEFAULT false,
	bannedat  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
