package store

import (
	"context"
	"database/sql"
)

// schema is applied statement by statement and is safe to re-run.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL DEFAULT '',
		role               TEXT NOT NULL CHECK (role IN ('host', 'visitor')),
		age                INT  NOT NULL,
		gender             TEXT NOT NULL,
		bio                TEXT NOT NULL DEFAULT '',
		languages_spoken   JSONB NOT NULL DEFAULT '[]',
		languages_to_learn JSONB NOT NULL DEFAULT '[]',
		spoken_names       TEXT[] NOT NULL DEFAULT '{}',
		interests          TEXT[] NOT NULL DEFAULT '{}',
		photos             TEXT[] NOT NULL DEFAULT '{}',
		country            TEXT NOT NULL DEFAULT '',
		city               TEXT NOT NULL DEFAULT '',
		lat                DOUBLE PRECISION,
		lng                DOUBLE PRECISION,
		geohash            TEXT NOT NULL DEFAULT '',
		radius_km          DOUBLE PRECISION NOT NULL DEFAULT 0,
		gender_preference  TEXT NOT NULL DEFAULT 'any',
		age_min            INT NOT NULL DEFAULT 0,
		age_max            INT NOT NULL DEFAULT 0,
		blocked_users      TEXT[] NOT NULL DEFAULT '{}',
		duration_of_stay   TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS profiles_role_created_idx ON profiles (role, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS profiles_geohash_idx ON profiles (geohash text_pattern_ops)`,
	`CREATE TABLE IF NOT EXISTS swipes (
		id         TEXT PRIMARY KEY,
		from_user  TEXT NOT NULL,
		to_user    TEXT NOT NULL,
		type       TEXT NOT NULL CHECK (type IN ('like', 'dislike')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS swipes_pair_idx ON swipes (from_user, to_user, type)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id              TEXT PRIMARY KEY,
		user_low        TEXT NOT NULL,
		user_high       TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_message    TEXT,
		last_message_at TIMESTAMPTZ,
		CHECK (user_low < user_high),
		UNIQUE (user_low, user_high)
	)`,
	`CREATE INDEX IF NOT EXISTS matches_user_high_idx ON matches (user_high)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		match_id   TEXT NOT NULL REFERENCES matches (id),
		sender_id  TEXT NOT NULL,
		text       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_match_idx ON messages (match_id, created_at, id)`,
}

// Migrate creates the tables the Postgres store needs.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return storeErr("migrate", err)
		}
	}
	return nil
}

// Wipe removes every row. Used by the seeder.
func Wipe(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `TRUNCATE messages, matches, swipes, profiles, accounts`)
	if err != nil {
		return storeErr("wipe", err)
	}
	return nil
}
