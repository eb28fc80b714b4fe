package postgres

// schema is applied on startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id           TEXT PRIMARY KEY,
		username     TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS servers (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id        TEXT PRIMARY KEY,
		server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
		name      TEXT NOT NULL,
		ord       BIGSERIAL,
		UNIQUE (server_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		user_lo    TEXT NOT NULL REFERENCES users(id),
		user_hi    TEXT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_lo, user_hi),
		CHECK (user_lo < user_hi)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              BIGSERIAL PRIMARY KEY,
		type            TEXT NOT NULL,
		user_id         TEXT NOT NULL REFERENCES users(id),
		text            TEXT NOT NULL DEFAULT '',
		file_url        TEXT NOT NULL DEFAULT '',
		channel_id      TEXT REFERENCES channels(id) ON DELETE CASCADE,
		conversation_id TEXT REFERENCES conversations(id) ON DELETE CASCADE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK ((channel_id IS NULL) <> (conversation_id IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS messages_channel_idx ON messages (channel_id, id)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, id)`,
	`CREATE TABLE IF NOT EXISTS friendships (
		id         TEXT PRIMARY KEY,
		requester  TEXT NOT NULL REFERENCES users(id),
		addressee  TEXT NOT NULL REFERENCES users(id),
		user_lo    TEXT NOT NULL,
		user_hi    TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_lo, user_hi)
	)`,
}
