package storage

type migration struct {
	version int
	sql     string
}

// sqliteMigrations must stay sequential from 1. The postgres schema lives in
// migrations/postgres and is kept equivalent.
var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS projects (
	project_id INTEGER PRIMARY KEY,
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS boards (
	board_id   INTEGER PRIMARY KEY,
	project_id INTEGER NOT NULL DEFAULT 0,
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS styles (
	style_id INTEGER PRIMARY KEY,
	name     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cards (
	card_id                INTEGER PRIMARY KEY,
	name                   TEXT NOT NULL,
	is_active              INTEGER NOT NULL DEFAULT 1,
	start_date             INTEGER NOT NULL,
	end_date               INTEGER NOT NULL,
	reminder_days_interval INTEGER,
	last_reminder_date     INTEGER,
	project_id             INTEGER NOT NULL DEFAULT 0,
	board_id               INTEGER NOT NULL DEFAULT 0,
	style_id               INTEGER,
	CHECK (start_date <= end_date)
);

CREATE TABLE IF NOT EXISTS assigns (
	assign_id INTEGER PRIMARY KEY AUTOINCREMENT,
	card_id   INTEGER NOT NULL REFERENCES cards(card_id) ON DELETE CASCADE,
	user_id   TEXT NOT NULL,
	UNIQUE (card_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(is_active, end_date, card_id);
CREATE INDEX IF NOT EXISTS idx_assigns_card ON assigns(card_id, assign_id);
`,
	},
}
