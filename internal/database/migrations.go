package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS strategies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    description TEXT,
    audience TEXT,
    pillar_target INTEGER NOT NULL,
    cluster_target INTEGER NOT NULL,
    feeds TEXT,
    sources TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    strategy_id INTEGER NOT NULL REFERENCES strategies(id),
    kind TEXT NOT NULL CHECK(kind IN ('pillar', 'cluster')),
    parent_id INTEGER REFERENCES articles(id),
    title TEXT NOT NULL,
    stage TEXT NOT NULL DEFAULT 'planned'
        CHECK(stage IN ('planned', 'generating', 'generated', 'corrupted', 'published')),
    content TEXT,
    word_count INTEGER DEFAULT 0,
    quality_score INTEGER DEFAULT 0,
    issues TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TRIGGER IF NOT EXISTS strategies_targets_immutable
BEFORE UPDATE OF pillar_target, cluster_target ON strategies
BEGIN
    SELECT RAISE(ABORT, 'strategy targets are immutable');
END;

CREATE INDEX IF NOT EXISTS idx_articles_strategy ON articles(strategy_id, id);
CREATE INDEX IF NOT EXISTS idx_articles_stage ON articles(stage);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "generation run history",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS generation_runs (
    id TEXT PRIMARY KEY,
    strategy_id INTEGER NOT NULL REFERENCES strategies(id),
    started_at TEXT NOT NULL,
    finished_at TEXT,
    queued INTEGER DEFAULT 0,
    generated INTEGER DEFAULT 0,
    regenerated INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    cancelled INTEGER DEFAULT 0,
    errors TEXT
);

CREATE INDEX IF NOT EXISTS idx_generation_runs_strategy ON generation_runs(strategy_id, started_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
