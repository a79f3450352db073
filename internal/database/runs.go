package database

import (
	"encoding/json"
	"time"
)

// InsertRun records the start of a generation run.
func (db *DB) InsertRun(r *RunRecord) error {
	_, err := db.conn.Exec(
		`INSERT INTO generation_runs (id, strategy_id, started_at, queued) VALUES (?, ?, ?, ?)`,
		r.ID, r.StrategyID, r.StartedAt.UTC().Format(timeLayout), r.Queued,
	)
	return err
}

// FinishRun stores the final counts of a generation run.
func (db *DB) FinishRun(r *RunRecord) error {
	var errs *string
	if len(r.Errors) > 0 {
		data, err := json.Marshal(r.Errors)
		if err != nil {
			return err
		}
		s := string(data)
		errs = &s
	}
	finished := db.now()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}

	cancelled := 0
	if r.Cancelled {
		cancelled = 1
	}
	_, err := db.conn.Exec(
		`UPDATE generation_runs SET finished_at = ?, generated = ?, regenerated = ?, skipped = ?,
		failed = ?, cancelled = ?, errors = ? WHERE id = ?`,
		finished.UTC().Format(timeLayout), r.Generated, r.Regenerated, r.Skipped,
		r.Failed, cancelled, errs, r.ID,
	)
	return err
}

// GetRunsForStrategy returns the most recent runs of a strategy, newest first.
func (db *DB) GetRunsForStrategy(strategyID int64, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(
		`SELECT id, strategy_id, started_at, finished_at, queued, generated, regenerated,
		skipped, failed, cancelled, errors
		FROM generation_runs WHERE strategy_id = ? ORDER BY started_at DESC LIMIT ?`,
		strategyID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var started string
		var finished, errs *string
		var cancelled int
		if err := rows.Scan(&r.ID, &r.StrategyID, &started, &finished, &r.Queued, &r.Generated,
			&r.Regenerated, &r.Skipped, &r.Failed, &cancelled, &errs); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		if finished != nil {
			t := parseTime(*finished)
			r.FinishedAt = &t
		}
		r.Cancelled = cancelled != 0
		r.Errors = unmarshalList(errs)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate counts across all strategies.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{ByStage: make(map[Stage]int, len(Stages))}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM strategies").Scan(&s.Strategies); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM generation_runs").Scan(&s.Runs); err != nil {
		return nil, err
	}

	rows, err := db.conn.Query("SELECT stage, COUNT(*) FROM articles GROUP BY stage")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var stage Stage
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		s.ByStage[stage] = n
		s.Articles += n
	}
	return s, rows.Err()
}

// LastRunTime returns when the most recent run of a strategy started, or the
// zero time if it has never run.
func (db *DB) LastRunTime(strategyID int64) (time.Time, error) {
	var started *string
	err := db.conn.QueryRow(
		"SELECT MAX(started_at) FROM generation_runs WHERE strategy_id = ?", strategyID,
	).Scan(&started)
	if err != nil || started == nil {
		return time.Time{}, err
	}
	return parseTime(*started), nil
}
