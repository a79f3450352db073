package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CreateStrategy inserts a strategy and plans all of its articles in one
// transaction. Each pillar is followed by its clusters, which fixes the
// creation order used to sort work queues.
func (db *DB) CreateStrategy(ns NewStrategy) (*Strategy, error) {
	name := strings.TrimSpace(ns.Name)
	if name == "" {
		return nil, fmt.Errorf("strategy name is required")
	}
	if len(ns.Pillars) == 0 {
		return nil, fmt.Errorf("strategy %q has no pillars", name)
	}

	clusterTarget := 0
	for _, p := range ns.Pillars {
		if strings.TrimSpace(p.Title) == "" {
			return nil, fmt.Errorf("strategy %q has a pillar without a title", name)
		}
		clusterTarget += len(p.Clusters)
	}

	feeds, err := marshalList(ns.Feeds)
	if err != nil {
		return nil, err
	}
	sources, err := marshalList(ns.Sources)
	if err != nil {
		return nil, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := db.stamp()
	res, err := tx.Exec(
		`INSERT INTO strategies (name, description, audience, pillar_target, cluster_target, feeds, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		name, ns.Description, ns.Audience, len(ns.Pillars), clusterTarget, feeds, sources, now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting strategy %q: %w", name, err)
	}
	strategyID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	for _, p := range ns.Pillars {
		pillarID, err := insertPlanned(tx, strategyID, KindPillar, nil, p.Title, now)
		if err != nil {
			return nil, err
		}
		for _, title := range p.Clusters {
			if _, err := insertPlanned(tx, strategyID, KindCluster, &pillarID, title, now); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return db.GetStrategy(strategyID)
}

func insertPlanned(tx *sql.Tx, strategyID int64, kind Kind, parentID *int64, title, now string) (int64, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, fmt.Errorf("%s article without a title", kind)
	}
	res, err := tx.Exec(
		`INSERT INTO articles (strategy_id, kind, parent_id, title, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		strategyID, kind, parentID, title, StagePlanned, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting article %q: %w", title, err)
	}
	return res.LastInsertId()
}

// GetStrategy returns a strategy by ID, or ErrNotFound.
func (db *DB) GetStrategy(strategyID int64) (*Strategy, error) {
	row := db.conn.QueryRow(
		`SELECT id, name, description, audience, pillar_target, cluster_target, feeds, sources, created_at
		FROM strategies WHERE id = ?`, strategyID,
	)
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("strategy %d: %w", strategyID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListStrategies returns all strategies in creation order.
func (db *DB) ListStrategies() ([]Strategy, error) {
	rows, err := db.conn.Query(
		`SELECT id, name, description, audience, pillar_target, cluster_target, feeds, sources, created_at
		FROM strategies ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strategies []Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, *s)
	}
	return strategies, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row scanner) (*Strategy, error) {
	var s Strategy
	var desc, audience, feeds, sources *string
	var created string
	if err := row.Scan(&s.ID, &s.Name, &desc, &audience, &s.PillarTarget, &s.ClusterTarget,
		&feeds, &sources, &created); err != nil {
		return nil, err
	}
	if desc != nil {
		s.Description = *desc
	}
	if audience != nil {
		s.Audience = *audience
	}
	s.Feeds = unmarshalList(feeds)
	s.Sources = unmarshalList(sources)
	s.CreatedAt = parseTime(created)
	return &s, nil
}

func marshalList(items []string) (*string, error) {
	if items == nil {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func unmarshalList(data *string) []string {
	if data == nil {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(*data), &items); err != nil {
		return nil
	}
	return items
}
