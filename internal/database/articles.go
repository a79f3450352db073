package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const articleColumns = `id, strategy_id, kind, parent_id, title, stage, content,
	word_count, quality_score, issues, created_at, updated_at`

// ListByStrategy returns every article of a strategy in creation order.
func (db *DB) ListByStrategy(strategyID int64) ([]Article, error) {
	rows, err := db.conn.Query(
		`SELECT `+articleColumns+` FROM articles WHERE strategy_id = ? ORDER BY id`, strategyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// GetArticle returns a single article by ID, or ErrNotFound.
func (db *DB) GetArticle(articleID int64) (*Article, error) {
	return getArticle(db.conn, articleID)
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getArticle(q queryRower, articleID int64) (*Article, error) {
	row := q.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE id = ?`, articleID)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("article %d: %w", articleID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Transition moves an article from one stage to another and applies the
// patch in the same statement. The update only lands if the article is still
// in the from stage: it fails with ErrNotFound when the article is gone and
// ErrStaleState when someone else moved it first.
func (db *DB) Transition(articleID int64, from, to Stage, patch *Patch) (*Article, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("article %d %s -> %s: %w", articleID, from, to, ErrInvalidTransition)
	}

	updates := []string{"stage = ?", "updated_at = ?"}
	args := []any{to, db.stamp()}
	if patch != nil {
		if patch.Content != nil {
			updates = append(updates, "content = ?")
			args = append(args, *patch.Content)
		}
		if patch.WordCount != nil {
			updates = append(updates, "word_count = ?")
			args = append(args, *patch.WordCount)
		}
		if patch.QualityScore != nil {
			updates = append(updates, "quality_score = ?")
			args = append(args, *patch.QualityScore)
		}
		if patch.Issues != nil {
			issues, err := marshalList(patch.Issues)
			if err != nil {
				return nil, err
			}
			updates = append(updates, "issues = ?")
			args = append(args, issues)
		}
	}
	args = append(args, articleID, from)

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("UPDATE articles SET %s WHERE id = ? AND stage = ?", strings.Join(updates, ", "))
	res, err := tx.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating article %d: %w", articleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if n == 0 {
		var current Stage
		err := tx.QueryRow("SELECT stage FROM articles WHERE id = ?", articleID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("article %d: %w", articleID, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("article %d is %s, expected %s: %w", articleID, current, from, ErrStaleState)
	}

	a, err := getArticle(tx, articleID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// MarkPublished records the external publishing action for a generated article.
func (db *DB) MarkPublished(articleID int64) (*Article, error) {
	return db.Transition(articleID, StageGenerated, StagePublished, nil)
}

// CountByStage tallies the persisted stages of a strategy's articles.
func (db *DB) CountByStage(strategyID int64) (map[Stage]int, error) {
	rows, err := db.conn.Query(
		"SELECT stage, COUNT(*) FROM articles WHERE strategy_id = ? GROUP BY stage", strategyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Stage]int, len(Stages))
	for rows.Next() {
		var stage Stage
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

func scanArticle(row scanner) (*Article, error) {
	var a Article
	var issues *string
	var created, updated string
	if err := row.Scan(&a.ID, &a.StrategyID, &a.Kind, &a.ParentID, &a.Title, &a.Stage,
		&a.Content, &a.WordCount, &a.QualityScore, &issues, &created, &updated); err != nil {
		return nil, err
	}
	a.Issues = unmarshalList(issues)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}
