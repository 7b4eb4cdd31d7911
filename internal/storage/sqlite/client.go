package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/logger"
)

// Client stores each bot's QA pairs with a dense, zero-based position.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Positional renumbering needs serialized writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS qa_pairs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bot_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		confidence REAL NOT NULL,
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_qa_pairs_bot_position ON qa_pairs(bot_id, position);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) List(ctx context.Context, botID int) ([]models.QAPair, error) {
	query := `SELECT question, answer, confidence, source FROM qa_pairs WHERE bot_id = ? ORDER BY position`

	rows, err := c.db.QueryContext(ctx, query, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	defer rows.Close()

	pairs := make([]models.QAPair, 0)
	for rows.Next() {
		var p models.QAPair
		var source string
		if err := rows.Scan(&p.Question, &p.Answer, &p.Confidence, &source); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		p.Source = models.Source(source)
		pairs = append(pairs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pairs: %w", err)
	}
	return pairs, nil
}

func (c *Client) Append(ctx context.Context, botID int, pairs ...models.QAPair) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM qa_pairs WHERE bot_id = ?`, botID).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to read next position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO qa_pairs (bot_id, position, question, answer, confidence, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, p := range pairs {
		if _, err := stmt.ExecContext(ctx, botID, next+i, p.Question, p.Answer, p.Confidence, string(p.Source), now); err != nil {
			return fmt.Errorf("failed to insert pair: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pairs: %w", err)
	}

	logger.Debug("Pairs inserted", zap.Int("bot_id", botID), zap.Int("count", len(pairs)))
	return nil
}

func (c *Client) RemoveAt(ctx context.Context, botID int, position int) (models.QAPair, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return models.QAPair{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var p models.QAPair
	var source string
	err = tx.QueryRowContext(ctx,
		`SELECT id, question, answer, confidence, source FROM qa_pairs WHERE bot_id = ? AND position = ?`,
		botID, position,
	).Scan(&id, &p.Question, &p.Answer, &p.Confidence, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QAPair{}, apperr.NotFound("content.remove", "no pair at position %d", position)
	}
	if err != nil {
		return models.QAPair{}, fmt.Errorf("failed to get pair: %w", err)
	}
	p.Source = models.Source(source)

	if _, err := tx.ExecContext(ctx, `DELETE FROM qa_pairs WHERE id = ?`, id); err != nil {
		return models.QAPair{}, fmt.Errorf("failed to delete pair: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE qa_pairs SET position = position - 1 WHERE bot_id = ? AND position > ?`,
		botID, position,
	); err != nil {
		return models.QAPair{}, fmt.Errorf("failed to renumber pairs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.QAPair{}, fmt.Errorf("failed to commit removal: %w", err)
	}
	return p, nil
}

func (c *Client) DeleteBot(ctx context.Context, botID int) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM qa_pairs WHERE bot_id = ?`, botID)
	if err != nil {
		return fmt.Errorf("failed to delete bot pairs: %w", err)
	}
	n, _ := res.RowsAffected()
	logger.Info("Bot content deleted", zap.Int("bot_id", botID), zap.Int64("pairs", n))
	return nil
}
