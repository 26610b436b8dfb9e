// Package storage persists cashback bonuses in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"finguru/internal/core"
	"finguru/internal/log"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	insertBonus = `INSERT INTO cashback_bonuses
    (id, client_id, category, bonus_percent, valid_until_ms, activated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)`

	selectActiveBonuses = `SELECT id, client_id, category, bonus_percent, valid_until_ms, activated_at_ms
FROM cashback_bonuses
WHERE client_id = ? AND valid_until_ms > ?
ORDER BY activated_at_ms, rowid`

	deleteExpiredBonuses = `DELETE FROM cashback_bonuses WHERE valid_until_ms <= ?`
)

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if logger == nil {
		logger = log.Discard()
	}
	return &SQLiteRepository{
		db:     db,
		logger: logger.WithComponent(log.ComponentStorage),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Save implements cashback.Store
func (r *SQLiteRepository) Save(ctx context.Context, b core.CashbackBonus) error {
	_, err := r.db.ExecContext(ctx, insertBonus,
		b.ID,
		b.ClientID,
		b.Category,
		b.BonusPercent.String(),
		b.ValidUntil.UnixMilli(),
		b.ActivatedAt.UnixMilli(),
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("cashback bonus %s: %w", b.ID, core.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert cashback bonus: %w", err)
	}

	r.logger.DebugContext(ctx, "Cashback bonus saved to SQLite",
		"id", b.ID,
		log.FieldClientID, b.ClientID,
		log.FieldCategory, b.Category)
	return nil
}

// ListActive implements cashback.Store
func (r *SQLiteRepository) ListActive(ctx context.Context, clientID string, now time.Time) ([]core.CashbackBonus, error) {
	rows, err := r.db.QueryContext(ctx, selectActiveBonuses, clientID, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query cashback bonuses: %w", err)
	}
	defer rows.Close()

	var bonuses []core.CashbackBonus
	for rows.Next() {
		var (
			b                     core.CashbackBonus
			percent               string
			validUntil, activated int64
		)
		if err := rows.Scan(&b.ID, &b.ClientID, &b.Category, &percent, &validUntil, &activated); err != nil {
			return nil, fmt.Errorf("scan cashback bonus: %w", err)
		}
		b.BonusPercent, err = decimal.NewFromString(percent)
		if err != nil {
			return nil, fmt.Errorf("parse bonus percent %q: %w", percent, err)
		}
		b.ValidUntil = time.UnixMilli(validUntil).UTC()
		b.ActivatedAt = time.UnixMilli(activated).UTC()
		bonuses = append(bonuses, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cashback bonuses: %w", err)
	}
	return bonuses, nil
}

// PurgeExpired deletes bonuses that expired at or before now.
func (r *SQLiteRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredBonuses, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired cashback bonuses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "Purged expired cashback bonuses", log.FieldCount, n)
	}
	return n, nil
}

func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
