package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"minigames-backend/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS wallets (
	user_id    TEXT PRIMARY KEY,
	balance    NUMERIC(20, 2) NOT NULL CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	kind           TEXT NOT NULL,
	amount         NUMERIC(20, 2) NOT NULL,
	balance_before NUMERIC(20, 2) NOT NULL,
	balance_after  NUMERIC(20, 2) NOT NULL,
	game           TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ledger_entries_user_created ON ledger_entries (user_id, created_at DESC);
CREATE TABLE IF NOT EXISTS pending_credits (
	id         BIGSERIAL PRIMARY KEY,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresLedger keeps wallets and the entry log in Postgres. Each delta runs
// in one transaction holding the wallet row lock.
type PostgresLedger struct {
	db       *sql.DB
	starting decimal.Decimal
}

func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	// Simple protocol keeps poolers such as PgBouncer happy.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*cfg)
	db.SetConnMaxIdleTime(4 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

func NewPostgresLedger(ctx context.Context, db *sql.DB, starting decimal.Decimal) (*PostgresLedger, error) {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return &PostgresLedger{db: db, starting: starting}, nil
}

func (p *PostgresLedger) Close() error {
	return p.db.Close()
}

func (p *PostgresLedger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresLedger) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := p.db.QueryRowContext(ctx, "SELECT balance FROM wallets WHERE user_id = $1", userID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return p.starting, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get wallet: %w", err)
	}
	return bal, nil
}

func (p *PostgresLedger) ApplyDelta(ctx context.Context, d models.Delta) (decimal.Decimal, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO wallets (user_id, balance) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING",
		d.UserID, p.starting); err != nil {
		return decimal.Zero, fmt.Errorf("failed to open wallet: %w", err)
	}

	var before decimal.Decimal
	if err := tx.QueryRowContext(ctx,
		"SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE", d.UserID).Scan(&before); err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock wallet: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE id = $1)", d.Key).Scan(&exists); err != nil {
		return decimal.Zero, fmt.Errorf("failed to check delta key: %w", err)
	}
	if exists {
		return before, tx.Commit()
	}

	after := before.Add(d.Amount)
	if after.IsNegative() {
		return before, ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE wallets SET balance = $2, updated_at = now() WHERE user_id = $1",
		d.UserID, after); err != nil {
		return decimal.Zero, fmt.Errorf("failed to update wallet: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
      INSERT INTO ledger_entries (id, user_id, kind, amount, balance_before, balance_after, game, description)
      VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `,
		d.Key,
		d.UserID,
		string(d.Kind),
		d.Amount,
		before,
		after,
		string(d.Game),
		d.Description,
	); err != nil {
		return decimal.Zero, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit ledger tx: %w", err)
	}
	return after, nil
}

func (p *PostgresLedger) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
      SELECT id, user_id, kind, amount, balance_before, balance_after, game, description, created_at
      FROM ledger_entries
      WHERE user_id = $1
      ORDER BY created_at DESC
      LIMIT $2
    `, userID, clampHistory(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var (
			e          models.LedgerEntry
			kind, game string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Amount, &e.BalanceBefore, &e.BalanceAfter, &game, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Kind = models.EntryKind(kind)
		e.Game = models.GameType(game)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresLedger) PushPending(ctx context.Context, pc models.PendingCredit) error {
	data, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("failed to marshal pending credit: %w", err)
	}
	_, err = p.db.ExecContext(ctx, "INSERT INTO pending_credits (payload) VALUES ($1)", string(data))
	return err
}

func (p *PostgresLedger) PopPending(ctx context.Context) (*models.PendingCredit, error) {
	var data string
	err := p.db.QueryRowContext(ctx, `
      DELETE FROM pending_credits
      WHERE id = (SELECT id FROM pending_credits ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED)
      RETURNING payload::text
    `).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop pending credit: %w", err)
	}
	var pc models.PendingCredit
	if err := json.Unmarshal([]byte(data), &pc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending credit: %w", err)
	}
	return &pc, nil
}
