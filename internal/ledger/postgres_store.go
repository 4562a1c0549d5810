package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/peertrade/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables with NUMERIC columns.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS balances (
			user_id     VARCHAR(64) NOT NULL,
			asset       VARCHAR(10) NOT NULL,
			available   NUMERIC(30,8) NOT NULL DEFAULT 0,
			reserved    NUMERIC(30,8) NOT NULL DEFAULT 0,
			total_in    NUMERIC(30,8) NOT NULL DEFAULT 0,
			total_out   NUMERIC(30,8) NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (user_id, asset),
			CONSTRAINT chk_available_nonneg CHECK (available >= 0),
			CONSTRAINT chk_reserved_nonneg  CHECK (reserved >= 0)
		);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id           VARCHAR(36) PRIMARY KEY,
			user_id      VARCHAR(64) NOT NULL,
			asset        VARCHAR(10) NOT NULL,
			type         VARCHAR(20) NOT NULL,
			amount       NUMERIC(30,8) NOT NULL,
			reference    VARCHAR(64),
			counterparty VARCHAR(64),
			description  TEXT,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_entries_user ON ledger_entries(user_id, asset);
		CREATE INDEX IF NOT EXISTS idx_entries_ref ON ledger_entries(type, reference);
		CREATE INDEX IF NOT EXISTS idx_entries_created ON ledger_entries(created_at DESC);

		-- Deposits and payouts carry a caller idempotency reference. Reserve
		-- entries legitimately reuse a reference (an offer reserves again when
		-- its total is raised), so only these two types are unique.
		CREATE UNIQUE INDEX IF NOT EXISTS uniq_entries_dedup
			ON ledger_entries(type, reference)
			WHERE reference IS NOT NULL AND type IN ('deposit', 'transfer_out');
	`)
	return err
}

// mapConstraintErr translates a CHECK-constraint violation into the typed
// ledger error the caller expects: an overdrawn available bucket means the
// user simply lacks funds; an overdrawn reserved bucket means a caller bug
// the locking scheme should have prevented.
func mapConstraintErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23514" { // check_violation
		switch pqErr.Constraint {
		case "chk_available_nonneg":
			return ErrInsufficientFunds
		case "chk_reserved_nonneg":
			InvariantViolations.Inc()
			return ErrLedgerInvariant
		}
	}
	return err
}

func (p *PostgresStore) GetBalance(ctx context.Context, userID, asset string) (*Balance, error) {
	bal := &Balance{UserID: userID, Asset: asset}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, reserved, total_in, total_out, updated_at
		FROM balances WHERE user_id = $1 AND asset = $2
	`, userID, asset).Scan(&bal.Available, &bal.Reserved, &bal.TotalIn, &bal.TotalOut, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Balance{
			UserID:    userID,
			Asset:     asset,
			Available: "0",
			Reserved:  "0",
			TotalIn:   "0",
			TotalOut:  "0",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

func (p *PostgresStore) Credit(ctx context.Context, userID, asset, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, asset, available, total_in, updated_at)
		VALUES ($1, $2, $3::NUMERIC(30,8), $3::NUMERIC(30,8), NOW())
		ON CONFLICT (user_id, asset) DO UPDATE SET
			available  = balances.available + $3::NUMERIC(30,8),
			total_in   = balances.total_in  + $3::NUMERIC(30,8),
			updated_at = NOW()
	`, userID, asset, amount)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	if err := p.insertEntry(ctx, tx, userID, asset, EntryDeposit, amount, reference, "", description); err != nil {
		return err
	}

	return tx.Commit()
}

// Reserve moves funds from available to reserved. The row lock taken by
// UPDATE serializes concurrent reservations; the CHECK constraint rejects
// overdraft at the database level.
func (p *PostgresStore) Reserve(ctx context.Context, userID, asset, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			available  = available - $3::NUMERIC(30,8),
			reserved   = reserved  + $3::NUMERIC(30,8),
			updated_at = NOW()
		WHERE user_id = $1 AND asset = $2
	`, userID, asset, amount)
	if err != nil {
		return mapConstraintErr(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInsufficientFunds
	}

	if err := p.insertEntry(ctx, tx, userID, asset, EntryReserve, amount, reference, "", "funds reserved"); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) Release(ctx context.Context, userID, asset, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			reserved   = reserved  - $3::NUMERIC(30,8),
			available  = available + $3::NUMERIC(30,8),
			updated_at = NOW()
		WHERE user_id = $1 AND asset = $2
	`, userID, asset, amount)
	if err != nil {
		return mapConstraintErr(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}

	if err := p.insertEntry(ctx, tx, userID, asset, EntryRelease, amount, reference, "", "reservation released"); err != nil {
		return err
	}

	return tx.Commit()
}

// Transfer debits the payer's reserved bucket and credits the payee's
// available bucket in one transaction. Both sides commit or neither does.
func (p *PostgresStore) Transfer(ctx context.Context, fromUserID, toUserID, asset, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The entry insert goes first so a retried reference trips the unique
	// index as ErrDuplicateReference before the debit can fail a CHECK.
	if err := p.insertEntry(ctx, tx, fromUserID, asset, EntryTransferOut, amount, reference, toUserID, "escrow settled"); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			reserved   = reserved  - $3::NUMERIC(30,8),
			total_out  = total_out + $3::NUMERIC(30,8),
			updated_at = NOW()
		WHERE user_id = $1 AND asset = $2
	`, fromUserID, asset, amount)
	if err != nil {
		return mapConstraintErr(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, asset, available, total_in, updated_at)
		VALUES ($1, $2, $3::NUMERIC(30,8), $3::NUMERIC(30,8), NOW())
		ON CONFLICT (user_id, asset) DO UPDATE SET
			available  = balances.available + $3::NUMERIC(30,8),
			total_in   = balances.total_in  + $3::NUMERIC(30,8),
			updated_at = NOW()
	`, toUserID, asset, amount)
	if err != nil {
		return fmt.Errorf("failed to credit payee: %w", err)
	}

	if err := p.insertEntry(ctx, tx, toUserID, asset, EntryTransferIn, amount, reference, fromUserID, "escrow payment received"); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) RecordAttribution(ctx context.Context, userID, asset, amount, entryType, reference string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := p.insertEntry(ctx, tx, userID, asset, entryType, amount, reference, "", ""); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) insertEntry(ctx context.Context, tx *sql.Tx, userID, asset, entryType, amount, reference, counterparty, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, asset, type, amount, reference, counterparty, description, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(30,8), NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NOW())
	`, idgen.New(), userID, asset, entryType, amount, reference, counterparty, description)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "uniq_entries_dedup" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetHistory(ctx context.Context, userID, asset string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, asset, type, amount, reference, counterparty, description, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND asset = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, asset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var reference, counterparty, description sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Asset, &e.Type, &e.Amount, &reference, &counterparty, &description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = reference.String
		e.Counterparty = counterparty.String
		e.Description = description.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) HasEntry(ctx context.Context, entryType, reference string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries WHERE type = $1 AND reference = $2
	`, entryType, reference).Scan(&count)
	return count > 0, err
}
