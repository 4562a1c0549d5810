package offer

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/peertrade/internal/pagination"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed offer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the offer tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS offers (
			id            VARCHAR(36) PRIMARY KEY,
			owner_id      VARCHAR(64) NOT NULL,
			direction     VARCHAR(4) NOT NULL,
			asset         VARCHAR(10) NOT NULL,
			counter_asset VARCHAR(10) NOT NULL,
			price         NUMERIC(30,8) NOT NULL,
			total         NUMERIC(30,8) NOT NULL,
			min_per_trade NUMERIC(30,8) NOT NULL,
			max_per_trade NUMERIC(30,8) NOT NULL,
			available     NUMERIC(30,8) NOT NULL,
			methods       TEXT[] NOT NULL DEFAULT '{}',
			status        VARCHAR(16) NOT NULL DEFAULT 'active',
			created_at    TIMESTAMPTZ DEFAULT NOW(),
			updated_at    TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_offer_available_nonneg CHECK (available >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_offers_owner ON offers(owner_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_offers_status ON offers(status, asset);

		CREATE TABLE IF NOT EXISTS offer_activity (
			id          SERIAL PRIMARY KEY,
			offer_id    VARCHAR(36) NOT NULL REFERENCES offers(id),
			type        VARCHAR(20) NOT NULL,
			actor_id    VARCHAR(64) NOT NULL,
			prev_status VARCHAR(16),
			new_status  VARCHAR(16),
			detail      TEXT,
			at          TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_offer_activity ON offer_activity(offer_id, at);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, o *Offer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO offers (id, owner_id, direction, asset, counter_asset, price,
			total, min_per_trade, max_per_trade, available, methods, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, o.ID, o.OwnerID, o.Direction, o.Asset, o.CounterAsset, o.Price,
		o.Total, o.MinPerTrade, o.MaxPerTrade, o.Available, pq.Array(o.Methods),
		o.Status, o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Offer, error) {
	o := &Offer{}
	var methods pq.StringArray

	err := p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, direction, asset, counter_asset, price, total,
		       min_per_trade, max_per_trade, available, methods, status,
		       created_at, updated_at
		FROM offers WHERE id = $1
	`, id).Scan(&o.ID, &o.OwnerID, &o.Direction, &o.Asset, &o.CounterAsset,
		&o.Price, &o.Total, &o.MinPerTrade, &o.MaxPerTrade, &o.Available,
		&methods, &o.Status, &o.CreatedAt, &o.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Methods = methods

	rows, err := p.db.QueryContext(ctx, `
		SELECT type, actor_id, prev_status, new_status, detail, at
		FROM offer_activity WHERE offer_id = $1 ORDER BY at, id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec ActivityRecord
		var prev, next, detail sql.NullString
		if err := rows.Scan(&rec.Type, &rec.ActorID, &prev, &next, &detail, &rec.At); err != nil {
			return nil, err
		}
		rec.PrevStatus = Status(prev.String)
		rec.NewStatus = Status(next.String)
		rec.Detail = detail.String
		o.Activity = append(o.Activity, rec)
	}
	return o, rows.Err()
}

// UpdateTerms writes only the negotiable columns. Total and available are
// never touched here so concurrent capacity updates are not clobbered.
func (p *PostgresStore) UpdateTerms(ctx context.Context, id string, t Terms) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE offers SET price = $2, min_per_trade = $3, max_per_trade = $4,
			methods = $5, updated_at = $6
		WHERE id = $1
	`, id, t.Price, t.MinPerTrade, t.MaxPerTrade, pq.Array(t.Methods), time.Now())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOfferNotFound
	}
	return nil
}

func (p *PostgresStore) GrowTotal(ctx context.Context, id, amount string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE offers SET total = total + $2::NUMERIC,
			available = available + $2::NUMERIC, updated_at = NOW()
		WHERE id = $1
	`, id, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOfferNotFound
	}
	return nil
}

// ShrinkTotal lowers total and available together as long as the reduction
// fits in uncommitted capacity and leaves total positive.
func (p *PostgresStore) ShrinkTotal(ctx context.Context, id, amount string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE offers SET total = total - $2::NUMERIC,
			available = available - $2::NUMERIC, updated_at = NOW()
		WHERE id = $1 AND available >= $2::NUMERIC AND total > $2::NUMERIC
	`, id, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM offers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrOfferNotFound
	}
	return ErrInvalidAmountChange
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE offers SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOfferNotFound
	}
	return nil
}

// ConsumeCapacity decrements available in a single conditional UPDATE so
// concurrent takers cannot oversubscribe the offer.
func (p *PostgresStore) ConsumeCapacity(ctx context.Context, id, amount string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE offers SET available = available - $2::NUMERIC, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND available >= $2::NUMERIC
	`, id, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Zero rows: distinguish missing, inactive and undercapacity.
	var status Status
	err = p.db.QueryRowContext(ctx, `SELECT status FROM offers WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrOfferNotFound
	}
	if err != nil {
		return err
	}
	if status != StatusActive {
		return ErrOfferNotActive
	}
	return ErrInsufficientCapacity
}

func (p *PostgresStore) RestoreCapacity(ctx context.Context, id, amount string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE offers SET available = available + $2::NUMERIC, updated_at = NOW()
		WHERE id = $1 AND status <> 'cancelled'
	`, id, amount)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM offers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrOfferNotFound
	}
	return false, nil
}

func (p *PostgresStore) AppendActivity(ctx context.Context, id string, rec ActivityRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO offer_activity (offer_id, type, actor_id, prev_status, new_status, detail, at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
	`, id, rec.Type, rec.ActorID, string(rec.PrevStatus), string(rec.NewStatus), rec.Detail, rec.At)
	return err
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int, cursor *pagination.Cursor) ([]*Offer, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, owner_id, direction, asset, counter_asset, price, total,
			       min_per_trade, max_per_trade, available, methods, status,
			       created_at, updated_at
			FROM offers
			WHERE owner_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC LIMIT $4
		`, ownerID, cursor.CreatedAt, cursor.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, owner_id, direction, asset, counter_asset, price, total,
			       min_per_trade, max_per_trade, available, methods, status,
			       created_at, updated_at
			FROM offers WHERE owner_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2
		`, ownerID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Offer
	for rows.Next() {
		o := &Offer{}
		var methods pq.StringArray
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.Direction, &o.Asset, &o.CounterAsset,
			&o.Price, &o.Total, &o.MinPerTrade, &o.MaxPerTrade, &o.Available,
			&methods, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Methods = methods
		out = append(out, o)
	}
	return out, rows.Err()
}
