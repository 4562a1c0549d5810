package trade

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed trade store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the trade tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS trades (
			id               VARCHAR(36) PRIMARY KEY,
			offer_id         VARCHAR(36) NOT NULL,
			buyer_id         VARCHAR(64) NOT NULL,
			seller_id        VARCHAR(64) NOT NULL,
			asset            VARCHAR(10) NOT NULL,
			counter_asset    VARCHAR(10) NOT NULL,
			amount           NUMERIC(30,8) NOT NULL,
			price            NUMERIC(30,8) NOT NULL,
			total            NUMERIC(30,8) NOT NULL,
			status           VARCHAR(20) NOT NULL DEFAULT 'pending',
			escrow_amount    NUMERIC(30,8) NOT NULL,
			payment_deadline TIMESTAMPTZ NOT NULL,
			expires_at       TIMESTAMPTZ NOT NULL,
			dispute_id       VARCHAR(36),
			payment_sent_at  TIMESTAMPTZ,
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			updated_at       TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_trades_offer ON trades(offer_id, status);
		CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades(buyer_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades(seller_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_trades_deadline ON trades(status, payment_deadline);

		CREATE TABLE IF NOT EXISTS disputes (
			id          VARCHAR(36) PRIMARY KEY,
			trade_id    VARCHAR(36) NOT NULL,
			raised_by   VARCHAR(64) NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			status      VARCHAR(16) NOT NULL DEFAULT 'open',
			resolution  VARCHAR(32),
			resolved_by VARCHAR(64),
			resolved_at TIMESTAMPTZ,
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_disputes_trade ON disputes(trade_id);
	`)
	return err
}

func (p *PostgresStore) CreateTrade(ctx context.Context, t *Trade) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trades (id, offer_id, buyer_id, seller_id, asset, counter_asset,
			amount, price, total, status, escrow_amount, payment_deadline,
			expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, t.ID, t.OfferID, t.BuyerID, t.SellerID, t.Asset, t.CounterAsset,
		t.Amount, t.Price, t.Total, t.Status, t.EscrowAmount, t.PaymentDeadline,
		t.ExpiresAt, t.CreatedAt, t.UpdatedAt)
	return err
}

func scanTrade(row interface{ Scan(...any) error }) (*Trade, error) {
	t := &Trade{}
	var disputeID sql.NullString
	var paymentSentAt sql.NullTime
	err := row.Scan(&t.ID, &t.OfferID, &t.BuyerID, &t.SellerID, &t.Asset,
		&t.CounterAsset, &t.Amount, &t.Price, &t.Total, &t.Status,
		&t.EscrowAmount, &t.PaymentDeadline, &t.ExpiresAt, &disputeID,
		&paymentSentAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.DisputeID = disputeID.String
	if paymentSentAt.Valid {
		at := paymentSentAt.Time
		t.PaymentSentAt = &at
	}
	return t, nil
}

const tradeColumns = `id, offer_id, buyer_id, seller_id, asset, counter_asset,
	amount, price, total, status, escrow_amount, payment_deadline, expires_at,
	dispute_id, payment_sent_at, created_at, updated_at`

func (p *PostgresStore) GetTrade(ctx context.Context, id string) (*Trade, error) {
	t, err := scanTrade(p.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrTradeNotFound
	}
	return t, err
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trades SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if qerr := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM trades WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return qerr
		}
		if !exists {
			return ErrTradeNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}

func (p *PostgresStore) SetPaymentSent(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trades SET payment_sent_at = $2, updated_at = NOW() WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTradeNotFound
	}
	return nil
}

func (p *PostgresStore) SetDispute(ctx context.Context, tradeID, disputeID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trades SET dispute_id = $2, updated_at = NOW() WHERE id = $1
	`, tradeID, disputeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTradeNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectTrades(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Trade, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE (status IN ('active', 'escrow') AND (payment_deadline < $1 OR expires_at < $1))
		   OR (status = 'payment_sent' AND expires_at < $1)
		ORDER BY payment_deadline LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]*Trade, error) {
	defer rows.Close()
	var out []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountOpenByOffer(ctx context.Context, offerID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE offer_id = $1 AND status NOT IN ('completed', 'cancelled', 'expired')
	`, offerID).Scan(&n)
	return n, err
}

func (p *PostgresStore) CreateDispute(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (id, trade_id, raised_by, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.TradeID, d.RaisedBy, d.Reason, d.Status, d.CreatedAt)
	return err
}

func (p *PostgresStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	d := &Dispute{}
	var resolution, resolvedBy sql.NullString
	var resolvedAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, trade_id, raised_by, reason, status, resolution,
		       resolved_by, resolved_at, created_at
		FROM disputes WHERE id = $1
	`, id).Scan(&d.ID, &d.TradeID, &d.RaisedBy, &d.Reason, &d.Status,
		&resolution, &resolvedBy, &resolvedAt, &d.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Resolution = resolution.String
	d.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		at := resolvedAt.Time
		d.ResolvedAt = &at
	}
	return d, nil
}

func (p *PostgresStore) ResolveDispute(ctx context.Context, id, resolution, resolvedBy string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET status = 'resolved', resolution = $2,
			resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND status = 'open'
	`, id, resolution, resolvedBy, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if qerr := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM disputes WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return qerr
		}
		if !exists {
			return ErrDisputeNotFound
		}
		return ErrDisputeAlreadyResolved
	}
	return nil
}
