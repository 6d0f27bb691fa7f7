package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"live-bidding/internal/biddingerrors"
	model "live-bidding/internal/models"
)

const postgresSchema = `
create table if not exists auctions (
	id                text primary key,
	title             text not null,
	description       text not null default '',
	starting_price    numeric(18,2) not null,
	reserve_price     numeric(18,2),
	current_bid       numeric(18,2) not null default 0,
	current_bidder    text,
	bid_count         integer not null default 0,
	end_time          timestamptz not null,
	status            text not null,
	min_bid_increment numeric(18,2) not null,
	auto_extend       boolean not null,
	extend_window_ms  bigint not null,
	winner            text,
	final_price       numeric(18,2),
	created_by        text not null default '',
	version           bigint not null default 0,
	created_at        timestamptz not null,
	updated_at        timestamptz not null
);
create index if not exists auctions_status_idx on auctions(status);
create index if not exists auctions_end_time_idx on auctions(end_time);
create table if not exists bids (
	id         text primary key,
	auction_id text not null references auctions(id) on delete cascade,
	bidder_id  text not null,
	amount     numeric(18,2) not null,
	status     text not null,
	created_at timestamptz not null
);
create index if not exists bids_auction_created_idx on bids(auction_id, created_at desc);
create index if not exists bids_bidder_idx on bids(bidder_id);
`

const auctionColumns = `id, title, description, starting_price, reserve_price, current_bid, current_bidder,
	bid_count, end_time, status, min_bid_increment, auto_extend, extend_window_ms, winner, final_price,
	created_by, version, created_at, updated_at`

const bidColumns = `id, auction_id, bidder_id, amount, status, created_at`

// PostgresRepo is an AuctionDB backed by PostgreSQL through the pgx stdlib driver
type PostgresRepo struct {
	db *sql.DB
}

var _ AuctionDB = (*PostgresRepo)(nil)

// OpenPostgres opens a pooled connection to dsn
func OpenPostgres(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewPostgresRepo(db), nil
}

// NewPostgresRepo wraps an existing *sql.DB
func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

// EnsureSchema creates the tables and indexes if they do not exist
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveAuction upserts an auction row
func (r *PostgresRepo) SaveAuction(ctx context.Context, a model.Auction) error {
	if a.AuctionID == "" {
		return fmt.Errorf("save auction: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	_, err := r.db.ExecContext(ctx, `
		insert into auctions(`+auctionColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		on conflict (id) do update set
			title = excluded.title,
			description = excluded.description,
			starting_price = excluded.starting_price,
			reserve_price = excluded.reserve_price,
			current_bid = excluded.current_bid,
			current_bidder = excluded.current_bidder,
			bid_count = excluded.bid_count,
			end_time = excluded.end_time,
			status = excluded.status,
			min_bid_increment = excluded.min_bid_increment,
			auto_extend = excluded.auto_extend,
			extend_window_ms = excluded.extend_window_ms,
			winner = excluded.winner,
			final_price = excluded.final_price,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, auctionArgs(a)...)
	if err != nil {
		return fmt.Errorf("save auction %s: %w", a.AuctionID, err)
	}
	return nil
}

// CommitBid inserts the bid and moves the auction from version a.Version-1 to a.Version in one transaction.
// Replaying a bid that is already stored with the auction at a.Version succeeds without writing, so a retry
// after a commit whose reply was lost converges on the ledger.
func (r *PostgresRepo) CommitBid(ctx context.Context, bid model.Bid, a model.Auction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit bid %s: begin: %w", bid.BidID, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		insert into bids(`+bidColumns+`) values ($1,$2,$3,$4,$5,$6)
		on conflict (id) do nothing
	`, bid.BidID, bid.AuctionID, bid.BidderID, bid.Amount, string(bid.Status), bid.CreatedAt)
	if err != nil {
		return fmt.Errorf("commit bid %s: insert: %w", bid.BidID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		version, err := auctionVersion(ctx, tx, a.AuctionID)
		if err != nil {
			return fmt.Errorf("commit bid %s: %w", bid.BidID, err)
		}
		if version != a.Version {
			return fmt.Errorf("commit bid %s: bid exists, auction at version %d not %d: %w",
				bid.BidID, version, a.Version, biddingerrors.ErrVersionConflict)
		}
		return nil
	}

	res, err = tx.ExecContext(ctx, `
		update auctions
		set current_bid = $2, current_bidder = $3, bid_count = $4, end_time = $5, version = $6, updated_at = $7
		where id = $1 and version = $8
	`, a.AuctionID, a.CurrentBid, nullString(a.CurrentBidder), a.BidCount, a.EndTime, a.Version, a.UpdatedAt, a.Version-1)
	if err != nil {
		return fmt.Errorf("commit bid %s: update auction: %w", bid.BidID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		version, err := auctionVersion(ctx, tx, a.AuctionID)
		if err != nil {
			return fmt.Errorf("commit bid for auction %s: %w", a.AuctionID, err)
		}
		return fmt.Errorf("commit bid for auction %s: stored version %d, expected %d: %w",
			a.AuctionID, version, a.Version-1, biddingerrors.ErrVersionConflict)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bid %s: %w", bid.BidID, err)
	}
	return nil
}

func auctionVersion(ctx context.Context, tx *sql.Tx, auctionID string) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `select version from auctions where id = $1`, auctionID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, biddingerrors.ErrAuctionNotFound
	}
	return version, err
}

// FindAuction loads one auction by id
func (r *PostgresRepo) FindAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	row := r.db.QueryRowContext(ctx, `select `+auctionColumns+` from auctions where id = $1`, auctionID)
	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("find auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("find auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns auctions matching filter, newest first
func (r *PostgresRepo) ListAuctions(ctx context.Context, filter AuctionFilter) ([]model.Auction, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			args = append(args, string(s))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "status in ("+strings.Join(placeholders, ",")+")")
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		where = append(where, fmt.Sprintf("created_by = $%d", len(args)))
	}

	query := `select ` + auctionColumns + ` from auctions`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by created_at desc, id asc"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" offset $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	defer rows.Close()

	out := []model.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("list auctions: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAuction removes the auction; bids go with it through the cascade
func (r *PostgresRepo) DeleteAuction(ctx context.Context, auctionID string) error {
	res, err := r.db.ExecContext(ctx, `delete from auctions where id = $1`, auctionID)
	if err != nil {
		return fmt.Errorf("delete auction %s: %w", auctionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return nil
}

// GetBidsByAuction returns one page of bids, newest first, plus the total count
func (r *PostgresRepo) GetBidsByAuction(ctx context.Context, auctionID string, offset, limit int) ([]model.Bid, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `
		select count(b.id)
		from auctions a
		left join bids b on b.auction_id = a.id
		where a.id = $1
		group by a.id
	`, auctionID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}

	if limit <= 0 {
		limit = total
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		select `+bidColumns+` from bids
		where auction_id = $1
		order by created_at desc, id desc
		limit $2 offset $3
	`, auctionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	bids, err := scanBids(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	return bids, total, nil
}

// GetBidsByUser returns every bid placed by userID, newest first
func (r *PostgresRepo) GetBidsByUser(ctx context.Context, userID string) ([]model.Bid, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+bidColumns+` from bids
		where bidder_id = $1
		order by created_at desc, id desc
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("get bids for user %s: %w", userID, err)
	}
	defer rows.Close()

	bids, err := scanBids(rows)
	if err != nil {
		return nil, fmt.Errorf("get bids for user %s: %w", userID, err)
	}
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	return bids, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (model.Auction, error) {
	var (
		a            model.Auction
		reserve      sql.NullFloat64
		bidder       sql.NullString
		winner       sql.NullString
		finalPrice   sql.NullFloat64
		status       string
		extendWindow int64
	)
	err := row.Scan(&a.AuctionID, &a.Title, &a.Description, &a.StartingPrice, &reserve, &a.CurrentBid, &bidder,
		&a.BidCount, &a.EndTime, &status, &a.MinBidIncrement, &a.AutoExtend, &extendWindow, &winner, &finalPrice,
		&a.CreatedBy, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Auction{}, err
	}
	a.Status = model.AuctionStatus(status)
	a.ExtendWindow = time.Duration(extendWindow) * time.Millisecond
	a.ReservePrice = floatPtr(reserve)
	a.CurrentBidder = stringPtr(bidder)
	a.Winner = stringPtr(winner)
	a.FinalPrice = floatPtr(finalPrice)
	return a, nil
}

func scanBids(rows *sql.Rows) ([]model.Bid, error) {
	bids := []model.Bid{}
	for rows.Next() {
		var (
			b      model.Bid
			status string
		)
		if err := rows.Scan(&b.BidID, &b.AuctionID, &b.BidderID, &b.Amount, &status, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Status = model.BidStatus(status)
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func auctionArgs(a model.Auction) []any {
	return []any{
		a.AuctionID, a.Title, a.Description, a.StartingPrice, nullFloat(a.ReservePrice), a.CurrentBid,
		nullString(a.CurrentBidder), a.BidCount, a.EndTime, string(a.Status), a.MinBidIncrement, a.AutoExtend,
		a.ExtendWindow.Milliseconds(), nullString(a.Winner), nullFloat(a.FinalPrice), a.CreatedBy, a.Version,
		a.CreatedAt, a.UpdatedAt,
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
