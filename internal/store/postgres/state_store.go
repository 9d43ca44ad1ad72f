// Package postgres provides the Postgres-backed crawl state store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasgrid/stayharvest/internal/harvest"
)

// dbPool is the slice of pgxpool.Pool the store uses, narrowed so tests can
// substitute a mock.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// recentWindow bounds the "recent activity" figure in Stats.
const recentWindow = 24 * time.Hour

// StateStoreConfig controls the Postgres connection pool and the freshness
// windows the store answers queries with.
type StateStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	TileWindow   time.Duration
	RecordWindow time.Duration
}

// StateStore implements harvest.StateStore on Postgres. Every write is an
// idempotent upsert keyed by canonical identifier or tile ordinal, so any
// operation is safe to retry.
type StateStore struct {
	pool         dbPool
	tileWindow   time.Duration
	recordWindow time.Duration
	clock        harvest.Clock
}

// NewStateStore connects a pool and builds the store.
func NewStateStore(ctx context.Context, cfg StateStoreConfig, clock harvest.Clock) (*StateStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newStateStore(pool, cfg, clock)
}

// NewStateStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewStateStoreWithPool(pool dbPool, cfg StateStoreConfig, clock harvest.Clock) (*StateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newStateStore(pool, cfg, clock)
}

func newStateStore(pool dbPool, cfg StateStoreConfig, clock harvest.Clock) (*StateStore, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	tileWindow := cfg.TileWindow
	if tileWindow <= 0 {
		tileWindow = 30 * 24 * time.Hour
	}
	recordWindow := cfg.RecordWindow
	if recordWindow <= 0 {
		recordWindow = 30 * 24 * time.Hour
	}
	return &StateStore{
		pool:         pool,
		tileWindow:   tileWindow,
		recordWindow: recordWindow,
		clock:        clock,
	}, nil
}

// Close releases the underlying pool resources.
func (s *StateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables the store needs if they do not exist.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Cursor returns the stored tile cursor, zero when none has been written yet.
func (s *StateStore) Cursor(ctx context.Context) (int, error) {
	var position int
	err := s.pool.QueryRow(ctx, `SELECT position FROM crawl_cursor WHERE id = 1;`).Scan(&position)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return position, nil
}

// SetCursor stores the tile cursor.
func (s *StateStore) SetCursor(ctx context.Context, position int) error {
	query := `
		INSERT INTO crawl_cursor (id, position)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position;
	`
	if _, err := s.pool.Exec(ctx, query, position); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// TileFresh reports whether the tile was scraped within the tile window.
func (s *StateStore) TileFresh(ctx context.Context, ordinal int) (bool, error) {
	var last time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_scraped_at FROM tiles WHERE ordinal = $1;`, ordinal).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read tile scrape: %w", err)
	}
	return s.clock.Now().Sub(last) < s.tileWindow, nil
}

// RecordTileScrape inserts or refreshes the tile's scrape metadata.
func (s *StateStore) RecordTileScrape(ctx context.Context, scrape harvest.TileScrape) error {
	query := `
		INSERT INTO tiles (ordinal, sw_lat, sw_lng, ne_lat, ne_lng, last_scraped_at, record_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ordinal) DO UPDATE SET
			sw_lat = EXCLUDED.sw_lat,
			sw_lng = EXCLUDED.sw_lng,
			ne_lat = EXCLUDED.ne_lat,
			ne_lng = EXCLUDED.ne_lng,
			last_scraped_at = EXCLUDED.last_scraped_at,
			record_count = EXCLUDED.record_count;
	`
	t := scrape.Tile
	_, err := s.pool.Exec(ctx, query,
		t.Ordinal, t.SWLat, t.SWLng, t.NELat, t.NELng, scrape.ScrapedAt, scrape.RecordsFound)
	if err != nil {
		return fmt.Errorf("record tile scrape: %w", err)
	}
	return nil
}

// RecordFresh reports whether the record was scraped within the record window.
func (s *StateStore) RecordFresh(ctx context.Context, id string) (bool, error) {
	var last time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_scraped_at FROM records WHERE id = $1;`, id).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read record scrape: %w", err)
	}
	return s.clock.Now().Sub(last) < s.recordWindow, nil
}

// RecordDetailed reports whether the record is fresh and detail-complete.
func (s *StateStore) RecordDetailed(ctx context.Context, id string) (bool, error) {
	var last time.Time
	var complete bool
	err := s.pool.QueryRow(ctx,
		`SELECT last_scraped_at, detail_complete FROM records WHERE id = $1;`, id).
		Scan(&last, &complete)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read record detail state: %w", err)
	}
	return complete && s.clock.Now().Sub(last) < s.recordWindow, nil
}

// UpsertBasic writes the search-page fields for one record and flags it as
// awaiting detail enrichment.
func (s *StateStore) UpsertBasic(ctx context.Context, l harvest.Listing, scrapedAt time.Time) error {
	query := `
		INSERT INTO records (
			id, obj_type, room_type_category, title, picture,
			checkin, checkout, price, discounted_price, original_price,
			price_numeric, link, category_tag, photo_id,
			last_scraped_at, needs_detail, detail_complete
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, TRUE, FALSE)
		ON CONFLICT (id) DO UPDATE SET
			obj_type = EXCLUDED.obj_type,
			room_type_category = EXCLUDED.room_type_category,
			title = EXCLUDED.title,
			picture = EXCLUDED.picture,
			checkin = EXCLUDED.checkin,
			checkout = EXCLUDED.checkout,
			price = EXCLUDED.price,
			discounted_price = EXCLUDED.discounted_price,
			original_price = EXCLUDED.original_price,
			price_numeric = EXCLUDED.price_numeric,
			link = EXCLUDED.link,
			category_tag = EXCLUDED.category_tag,
			photo_id = EXCLUDED.photo_id,
			last_scraped_at = EXCLUDED.last_scraped_at,
			needs_detail = TRUE,
			detail_complete = FALSE;
	`
	_, err := s.pool.Exec(ctx, query,
		l.ID, l.ObjType, l.RoomTypeCategory, l.Title, l.Picture,
		l.Checkin, l.Checkout, l.Price, l.DiscountedPrice, l.OriginalPrice,
		l.PriceNumeric, l.Link, l.CategoryTag, l.PhotoID, scrapedAt)
	if err != nil {
		return fmt.Errorf("upsert basic record: %w", err)
	}
	return nil
}

// UpsertDetailed writes the full field set for one record in a single pass
// and marks it detail-complete.
func (s *StateStore) UpsertDetailed(ctx context.Context, l harvest.Listing, d harvest.DetailRecord, scrapedAt time.Time) error {
	query := `
		INSERT INTO records (
			id, obj_type, room_type_category, title, picture,
			checkin, checkout, price, discounted_price, original_price,
			price_numeric, link, category_tag, photo_id,
			luxe, location, max_guest_capacity, is_guest_favorite,
			reviews_count, average_rating, lat, lng,
			host, host_user_id, is_superhost, is_verified,
			host_rating_count, host_rating_average, host_years, host_months,
			last_scraped_at, needs_detail, detail_complete
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, FALSE, TRUE
		)
		ON CONFLICT (id) DO UPDATE SET
			obj_type = EXCLUDED.obj_type,
			room_type_category = EXCLUDED.room_type_category,
			title = EXCLUDED.title,
			picture = EXCLUDED.picture,
			checkin = EXCLUDED.checkin,
			checkout = EXCLUDED.checkout,
			price = EXCLUDED.price,
			discounted_price = EXCLUDED.discounted_price,
			original_price = EXCLUDED.original_price,
			price_numeric = EXCLUDED.price_numeric,
			link = EXCLUDED.link,
			category_tag = EXCLUDED.category_tag,
			photo_id = EXCLUDED.photo_id,
			luxe = EXCLUDED.luxe,
			location = EXCLUDED.location,
			max_guest_capacity = EXCLUDED.max_guest_capacity,
			is_guest_favorite = EXCLUDED.is_guest_favorite,
			reviews_count = EXCLUDED.reviews_count,
			average_rating = EXCLUDED.average_rating,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			host = EXCLUDED.host,
			host_user_id = EXCLUDED.host_user_id,
			is_superhost = EXCLUDED.is_superhost,
			is_verified = EXCLUDED.is_verified,
			host_rating_count = EXCLUDED.host_rating_count,
			host_rating_average = EXCLUDED.host_rating_average,
			host_years = EXCLUDED.host_years,
			host_months = EXCLUDED.host_months,
			last_scraped_at = EXCLUDED.last_scraped_at,
			needs_detail = FALSE,
			detail_complete = TRUE;
	`
	_, err := s.pool.Exec(ctx, query,
		l.ID, l.ObjType, l.RoomTypeCategory, l.Title, l.Picture,
		l.Checkin, l.Checkout, l.Price, l.DiscountedPrice, l.OriginalPrice,
		l.PriceNumeric, l.Link, l.CategoryTag, l.PhotoID,
		d.Luxe, d.Location, d.MaxGuestCapacity, d.IsGuestFavorite,
		d.ReviewsCount, d.AverageRating, d.Lat, d.Lng,
		d.Host, d.HostUserID, d.IsSuperhost, d.IsVerified,
		d.HostRatingCount, d.HostRatingAverage, d.HostYears, d.HostMonths,
		scrapedAt)
	if err != nil {
		return fmt.Errorf("upsert detailed record: %w", err)
	}
	return nil
}

// ApplyDetail patches the enrichment fields onto an existing record, leaving
// the basic fields and scrape timestamp untouched.
func (s *StateStore) ApplyDetail(ctx context.Context, id string, d harvest.DetailRecord) error {
	query := `
		UPDATE records SET
			luxe = $2,
			location = $3,
			max_guest_capacity = $4,
			is_guest_favorite = $5,
			reviews_count = $6,
			average_rating = $7,
			lat = $8,
			lng = $9,
			host = $10,
			host_user_id = $11,
			is_superhost = $12,
			is_verified = $13,
			host_rating_count = $14,
			host_rating_average = $15,
			host_years = $16,
			host_months = $17,
			needs_detail = FALSE,
			detail_complete = TRUE
		WHERE id = $1;
	`
	res, err := s.pool.Exec(ctx, query, id,
		d.Luxe, d.Location, d.MaxGuestCapacity, d.IsGuestFavorite,
		d.ReviewsCount, d.AverageRating, d.Lat, d.Lng,
		d.Host, d.HostUserID, d.IsSuperhost, d.IsVerified,
		d.HostRatingCount, d.HostRatingAverage, d.HostYears, d.HostMonths)
	if err != nil {
		return fmt.Errorf("apply detail enrichment: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("apply detail enrichment: record %s not found", id)
	}
	return nil
}

// Stats summarizes the persisted state in one round trip.
func (s *StateStore) Stats(ctx context.Context) (harvest.StoreStats, error) {
	query := `
		SELECT
			count(*),
			count(*) FILTER (WHERE NOT detail_complete),
			count(*) FILTER (WHERE detail_complete),
			count(*) FILTER (WHERE needs_detail AND NOT detail_complete),
			(SELECT count(*) FROM tiles),
			count(*) FILTER (WHERE last_scraped_at >= $1)
		FROM records;
	`
	since := s.clock.Now().Add(-recentWindow)
	var stats harvest.StoreStats
	err := s.pool.QueryRow(ctx, query, since).Scan(
		&stats.Total,
		&stats.BasicOnly,
		&stats.Detailed,
		&stats.PendingDetail,
		&stats.TilesProcessed,
		&stats.RecentCount,
	)
	if err != nil {
		return harvest.StoreStats{}, fmt.Errorf("read stats: %w", err)
	}
	return stats, nil
}
