package postgres

// schemaStatements is applied in order by EnsureSchema. Every statement is
// idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS crawl_cursor (
		id INT PRIMARY KEY CHECK (id = 1),
		position INT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS tiles (
		ordinal INT PRIMARY KEY,
		sw_lat DOUBLE PRECISION NOT NULL,
		sw_lng DOUBLE PRECISION NOT NULL,
		ne_lat DOUBLE PRECISION NOT NULL,
		ne_lng DOUBLE PRECISION NOT NULL,
		last_scraped_at TIMESTAMPTZ NOT NULL,
		record_count INT NOT NULL DEFAULT 0
	);`,

	`CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		obj_type TEXT,
		room_type_category TEXT,
		title TEXT,
		picture TEXT,
		checkin TEXT,
		checkout TEXT,
		price TEXT,
		discounted_price TEXT,
		original_price TEXT,
		price_numeric DOUBLE PRECISION,
		link TEXT,
		category_tag TEXT,
		photo_id TEXT,
		luxe BOOLEAN NOT NULL DEFAULT FALSE,
		location TEXT,
		max_guest_capacity INT NOT NULL DEFAULT 0,
		is_guest_favorite BOOLEAN NOT NULL DEFAULT FALSE,
		reviews_count INT NOT NULL DEFAULT 0,
		average_rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION,
		host TEXT,
		host_user_id TEXT,
		is_superhost BOOLEAN NOT NULL DEFAULT FALSE,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		host_rating_count INT NOT NULL DEFAULT 0,
		host_rating_average DOUBLE PRECISION NOT NULL DEFAULT 0,
		host_years INT NOT NULL DEFAULT 0,
		host_months INT NOT NULL DEFAULT 0,
		last_scraped_at TIMESTAMPTZ NOT NULL,
		needs_detail BOOLEAN NOT NULL DEFAULT FALSE,
		detail_complete BOOLEAN NOT NULL DEFAULT FALSE
	);`,

	`CREATE INDEX IF NOT EXISTS idx_records_scraped_at ON records (last_scraped_at);`,

	`CREATE INDEX IF NOT EXISTS idx_records_pending_detail
		ON records (id) WHERE needs_detail AND NOT detail_complete;`,
}
