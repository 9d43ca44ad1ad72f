// Package run contains the top-level crawl driver: tile scheduling, cursor
// management, freshness skips, budgets and detail enrichment.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlasgrid/stayharvest/internal/harvest"
	"github.com/atlasgrid/stayharvest/internal/metrics"
	"github.com/atlasgrid/stayharvest/internal/search"
)

// TilePager walks one tile's pagination, yielding validated pages.
type TilePager interface {
	CrawlTile(ctx context.Context, sess harvest.Session, tile harvest.Tile, handle search.PageHandler) (search.TileResult, error)
}

// DetailEnricher fetches the extended document for one record. The second
// return is false on SKIP.
type DetailEnricher interface {
	Enrich(ctx context.Context, sess harvest.Session, listing harvest.Listing) (harvest.DetailRecord, bool)
}

// RecordEvent is published after every persisted record.
type RecordEvent struct {
	ID   string    `json:"id"`
	Kind string    `json:"kind"`
	Tile int       `json:"tile"`
	At   time.Time `json:"at"`
}

// Config holds the run-level knobs.
type Config struct {
	TilesPerRun         int
	MaxNewRecords       int
	MaxDetails          int
	MaxTileSpanDegrees  float64
	InterRequestDelay   time.Duration
	SessionRefreshTiles int
	EventsTopic         string
}

// Orchestrator drives one crawl run end to end.
type Orchestrator struct {
	store     harvest.StateStore
	pager     TilePager
	enricher  DetailEnricher
	sessions  harvest.SessionSource
	publisher harvest.Publisher
	clock     harvest.Clock
	limiter   *rate.Limiter
	logger    *zap.Logger
	cfg       Config
}

// New wires an Orchestrator. publisher may be nil to disable record events.
func New(
	store harvest.StateStore,
	pager TilePager,
	enricher DetailEnricher,
	sessions harvest.SessionSource,
	publisher harvest.Publisher,
	clock harvest.Clock,
	logger *zap.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TilesPerRun <= 0 {
		cfg.TilesPerRun = 20
	}
	if cfg.MaxTileSpanDegrees <= 0 {
		cfg.MaxTileSpanDegrees = 5.0
	}
	delay := cfg.InterRequestDelay
	if delay <= 0 {
		delay = 1500 * time.Millisecond
	}
	return &Orchestrator{
		store:     store,
		pager:     pager,
		enricher:  enricher,
		sessions:  sessions,
		publisher: publisher,
		clock:     clock,
		limiter:   rate.NewLimiter(rate.Every(delay), 1),
		logger:    logger,
		cfg:       cfg,
	}
}

// Run resumes the crawl from the stored cursor and processes up to
// TilesPerRun tiles, honoring freshness windows and run budgets. The cursor
// always moves forward past handled tiles, wrapping to zero at the end of
// the list, even when a tile is abandoned.
func (o *Orchestrator) Run(ctx context.Context, tiles []harvest.Tile) (harvest.RunSummary, error) {
	var summary harvest.RunSummary
	if len(tiles) == 0 {
		return summary, fmt.Errorf("tile list is empty")
	}

	start, err := o.store.Cursor(ctx)
	if err != nil {
		return summary, fmt.Errorf("load cursor: %w", err)
	}
	if start >= len(tiles) || start < 0 {
		start = 0
		if err := o.store.SetCursor(ctx, 0); err != nil {
			return summary, fmt.Errorf("reset cursor: %w", err)
		}
	}
	end := start + o.cfg.TilesPerRun
	if end > len(tiles) {
		end = len(tiles)
	}

	sess, err := o.sessions.Session(ctx)
	if err != nil {
		return summary, fmt.Errorf("acquire session: %w", err)
	}

	rc := NewContext(o.cfg.MaxNewRecords, o.cfg.MaxDetails)
	o.logger.Info("run starting",
		zap.Int("cursor", start),
		zap.Int("tiles_this_run", end-start),
		zap.Int("tiles_total", len(tiles)))

	tilesSinceRefresh := 0
	for idx := start; idx < end; idx++ {
		if rc.Stopped() {
			break
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if o.cfg.SessionRefreshTiles > 0 && tilesSinceRefresh >= o.cfg.SessionRefreshTiles {
			refreshed, err := o.sessions.Session(ctx)
			if err != nil {
				o.logger.Warn("session refresh failed, continuing with current session", zap.Error(err))
			} else {
				sess = refreshed
			}
			tilesSinceRefresh = 0
		}
		tilesSinceRefresh++

		o.processTile(ctx, sess, tiles[idx], rc, &summary)

		if err := o.advanceCursor(ctx, idx, len(tiles)); err != nil {
			return summary, err
		}
	}

	newRecords, details := rc.Counts()
	o.logger.Info("run finished",
		zap.Int("tiles_processed", summary.TilesProcessed),
		zap.Int("records_found", summary.RecordsFound),
		zap.Int("basic_saved", summary.BasicSaved),
		zap.Int("detailed_saved", summary.DetailedSaved),
		zap.Int("new_records", newRecords),
		zap.Int("detail_calls", details))

	if stats, err := o.store.Stats(ctx); err != nil {
		o.logger.Warn("store stats unavailable", zap.Error(err))
	} else {
		o.logger.Info("store totals",
			zap.Int("total", stats.Total),
			zap.Int("basic_only", stats.BasicOnly),
			zap.Int("detailed", stats.Detailed),
			zap.Int("pending_detail", stats.PendingDetail),
			zap.Int("tiles_processed", stats.TilesProcessed),
			zap.Int("recent_24h", stats.RecentCount))
	}
	return summary, nil
}

func (o *Orchestrator) processTile(
	ctx context.Context,
	sess harvest.Session,
	tile harvest.Tile,
	rc *Context,
	summary *harvest.RunSummary,
) {
	logger := o.logger.With(zap.Int("tile", tile.Ordinal))

	if !tile.Valid(o.cfg.MaxTileSpanDegrees) {
		logger.Warn("skipping degenerate tile",
			zap.Float64("sw_lat", tile.SWLat), zap.Float64("sw_lng", tile.SWLng),
			zap.Float64("ne_lat", tile.NELat), zap.Float64("ne_lng", tile.NELng))
		metrics.ObserveTile("invalid")
		return
	}

	fresh, err := o.store.TileFresh(ctx, tile.Ordinal)
	if err != nil {
		logger.Warn("tile freshness check failed, scraping anyway", zap.Error(err))
	}
	if fresh {
		logger.Debug("tile is fresh, skipping")
		metrics.ObserveTile("fresh")
		return
	}

	result, err := o.pager.CrawlTile(ctx, sess, tile, func(ctx context.Context, page harvest.SearchPage) (bool, error) {
		metrics.ObservePage()
		return o.processPage(ctx, sess, tile, page, rc, summary)
	})

	var exhausted *search.TileExhaustedError
	if errors.As(err, &exhausted) {
		// The tile stays unmarked so the next run retries it; the cursor
		// still advances past it.
		logger.Warn("tile abandoned, first page unreachable", zap.Error(err))
		metrics.ObserveTile("abandoned")
		return
	}
	if err != nil {
		logger.Error("tile crawl failed", zap.Error(err))
		metrics.ObserveTile("abandoned")
		return
	}

	scrape := harvest.TileScrape{
		Tile:         tile,
		RecordsFound: result.RecordsFound,
		ScrapedAt:    o.clock.Now(),
	}
	if err := o.store.RecordTileScrape(ctx, scrape); err != nil {
		logger.Error("failed to record tile scrape", zap.Error(err))
		return
	}
	summary.TilesProcessed++
	summary.RecordsFound += result.RecordsFound
	metrics.ObserveTile("scraped")
	logger.Info("tile completed",
		zap.Int("records_found", result.RecordsFound),
		zap.Int("pages", result.Pages))
}

// processPage persists each listing on the page and opportunistically
// enriches it. Returns stop=true once the record budget is exhausted.
func (o *Orchestrator) processPage(
	ctx context.Context,
	sess harvest.Session,
	tile harvest.Tile,
	page harvest.SearchPage,
	rc *Context,
	summary *harvest.RunSummary,
) (bool, error) {
	for i := range page.Listings {
		if rc.Stopped() {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return true, err
		}
		listing := page.Listings[i]

		if err := o.limiter.Wait(ctx); err != nil {
			return true, err
		}

		fresh, err := o.store.RecordFresh(ctx, listing.ID)
		if err != nil {
			return false, fmt.Errorf("record freshness check: %w", err)
		}
		if !fresh {
			if err := o.store.UpsertBasic(ctx, listing, o.clock.Now()); err != nil {
				o.logger.Error("failed to persist basic record",
					zap.String("id", listing.ID), zap.Error(err))
				continue
			}
			summary.BasicSaved++
			metrics.ObserveRecord("basic")
			o.publish(ctx, RecordEvent{ID: listing.ID, Kind: "basic", Tile: tile.Ordinal, At: o.clock.Now()})
			if rc.RecordPersisted() {
				o.logger.Info("record budget reached, stopping new work")
				return true, nil
			}
		}

		o.maybeEnrich(ctx, sess, tile, listing, rc, summary)
	}
	return false, nil
}

func (o *Orchestrator) maybeEnrich(
	ctx context.Context,
	sess harvest.Session,
	tile harvest.Tile,
	listing harvest.Listing,
	rc *Context,
	summary *harvest.RunSummary,
) {
	if !rc.DetailBudgetLeft() {
		return
	}
	detailed, err := o.store.RecordDetailed(ctx, listing.ID)
	if err != nil {
		o.logger.Warn("detail state check failed", zap.String("id", listing.ID), zap.Error(err))
		return
	}
	if detailed {
		return
	}

	detail, ok := o.enricher.Enrich(ctx, sess, listing)
	if !ok {
		metrics.ObserveDetailSkip()
		return
	}
	if err := o.store.ApplyDetail(ctx, listing.ID, detail); err != nil {
		o.logger.Error("failed to apply detail enrichment",
			zap.String("id", listing.ID), zap.Error(err))
		return
	}
	rc.DetailPersisted()
	summary.DetailedSaved++
	metrics.ObserveRecord("detail")
	o.publish(ctx, RecordEvent{ID: listing.ID, Kind: "detail", Tile: tile.Ordinal, At: o.clock.Now()})
}

// advanceCursor moves the cursor past the handled tile, wrapping to zero at
// the end of the list. Forward progress beats exhaustive coverage: the
// cursor advances even past abandoned tiles.
func (o *Orchestrator) advanceCursor(ctx context.Context, idx, total int) error {
	next := idx + 1
	if next >= total {
		next = 0
	}
	if err := o.store.SetCursor(ctx, next); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	metrics.SetCursorPosition(next)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event RecordEvent) {
	if o.publisher == nil || o.cfg.EventsTopic == "" {
		return
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.EventsTopic, event); err != nil {
		o.logger.Warn("failed to publish record event",
			zap.String("id", event.ID), zap.Error(err))
	}
}
