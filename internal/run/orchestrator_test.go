package run

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasgrid/stayharvest/internal/harvest"
	"github.com/atlasgrid/stayharvest/internal/search"
)

type memStore struct {
	mu       sync.Mutex
	cursor   int
	tiles    map[int]time.Time
	records  map[string]memRecord
	now      func() time.Time
	window   time.Duration
	applyErr error
}

type memRecord struct {
	listing   harvest.Listing
	detail    harvest.DetailRecord
	scrapedAt time.Time
	detailed  bool
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		tiles:   map[int]time.Time{},
		records: map[string]memRecord{},
		now:     now,
		window:  30 * 24 * time.Hour,
	}
}

func (s *memStore) Cursor(context.Context) (int, error) { return s.cursor, nil }

func (s *memStore) SetCursor(_ context.Context, position int) error {
	s.cursor = position
	return nil
}

func (s *memStore) TileFresh(_ context.Context, ordinal int) (bool, error) {
	at, ok := s.tiles[ordinal]
	return ok && s.now().Sub(at) < s.window, nil
}

func (s *memStore) RecordTileScrape(_ context.Context, scrape harvest.TileScrape) error {
	s.tiles[scrape.Tile.Ordinal] = scrape.ScrapedAt
	return nil
}

func (s *memStore) RecordFresh(_ context.Context, id string) (bool, error) {
	rec, ok := s.records[id]
	return ok && s.now().Sub(rec.scrapedAt) < s.window, nil
}

func (s *memStore) RecordDetailed(_ context.Context, id string) (bool, error) {
	rec, ok := s.records[id]
	return ok && rec.detailed && s.now().Sub(rec.scrapedAt) < s.window, nil
}

func (s *memStore) UpsertBasic(_ context.Context, l harvest.Listing, at time.Time) error {
	s.records[l.ID] = memRecord{listing: l, scrapedAt: at}
	return nil
}

func (s *memStore) UpsertDetailed(_ context.Context, l harvest.Listing, d harvest.DetailRecord, at time.Time) error {
	s.records[l.ID] = memRecord{listing: l, detail: d, scrapedAt: at, detailed: true}
	return nil
}

func (s *memStore) ApplyDetail(_ context.Context, id string, d harvest.DetailRecord) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	rec, ok := s.records[id]
	if !ok {
		return errors.New("record not found")
	}
	rec.detail = d
	rec.detailed = true
	s.records[id] = rec
	return nil
}

func (s *memStore) Stats(context.Context) (harvest.StoreStats, error) {
	return harvest.StoreStats{Total: len(s.records)}, nil
}

// fixturePager replays a fixed page set for every tile.
type fixturePager struct {
	pages   [][]harvest.Listing
	crawled []int
	err     error
}

func (p *fixturePager) CrawlTile(
	ctx context.Context,
	_ harvest.Session,
	tile harvest.Tile,
	handle search.PageHandler,
) (search.TileResult, error) {
	if p.err != nil {
		return search.TileResult{}, p.err
	}
	p.crawled = append(p.crawled, tile.Ordinal)
	var result search.TileResult
	for _, listings := range p.pages {
		result.Pages++
		result.RecordsFound += len(listings)
		stop, err := handle(ctx, harvest.SearchPage{Listings: listings})
		if err != nil {
			return result, err
		}
		if stop {
			result.Stopped = true
			return result, nil
		}
	}
	return result, nil
}

type fixtureEnricher struct {
	ok    bool
	calls int
}

func (e *fixtureEnricher) Enrich(context.Context, harvest.Session, harvest.Listing) (harvest.DetailRecord, bool) {
	e.calls++
	return harvest.DetailRecord{Host: "someone"}, e.ok
}

type fixtureSessions struct {
	calls int
}

func (s *fixtureSessions) Session(context.Context) (harvest.Session, error) {
	s.calls++
	return harvest.Session{SearchToken: "tok", DetailToken: "dtok", ViewportWidth: 1400, ViewportHeight: 900}, nil
}

type fixturePublisher struct {
	events []any
}

func (p *fixturePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.events = append(p.events, payload)
	return "msg-1", nil
}

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func listings(n, offset int) []harvest.Listing {
	out := make([]harvest.Listing, n)
	for i := range out {
		out[i] = harvest.Listing{ID: strconv.Itoa(5000 + offset + i)}
	}
	return out
}

func tileList(n int) []harvest.Tile {
	tiles := make([]harvest.Tile, n)
	for i := range tiles {
		base := float64(i)
		tiles[i] = harvest.Tile{
			Ordinal: i,
			SWLat:   30 + base*0.5, SWLng: -8,
			NELat: 30.4 + base*0.5, NELng: -7.6,
		}
	}
	return tiles
}

func newTestOrchestrator(
	store harvest.StateStore,
	pager TilePager,
	enricher DetailEnricher,
	publisher harvest.Publisher,
	clock harvest.Clock,
	cfg Config,
) *Orchestrator {
	if cfg.InterRequestDelay == 0 {
		cfg.InterRequestDelay = time.Nanosecond
	}
	return New(store, pager, enricher, &fixtureSessions{}, publisher, clock, zap.NewNop(), cfg)
}

func TestRunBudgetEnforcement(t *testing.T) {
	t.Parallel()

	clock := &tickingClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	pager := &fixturePager{pages: [][]harvest.Listing{listings(18, 0), listings(18, 18)}}

	o := newTestOrchestrator(store, pager, &fixtureEnricher{ok: false}, nil, clock, Config{
		TilesPerRun:   5,
		MaxNewRecords: 4,
	})

	summary, err := o.Run(context.Background(), tileList(5))
	require.NoError(t, err)

	assert.Equal(t, 4, summary.BasicSaved)
	assert.Len(t, store.records, 4)

	// The partially crawled tile is still marked and the cursor has moved
	// past it so the next run makes forward progress.
	assert.Equal(t, []int{0}, pager.crawled)
	assert.Equal(t, 1, store.cursor)
}

func TestRunCursorWraparound(t *testing.T) {
	t.Parallel()

	clock := &tickingClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	store.cursor = 2
	pager := &fixturePager{pages: [][]harvest.Listing{listings(3, 0)}}

	o := newTestOrchestrator(store, pager, &fixtureEnricher{ok: false}, nil, clock, Config{
		TilesPerRun: 5,
	})

	_, err := o.Run(context.Background(), tileList(3))
	require.NoError(t, err)

	// Only the last tile fit in this run; the cursor wrapped to zero.
	assert.Equal(t, []int{2}, pager.crawled)
	assert.Equal(t, 0, store.cursor)
}

func TestRunResetsOutOfRangeCursor(t *testing.T) {
	t.Parallel()

	clock := &tickingClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	store.cursor = 99
	pager := &fixturePager{pages: [][]harvest.Listing{listings(2, 0)}}

	o := newTestOrchestrator(store, pager, &fixtureEnricher{ok: false}, nil, clock, Config{
		TilesPerRun: 1,
	})

	_, err := o.Run(context.Background(), tileList(3))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, pager.crawled)
	assert.Equal(t, 1, store.cursor)
}

func TestRunSkipsFreshTiles(t *testing.T) {
	t.Parallel()

	clock := &tickingClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	store.tiles[0] = clock.Now().Add(-time.Hour)
	pager := &fixturePager{pages: [][]harvest.Listing{listings(2, 0)}}

	o := newTestOrchestrator(store, pager, &fixtureEnricher{ok: false}, nil, clock, Config{
		TilesPerRun: 2,
	})

	summary, err := o.Run(context.Background(), tileList(2))
	require.NoError(t, err)

	assert.Equal(t, []int{1}, pager.crawled)
	assert.Equal(t, 1, summary.TilesProcessed)
	// Both tiles were handled, so the cursor wrapped to the start.
	assert.Equal(t, 0, store.cursor)
}

func TestRunSkipsDegenerateTiles(t *testing.T) {
	t.Parallel()

	clock := &tickingClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	pager := &fixturePager{pages: [][]harvest.Listing{listings(1, 0)}}

	tiles := tileList(2)
	tiles[0].NELat = tiles[0].SWLat // inverted box

	o := newTestOrchestrator(store, pager, &fixtureEnricher{ok: false}, nil, clock, Config{
		TilesPerRun: 2,
	})

	summary, err := o.Run(context.Background(), tiles)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, pager.crawled)
	assert.Equal(t, 1, summary.TilesProcessed)
	assert.Equal(t, 0, store.cursor)
}

func TestRunAbandonedTileNotMarkedScraped(t *testing.T) {
	t.Parallel()

	clock := &tickingClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	pager := &fixturePager{err: &search.TileExhaustedError{Ordinal: 0, Err: errors.New("down")}}

	o := newTestOrchestrator(store, pager, &fixtureEnricher{ok: false}, nil, clock, Config{
		TilesPerRun: 1,
	})

	summary, err := o.Run(context.Background(), tileList(2))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.TilesProcessed)
	assert.Empty(t, store.tiles)
	// Forward progress: the cursor moved past the abandoned tile anyway.
	assert.Equal(t, 1, store.cursor)
}

func TestRunDetailBudget(t *testing.T) {
	t.Parallel()

	clock := &tickingClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	pager := &fixturePager{pages: [][]harvest.Listing{listings(6, 0)}}
	enricher := &fixtureEnricher{ok: true}

	o := newTestOrchestrator(store, pager, enricher, nil, clock, Config{
		TilesPerRun: 1,
		MaxDetails:  2,
	})

	summary, err := o.Run(context.Background(), tileList(1))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.DetailedSaved)
	assert.Equal(t, 2, enricher.calls)
	assert.Equal(t, 6, summary.BasicSaved)

	detailed := 0
	for _, rec := range store.records {
		if rec.detailed {
			detailed++
		}
	}
	assert.Equal(t, 2, detailed)
}

func TestRunFreshRecordsStillEnriched(t *testing.T) {
	t.Parallel()

	clock := &tickingClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	// A fresh basic record with no details yet.
	store.records["5000"] = memRecord{
		listing:   harvest.Listing{ID: "5000"},
		scrapedAt: clock.Now().Add(-time.Hour),
	}
	pager := &fixturePager{pages: [][]harvest.Listing{listings(1, 0)}}
	enricher := &fixtureEnricher{ok: true}

	o := newTestOrchestrator(store, pager, enricher, nil, clock, Config{
		TilesPerRun: 1,
	})

	summary, err := o.Run(context.Background(), tileList(1))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.BasicSaved)
	assert.Equal(t, 1, summary.DetailedSaved)
	assert.True(t, store.records["5000"].detailed)
}

func TestRunPublishesRecordEvents(t *testing.T) {
	t.Parallel()

	clock := &tickingClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	pager := &fixturePager{pages: [][]harvest.Listing{listings(2, 0)}}
	publisher := &fixturePublisher{}
	enricher := &fixtureEnricher{ok: true}

	o := newTestOrchestrator(store, pager, enricher, publisher, clock, Config{
		TilesPerRun: 1,
		EventsTopic: "records",
	})

	_, err := o.Run(context.Background(), tileList(1))
	require.NoError(t, err)

	// One basic and one detail event per listing.
	require.Len(t, publisher.events, 4)
	first, ok := publisher.events[0].(RecordEvent)
	require.True(t, ok)
	assert.Equal(t, "basic", first.Kind)
	assert.Equal(t, "5000", first.ID)
}

func TestRunEmptyTileList(t *testing.T) {
	t.Parallel()

	clock := &tickingClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	o := newTestOrchestrator(store, &fixturePager{}, &fixtureEnricher{}, nil, clock, Config{})

	_, err := o.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestContextBudgets(t *testing.T) {
	t.Parallel()

	rc := NewContext(2, 1)
	assert.False(t, rc.Stopped())
	assert.True(t, rc.DetailBudgetLeft())

	assert.False(t, rc.RecordPersisted())
	assert.True(t, rc.RecordPersisted())
	assert.True(t, rc.Stopped())

	rc.DetailPersisted()
	assert.False(t, rc.DetailBudgetLeft())

	newRecords, details := rc.Counts()
	assert.Equal(t, 2, newRecords)
	assert.Equal(t, 1, details)

	unlimited := NewContext(0, 0)
	for i := 0; i < 100; i++ {
		assert.False(t, unlimited.RecordPersisted())
		unlimited.DetailPersisted()
	}
	assert.True(t, unlimited.DetailBudgetLeft())
	assert.False(t, unlimited.Stopped())
}
