package search

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atlasgrid/stayharvest/internal/extract"
	"github.com/atlasgrid/stayharvest/internal/fetch"
	"github.com/atlasgrid/stayharvest/internal/geo"
	"github.com/atlasgrid/stayharvest/internal/harvest"
	"github.com/atlasgrid/stayharvest/internal/metrics"
)

// fullPageThreshold is the page size below which a page is taken as the last
// one: the provider fills pages to at least this many cards while results
// remain.
const fullPageThreshold = 13

// maxPagesUnbounded caps the page loop when the provider never reports a
// total, so a cursor that keeps renewing cannot spin a tile forever.
const maxPagesUnbounded = 50

// Fetcher is the retrying transport the pager issues page requests through.
type Fetcher interface {
	Fetch(ctx context.Context, newReq fetch.RequestFunc) ([]byte, error)
}

// Extractor decodes one raw response into a search page.
type Extractor interface {
	ExtractBytes(body []byte) extract.Result
}

// PageHandler consumes one validated page. Returning stop=true ends the tile
// early (budget reached); returning an error aborts the tile.
type PageHandler func(ctx context.Context, page harvest.SearchPage) (stop bool, err error)

// TileExhaustedError reports that the first page of a tile could not be
// fetched at all. The tile must not be marked scraped so the next run
// retries it.
type TileExhaustedError struct {
	Ordinal int
	Err     error
}

func (e *TileExhaustedError) Error() string {
	return fmt.Sprintf("tile %d: first page exhausted: %v", e.Ordinal, e.Err)
}

func (e *TileExhaustedError) Unwrap() error { return e.Err }

// TileResult summarizes one tile crawl.
type TileResult struct {
	RecordsFound int
	Pages        int
	Stopped      bool
}

// Pager walks one tile's pagination sequence. Pagination state is never
// persisted: each visit to a tile restarts from the first page.
type Pager struct {
	fetcher   Fetcher
	extractor Extractor
	builder   *RequestBuilder
	snapshots harvest.SnapshotStore
	clock     harvest.Clock
	logger    *zap.Logger
}

// NewPager wires a pager. snapshots may be nil to disable raw-response
// archiving.
func NewPager(
	fetcher Fetcher,
	extractor Extractor,
	builder *RequestBuilder,
	snapshots harvest.SnapshotStore,
	clock harvest.Clock,
	logger *zap.Logger,
) *Pager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{
		fetcher:   fetcher,
		extractor: extractor,
		builder:   builder,
		snapshots: snapshots,
		clock:     clock,
		logger:    logger,
	}
}

// CrawlTile pages through the tile until the cursor runs out, a short page
// signals the end, the handler stops it, or the page safety bound trips.
// A fetch failure on the first page returns a TileExhaustedError; on later
// pages the partial result stands.
func (p *Pager) CrawlTile(
	ctx context.Context,
	sess harvest.Session,
	tile harvest.Tile,
	handle PageHandler,
) (TileResult, error) {
	zoom := geo.ZoomLevel(tile.SWLat, tile.SWLng, tile.NELat, tile.NELng,
		sess.ViewportWidth, sess.ViewportHeight)
	logger := p.logger.With(zap.Int("tile", tile.Ordinal), zap.Int("zoom", zoom))

	var result TileResult
	cursor := ""
	maxPages := maxPagesUnbounded

	for pageNo := 0; pageNo < maxPages; pageNo++ {
		cur := cursor
		newReq := func(ctx context.Context) (*http.Request, error) {
			return p.builder.BuildSearch(ctx, sess, tile, zoom, cur)
		}

		body, err := p.fetcher.Fetch(ctx, newReq)
		if err != nil {
			if pageNo == 0 {
				return result, &TileExhaustedError{Ordinal: tile.Ordinal, Err: err}
			}
			logger.Warn("page fetch failed mid-tile, keeping partial results",
				zap.Int("page", pageNo), zap.Error(err))
			return result, nil
		}

		res := p.extractor.ExtractBytes(body)
		if res.DeepScanned {
			metrics.ObserveDeepScan()
			p.archive(ctx, tile, pageNo, body, logger)
		}

		page := res.Page
		page.Listings = p.validate(page.Listings, logger)
		result.Pages++
		result.RecordsFound += len(page.Listings)

		logger.Info("page extracted",
			zap.Int("page", pageNo),
			zap.Int("raw_results", res.RawCandidates),
			zap.Int("listings", len(page.Listings)),
			zap.Int("total_pages", page.TotalPages))

		stop, err := handle(ctx, page)
		if err != nil {
			return result, fmt.Errorf("handle page %d: %w", pageNo, err)
		}
		if stop {
			result.Stopped = true
			return result, nil
		}

		// The provider's reported page count is the loop's safety bound when
		// it is known.
		if page.TotalPages > 0 && page.TotalPages < maxPagesUnbounded {
			maxPages = page.TotalPages
		}
		// End-of-results is judged on what the provider returned, not on
		// what survived identifier resolution: a full page of raw results
		// with mangled entries still means more pages exist.
		if page.NextCursor == "" || res.RawCandidates < fullPageThreshold {
			return result, nil
		}
		cursor = page.NextCursor
	}
	return result, nil
}

func (p *Pager) validate(listings []harvest.Listing, logger *zap.Logger) []harvest.Listing {
	valid := listings[:0]
	for i := range listings {
		if ValidateListing(&listings[i], logger) {
			valid = append(valid, listings[i])
		}
	}
	return valid
}

// archive stores the raw body of a response that only the deep scan could
// decode, so the new shape can be promoted to a known key-path later.
func (p *Pager) archive(ctx context.Context, tile harvest.Tile, pageNo int, body []byte, logger *zap.Logger) {
	if p.snapshots == nil {
		return
	}
	now := time.Now()
	if p.clock != nil {
		now = p.clock.Now()
	}
	path := fmt.Sprintf("drift/tile-%d/page-%d-%d.json", tile.Ordinal, pageNo, now.Unix())
	uri, err := p.snapshots.Put(ctx, path, "application/json", body)
	if err != nil {
		logger.Warn("failed to archive drifted response", zap.Error(err))
		return
	}
	logger.Info("archived drifted response", zap.String("uri", uri))
}
