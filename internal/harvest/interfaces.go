package harvest

import (
	"context"
	"net/http"
	"time"
)

// StateStore persists tile metadata, record rows and the crawl cursor.
// Every operation is idempotent and safe to retry.
type StateStore interface {
	Cursor(ctx context.Context) (int, error)
	SetCursor(ctx context.Context, position int) error

	TileFresh(ctx context.Context, ordinal int) (bool, error)
	RecordTileScrape(ctx context.Context, scrape TileScrape) error

	RecordFresh(ctx context.Context, id string) (bool, error)
	RecordDetailed(ctx context.Context, id string) (bool, error)
	UpsertBasic(ctx context.Context, listing Listing, scrapedAt time.Time) error
	UpsertDetailed(ctx context.Context, listing Listing, detail DetailRecord, scrapedAt time.Time) error
	ApplyDetail(ctx context.Context, id string, detail DetailRecord) error

	Stats(ctx context.Context) (StoreStats, error)
}

// Doer issues a single HTTP request. It is satisfied by *http.Client and by
// whatever authenticated client the browser collaborator hands over.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SessionSource supplies the current session material. Implementations are
// refreshed out of band by the collaborator; Session must be cheap to call.
type SessionSource interface {
	Session(ctx context.Context) (Session, error)
}

// Publisher pushes record lifecycle events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// SnapshotStore archives raw response bodies and returns a URI.
type SnapshotStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
