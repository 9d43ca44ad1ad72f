// Package harvest defines the core types and interfaces shared by the
// crawl engine subsystems: tiles, listings, session material, budgets.
package harvest

import (
	"net/http"
	"time"
)

// Tile is one rectangular cell of the geographic partition. Ordinal is the
// tile's position in the externally supplied ordered list; the crawl cursor
// indexes into that list.
type Tile struct {
	Ordinal int
	SWLat   float64
	SWLng   float64
	NELat   float64
	NELng   float64
}

// Valid reports whether the tile is a sane bounding box: south-west strictly
// below north-east on both axes, and neither span wider than maxSpan degrees.
func (t Tile) Valid(maxSpan float64) bool {
	if t.SWLat >= t.NELat || t.SWLng >= t.NELng {
		return false
	}
	if t.NELat-t.SWLat > maxSpan || t.NELng-t.SWLng > maxSpan {
		return false
	}
	return true
}

// Listing is the basic record shape obtainable from a search page alone.
// The canonical ID is always a normalized digit string.
type Listing struct {
	ID               string
	ObjType          string
	RoomTypeCategory string
	Title            string
	Picture          string
	Checkin          string
	Checkout         string
	Price            string
	DiscountedPrice  string
	OriginalPrice    string
	PriceNumeric     *float64
	Link             string
	CategoryTag      string
	PhotoID          string
}

// DetailRecord carries the fields only obtainable from the per-record detail
// fetch. All fields are best-effort; absent sections leave zero values.
type DetailRecord struct {
	Luxe              bool
	Location          string
	MaxGuestCapacity  int
	IsGuestFavorite   bool
	ReviewsCount      int
	AverageRating     float64
	Lat               *float64
	Lng               *float64
	Host              string
	HostUserID        string
	IsSuperhost       bool
	IsVerified        bool
	HostRatingCount   int
	HostRatingAverage float64
	HostYears         int
	HostMonths        int
}

// SearchPage is one decoded page of search results for a tile.
type SearchPage struct {
	Listings          []Listing
	NextCursor        string
	TotalPages        int
	FederatedSearchID string
}

// TileScrape records the outcome of one completed tile visit.
type TileScrape struct {
	Tile         Tile
	RecordsFound int
	ScrapedAt    time.Time
}

// Session bundles the opaque material the browser collaborator harvests from
// live traffic. The engine never acquires any of it; it only spends it.
type Session struct {
	SearchToken      string
	DetailToken      string
	APIKey           string
	ClientVersion    string
	ClientRequestID  string
	Operation        string
	Locale           string
	Currency         string
	Query            string
	PlaceID          []string
	MonthlyStartDate []string
	MonthlyEndDate   []string
	Headers          http.Header
	ViewportWidth    int
	ViewportHeight   int
}

// RunSummary is returned by the orchestrator when a run finishes.
type RunSummary struct {
	TilesProcessed int `json:"tiles_processed"`
	RecordsFound   int `json:"records_found"`
	BasicSaved     int `json:"basic_saved"`
	DetailedSaved  int `json:"detailed_saved"`
}

// StoreStats summarizes the persisted state, mirroring what the store can
// answer cheaply.
type StoreStats struct {
	Total          int `json:"total"`
	BasicOnly      int `json:"basic_only"`
	Detailed       int `json:"detailed"`
	PendingDetail  int `json:"pending_detail"`
	TilesProcessed int `json:"tiles_processed"`
	RecentCount    int `json:"recent_count"`
}
