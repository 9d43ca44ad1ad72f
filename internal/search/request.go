// Package search drives the per-tile search flow: building persisted-query
// requests, validating extracted listings, and walking a tile's pagination.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/atlasgrid/stayharvest/internal/harvest"
)

// treatmentFlags mirrors the flag set an interactive web client sends. The
// provider varies response shape per flag cohort, so pinning these keeps the
// extractor's known paths stable.
var treatmentFlags = []string{
	"feed_map_decouple_m11_treatment", "recommended_filters_2024_treatment_b",
	"m1_2024_monthly_stays_dial_treatment_flag", "recommended_amenities_2024_treatment_b",
	"filter_redesign_2024_treatment", "filter_reordering_2024_roomtype_treatment",
	"selected_filters_2024_treatment", "m13_search_input_phase2_treatment",
}

type filterParam struct {
	FilterName   string   `json:"filterName"`
	FilterValues []string `json:"filterValues"`
}

type staysSearchRequest struct {
	MaxMapItems            int           `json:"maxMapItems,omitempty"`
	RequestedPageType      string        `json:"requestedPageType"`
	MetadataOnly           bool          `json:"metadataOnly"`
	TreatmentFlags         []string      `json:"treatmentFlags"`
	SearchType             string        `json:"searchType"`
	RawParams              []filterParam `json:"rawParams"`
	SkipHydrationListingID []string      `json:"skipHydrationListingIds"`
	Cursor                 string        `json:"cursor,omitempty"`
}

type searchVariables struct {
	AISearchEnabled                     bool               `json:"aiSearchEnabled"`
	StaysSearchRequest                  staysSearchRequest `json:"staysSearchRequest"`
	StaysMapSearchRequestV2             staysSearchRequest `json:"staysMapSearchRequestV2"`
	IsLeanTreatment                     bool               `json:"isLeanTreatment"`
	SkipExtendedSearchParams            bool               `json:"skipExtendedSearchParams"`
	IncludeLegacyListingCardFieldsForSS bool               `json:"includeLegacyListingCardFieldsForSxS"`
	IncludeDemandStayListing            bool               `json:"includeDemandStayListing"`
}

type persistedQuery struct {
	Version    int    `json:"version"`
	SHA256Hash string `json:"sha256Hash"`
}

type searchExtensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

type searchPayload struct {
	OperationName string           `json:"operationName"`
	Variables     searchVariables  `json:"variables"`
	Extensions    searchExtensions `json:"extensions"`
}

// RequestBuilder assembles provider API requests from opaque session
// material.
type RequestBuilder struct {
	baseURL string
}

// NewRequestBuilder builds a RequestBuilder rooted at baseURL, e.g.
// "https://www.airbnb.com".
func NewRequestBuilder(baseURL string) *RequestBuilder {
	return &RequestBuilder{baseURL: strings.TrimRight(baseURL, "/")}
}

// BuildSearch creates one StaysSearch page request for the tile. cursor is
// empty on the first page. zoom must already be computed for the session's
// viewport.
func (b *RequestBuilder) BuildSearch(
	ctx context.Context,
	sess harvest.Session,
	tile harvest.Tile,
	zoom int,
	cursor string,
) (*http.Request, error) {
	if sess.SearchToken == "" {
		return nil, fmt.Errorf("session has no search token")
	}

	inner := staysSearchRequest{
		MaxMapItems:            9999,
		RequestedPageType:      "STAYS_SEARCH",
		TreatmentFlags:         treatmentFlags,
		SearchType:             "user_map_move",
		RawParams:              b.rawParams(sess, tile, zoom),
		SkipHydrationListingID: []string{},
		Cursor:                 cursor,
	}
	mapInner := inner
	mapInner.MaxMapItems = 0

	payload := searchPayload{
		OperationName: sess.Operation,
		Variables: searchVariables{
			StaysSearchRequest:       inner,
			StaysMapSearchRequestV2:  mapInner,
			IncludeDemandStayListing: true,
		},
		Extensions: searchExtensions{
			PersistedQuery: persistedQuery{Version: 1, SHA256Hash: sess.SearchToken},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal search payload: %w", err)
	}

	query := url.Values{}
	query.Set("operationName", sess.Operation)
	query.Set("locale", sess.Locale)
	query.Set("currency", sess.Currency)

	endpoint := fmt.Sprintf("%s/api/v3/StaysSearch/%s?%s",
		b.baseURL, url.PathEscape(sess.SearchToken), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	applySessionHeaders(req, sess)
	return req, nil
}

func (b *RequestBuilder) rawParams(sess harvest.Session, tile harvest.Tile, zoom int) []filterParam {
	return []filterParam{
		{"adults", []string{"1"}},
		{"cdnCacheSafe", []string{"false"}},
		{"channel", []string{"EXPLORE"}},
		{"flexibleTripLengths", []string{"one_week"}},
		{"itemsPerGrid", []string{"18"}},
		{"monthlyEndDate", sess.MonthlyEndDate},
		{"monthlyLength", []string{"3"}},
		{"monthlyStartDate", sess.MonthlyStartDate},
		{"neLat", []string{formatCoord(tile.NELat)}},
		{"neLng", []string{formatCoord(tile.NELng)}},
		{"placeId", sess.PlaceID},
		{"priceFilterInputType", []string{"0"}},
		{"priceFilterNumNights", []string{"5"}},
		{"query", []string{sess.Query}},
		{"refinementPaths", []string{"/homes"}},
		{"screenSize", []string{"large"}},
		{"searchByMap", []string{"true"}},
		{"searchMode", []string{"regular_search"}},
		{"swLat", []string{formatCoord(tile.SWLat)}},
		{"swLng", []string{formatCoord(tile.SWLng)}},
		{"tabId", []string{"home_tab"}},
		{"version", []string{"1.8.3"}},
		{"zoomLevel", []string{strconv.Itoa(zoom)}},
	}
}

// applySessionHeaders copies the harvested header bag onto the request,
// dropping HTTP/2 pseudo-headers and the stale content-length, then layers
// the fixed GraphQL platform headers on top.
func applySessionHeaders(req *http.Request, sess harvest.Session) {
	for name, values := range sess.Headers {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, ":") || lower == "content-length" {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://www.airbnb.com")
	req.Header.Set("X-Airbnb-Supports-Airlock-V2", "true")
	req.Header.Set("X-Airbnb-GraphQL-Platform", "web")
	req.Header.Set("X-Airbnb-GraphQL-Platform-Client", "minimalist-niobe")
	req.Header.Set("X-Niobe-Short-Circuited", "true")
	req.Header.Set("X-CSRF-Without-Token", "1")
	if sess.APIKey != "" {
		req.Header.Set("X-Airbnb-API-Key", sess.APIKey)
	}
	if sess.ClientVersion != "" {
		req.Header.Set("X-Client-Version", sess.ClientVersion)
	}
	if sess.ClientRequestID != "" {
		req.Header.Set("X-Client-Request-Id", sess.ClientRequestID)
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
