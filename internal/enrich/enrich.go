// Package enrich fetches and decodes the per-record detail document. Every
// outcome short of success is a SKIP: the record stays basic and gets
// another chance next run.
package enrich

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/atlasgrid/stayharvest/internal/fetch"
	"github.com/atlasgrid/stayharvest/internal/harvest"
)

// Fetcher is the retrying transport detail requests go through.
type Fetcher interface {
	Fetch(ctx context.Context, newReq fetch.RequestFunc) ([]byte, error)
}

// Enricher turns one basic listing into a DetailRecord using the session's
// detail capability token.
type Enricher struct {
	fetcher Fetcher
	baseURL string
	clock   harvest.Clock
	logger  *zap.Logger
}

// New builds an Enricher rooted at baseURL, e.g. "https://www.airbnb.com".
func New(fetcher Fetcher, baseURL string, clock harvest.Clock, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   clock,
		logger:  logger,
	}
}

// Enrich fetches the detail document for the listing. The second return is
// false when the record should be skipped this run: request failure, error
// envelope, or an unrecognizable payload. Skips are routine, not errors.
func (e *Enricher) Enrich(ctx context.Context, sess harvest.Session, listing harvest.Listing) (harvest.DetailRecord, bool) {
	if sess.DetailToken == "" {
		e.logger.Debug("no detail token in session, skipping enrichment")
		return harvest.DetailRecord{}, false
	}

	logger := e.logger.With(zap.String("id", listing.ID))
	newReq := func(ctx context.Context) (*http.Request, error) {
		return e.buildRequest(ctx, sess, listing)
	}
	body, err := e.fetcher.Fetch(ctx, newReq)
	if err != nil {
		logger.Warn("detail fetch failed, skipping record this run", zap.Error(err))
		return harvest.DetailRecord{}, false
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		logger.Warn("detail response is not valid JSON, skipping", zap.Error(err))
		return harvest.DetailRecord{}, false
	}
	if errs, ok := doc["errors"].([]any); ok && len(errs) > 0 {
		logger.Warn("detail response carries GraphQL errors, skipping",
			zap.Int("errors", len(errs)))
		return harvest.DetailRecord{}, false
	}

	detail, ok := parseSections(doc)
	if !ok {
		logger.Info("detail response has no sections payload, skipping")
		return harvest.DetailRecord{}, false
	}
	return detail, true
}

func (e *Enricher) buildRequest(ctx context.Context, sess harvest.Session, listing harvest.Listing) (*http.Request, error) {
	variables := e.detailVariables(sess, listing)
	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("marshal detail variables: %w", err)
	}
	extensionsJSON, err := json.Marshal(map[string]any{
		"persistedQuery": map[string]any{"version": 1, "sha256Hash": sess.DetailToken},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal detail extensions: %w", err)
	}

	query := url.Values{}
	query.Set("operationName", "StaysPdpSections")
	query.Set("locale", sess.Locale)
	query.Set("currency", sess.Currency)
	query.Set("variables", string(variablesJSON))
	query.Set("extensions", string(extensionsJSON))

	endpoint := fmt.Sprintf("%s/api/v3/StaysPdpSections/%s?%s",
		e.baseURL, url.PathEscape(sess.DetailToken), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build detail request: %w", err)
	}

	for name, values := range sess.Headers {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, ":") || lower == "content-length" {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	referer := listing.Link
	if referer == "" {
		referer = "https://www.airbnb.com/"
	}
	req.Header.Set("Origin", "https://www.airbnb.com")
	req.Header.Set("Referer", referer)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
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
	return req, nil
}

// detailVariables mirrors the variable bag an interactive client sends for a
// product-detail view. The global id is the record id wrapped and encoded
// the way the provider's GraphQL layer expects.
func (e *Enricher) detailVariables(sess harvest.Session, listing harvest.Listing) map[string]any {
	globalID := base64.StdEncoding.EncodeToString([]byte("StayListing:" + listing.ID))
	return map[string]any{
		"id":                globalID,
		"useContextualUser": false,
		"pdpSectionsRequest": map[string]any{
			"adults":                        "1",
			"amenityFilters":                nil,
			"bypassTargetings":              false,
			"categoryTag":                   nullable(listing.CategoryTag),
			"causeId":                       nil,
			"children":                      "0",
			"disasterId":                    nil,
			"discountedGuestFeeVersion":     nil,
			"displayExtensions":             nil,
			"federatedSearchId":             "",
			"forceBoostPriorityMessageType": nil,
			"hostPreview":                   false,
			"infants":                       "0",
			"interactionType":               nil,
			"layouts":                       []string{"SIDEBAR", "SINGLE_COLUMN"},
			"pets":                          0,
			"pdpTypeOverride":               nil,
			"photoId":                       nullable(listing.PhotoID),
			"preview":                       false,
			"previousStateCheckIn":          nil,
			"previousStateCheckOut":         nil,
			"priceDropSource":               nil,
			"privateBooking":                false,
			"promotionUuid":                 nil,
			"relaxedAmenityIds":             nil,
			"searchId":                      nil,
			"selectedCancellationPolicyId":  nil,
			"selectedRatePlanId":            nil,
			"splitStays":                    nil,
			"staysBookingMigrationEnabled":  false,
			"translateUgc":                  false,
			"useNewSectionWrapperApi":       false,
			"sectionIds":                    nil,
			"checkIn":                       nullable(listing.Checkin),
			"checkOut":                      nullable(listing.Checkout),
			"p3ImpressionId":                fmt.Sprintf("p3_%d", e.clock.Now().Unix()),
		},
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
