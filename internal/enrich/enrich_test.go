package enrich

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasgrid/stayharvest/internal/fetch"
	"github.com/atlasgrid/stayharvest/internal/harvest"
)

type fakeFetcher struct {
	body []byte
	err  error
	req  *http.Request
}

func (f *fakeFetcher) Fetch(ctx context.Context, newReq fetch.RequestFunc) ([]byte, error) {
	req, err := newReq(ctx)
	if err != nil {
		return nil, err
	}
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func testSession() harvest.Session {
	return harvest.Session{
		DetailToken: "pdp-token-hash",
		APIKey:      "key123",
		Locale:      "en",
		Currency:    "MAD",
	}
}

func testListing() harvest.Listing {
	return harvest.Listing{
		ID:   "36836062",
		Link: "https://www.airbnb.com/rooms/36836062",
	}
}

func detailDoc(t *testing.T) []byte {
	t.Helper()
	hostID := base64.StdEncoding.EncodeToString([]byte("User:445566"))
	doc := map[string]any{
		"data": map[string]any{
			"presentation": map[string]any{
				"stayProductDetailPage": map[string]any{
					"sections": map[string]any{
						"sbuiData": map[string]any{
							"sectionConfiguration": map[string]any{
								"root": map[string]any{
									"sections": []any{
										map[string]any{"sectionId": "LUXE_BANNER"},
									},
								},
							},
						},
						"sections": []any{
							map[string]any{
								"sectionId": "AVAILABILITY_CALENDAR_DEFAULT",
								"section": map[string]any{
									"localizedLocation": "Marrakech, Morocco",
									"maxGuestCapacity":  float64(6),
								},
							},
							map[string]any{
								"sectionId": "REVIEWS_DEFAULT",
								"section": map[string]any{
									"isGuestFavorite": true,
									"overallCount":    float64(128),
									"overallRating":   4.92,
								},
							},
							map[string]any{
								"sectionId": "LOCATION_DEFAULT",
								"section": map[string]any{
									"lat": 31.6295,
									"lng": -7.9811,
								},
							},
							map[string]any{
								"sectionId": "MEET_YOUR_HOST",
								"section": map[string]any{
									"cardData": map[string]any{
										"name":          "Fatima",
										"isSuperhost":   true,
										"isVerified":    true,
										"ratingCount":   float64(412),
										"ratingAverage": 4.88,
										"userId":        hostID,
										"timeAsHost": map[string]any{
											"years":  float64(5),
											"months": float64(3),
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func TestEnrichFullDocument(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{body: detailDoc(t)}
	e := New(fetcher, "https://www.airbnb.com", &fixedClock{now: time.Unix(1700000000, 0)}, zap.NewNop())

	detail, ok := e.Enrich(context.Background(), testSession(), testListing())
	require.True(t, ok)

	assert.True(t, detail.Luxe)
	assert.Equal(t, "Marrakech, Morocco", detail.Location)
	assert.Equal(t, 6, detail.MaxGuestCapacity)
	assert.True(t, detail.IsGuestFavorite)
	assert.Equal(t, 128, detail.ReviewsCount)
	assert.Equal(t, 4.92, detail.AverageRating)
	require.NotNil(t, detail.Lat)
	require.NotNil(t, detail.Lng)
	assert.Equal(t, 31.6295, *detail.Lat)
	assert.Equal(t, -7.9811, *detail.Lng)
	assert.Equal(t, "Fatima", detail.Host)
	assert.Equal(t, "445566", detail.HostUserID)
	assert.True(t, detail.IsSuperhost)
	assert.True(t, detail.IsVerified)
	assert.Equal(t, 412, detail.HostRatingCount)
	assert.Equal(t, 4.88, detail.HostRatingAverage)
	assert.Equal(t, 5, detail.HostYears)
	assert.Equal(t, 3, detail.HostMonths)
}

func TestEnrichRequestShape(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{body: detailDoc(t)}
	e := New(fetcher, "https://www.airbnb.com", &fixedClock{now: time.Unix(1700000000, 0)}, zap.NewNop())

	_, ok := e.Enrich(context.Background(), testSession(), testListing())
	require.True(t, ok)
	require.NotNil(t, fetcher.req)

	req := fetcher.req
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Contains(t, req.URL.Path, "/api/v3/StaysPdpSections/pdp-token-hash")
	assert.Equal(t, "StaysPdpSections", req.URL.Query().Get("operationName"))
	assert.Equal(t, "key123", req.Header.Get("X-Airbnb-Api-Key"))
	assert.Equal(t, "https://www.airbnb.com/rooms/36836062", req.Header.Get("Referer"))

	var variables map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.URL.Query().Get("variables")), &variables))
	wantID := base64.StdEncoding.EncodeToString([]byte("StayListing:36836062"))
	assert.Equal(t, wantID, variables["id"])

	pdp := variables["pdpSectionsRequest"].(map[string]any)
	layouts := pdp["layouts"].([]any)
	assert.Equal(t, []any{"SIDEBAR", "SINGLE_COLUMN"}, layouts)
	assert.Nil(t, pdp["categoryTag"])

	var extensions map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.URL.Query().Get("extensions")), &extensions))
	pq := extensions["persistedQuery"].(map[string]any)
	assert.Equal(t, "pdp-token-hash", pq["sha256Hash"])
}

func TestEnrichSkipsOnFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("exhausted")}
	e := New(fetcher, "https://www.airbnb.com", &fixedClock{now: time.Now()}, zap.NewNop())

	_, ok := e.Enrich(context.Background(), testSession(), testListing())
	assert.False(t, ok)
}

func TestEnrichSkipsOnGraphQLErrors(t *testing.T) {
	t.Parallel()

	body := []byte(`{"errors":[{"message":"rate limited"}],"data":{}}`)
	fetcher := &fakeFetcher{body: body}
	e := New(fetcher, "https://www.airbnb.com", &fixedClock{now: time.Now()}, zap.NewNop())

	_, ok := e.Enrich(context.Background(), testSession(), testListing())
	assert.False(t, ok)
}

func TestEnrichSkipsOnMissingPayload(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		[]byte(`{"data":{}}`),
		[]byte(`{"data":{"presentation":{}}}`),
		[]byte(`not json at all`),
		[]byte(`{"data":{"presentation":{"stayProductDetailPage":{}}}}`),
	}
	for _, body := range cases {
		fetcher := &fakeFetcher{body: body}
		e := New(fetcher, "https://www.airbnb.com", &fixedClock{now: time.Now()}, zap.NewNop())
		_, ok := e.Enrich(context.Background(), testSession(), testListing())
		assert.False(t, ok, "body %s", body)
	}
}

func TestEnrichSkipsWithoutDetailToken(t *testing.T) {
	t.Parallel()

	sess := testSession()
	sess.DetailToken = ""
	e := New(&fakeFetcher{}, "https://www.airbnb.com", &fixedClock{now: time.Now()}, zap.NewNop())

	_, ok := e.Enrich(context.Background(), sess, testListing())
	assert.False(t, ok)
}

func TestEnrichPartialSections(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"data": map[string]any{
			"presentation": map[string]any{
				"stayProductDetailPage": map[string]any{
					"sections": map[string]any{
						"sections": []any{
							map[string]any{
								"sectionId": "REVIEWS_DEFAULT",
								"section": map[string]any{
									"overallCount":  float64(3),
									"overallRating": 4.5,
								},
							},
							map[string]any{"sectionId": "MEET_YOUR_HOST"},
						},
					},
				},
			},
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	fetcher := &fakeFetcher{body: raw}
	e := New(fetcher, "https://www.airbnb.com", &fixedClock{now: time.Now()}, zap.NewNop())

	detail, ok := e.Enrich(context.Background(), testSession(), testListing())
	require.True(t, ok)
	assert.Equal(t, 3, detail.ReviewsCount)
	assert.Equal(t, 4.5, detail.AverageRating)
	assert.False(t, detail.Luxe)
	assert.Empty(t, detail.Host)
	assert.Nil(t, detail.Lat)
	assert.Equal(t, 0, detail.MaxGuestCapacity)
}
