package enrich

import (
	"encoding/base64"
	"strings"

	"github.com/atlasgrid/stayharvest/internal/harvest"
)

// parseSections maps the detail document's named sections onto a
// DetailRecord. Sections absent or malformed leave zero values; only a
// missing top-level payload reports failure.
func parseSections(doc map[string]any) (harvest.DetailRecord, bool) {
	root := dig(doc, "data", "presentation", "stayProductDetailPage")
	pageRoot, ok := root.(map[string]any)
	if !ok || len(pageRoot) == 0 {
		return harvest.DetailRecord{}, false
	}
	mainSections, _ := pageRoot["sections"].(map[string]any)
	if mainSections == nil {
		return harvest.DetailRecord{}, false
	}

	var detail harvest.DetailRecord

	// The luxe banner lives in the server-driven UI configuration, not the
	// data sections.
	if sbui, ok := dig(mainSections, "sbuiData", "sectionConfiguration", "root", "sections").([]any); ok {
		for _, s := range sbui {
			m, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if m["sectionId"] == "LUXE_BANNER" {
				detail.Luxe = true
			}
		}
	}

	sections, _ := mainSections["sections"].([]any)
	for _, s := range sections {
		node, ok := s.(map[string]any)
		if !ok {
			continue
		}
		sectionID, _ := node["sectionId"].(string)
		data, _ := node["section"].(map[string]any)
		if data == nil {
			continue
		}
		switch sectionID {
		case "AVAILABILITY_CALENDAR_DEFAULT":
			detail.Location, _ = data["localizedLocation"].(string)
			detail.MaxGuestCapacity = asInt(data["maxGuestCapacity"])
		case "REVIEWS_DEFAULT":
			detail.IsGuestFavorite, _ = data["isGuestFavorite"].(bool)
			detail.ReviewsCount = asInt(data["overallCount"])
			detail.AverageRating = asFloat(data["overallRating"])
		case "LOCATION_DEFAULT":
			if lat, ok := data["lat"].(float64); ok {
				detail.Lat = &lat
			}
			if lng, ok := data["lng"].(float64); ok {
				detail.Lng = &lng
			}
		case "MEET_YOUR_HOST":
			card, _ := data["cardData"].(map[string]any)
			if card == nil {
				continue
			}
			detail.Host, _ = card["name"].(string)
			detail.IsSuperhost, _ = card["isSuperhost"].(bool)
			detail.IsVerified, _ = card["isVerified"].(bool)
			detail.HostRatingCount = asInt(card["ratingCount"])
			detail.HostRatingAverage = asFloat(card["ratingAverage"])
			if userID, ok := card["userId"].(string); ok && userID != "" {
				detail.HostUserID = decodeUserID(userID)
			}
			if tah, ok := card["timeAsHost"].(map[string]any); ok {
				detail.HostYears = asInt(tah["years"])
				detail.HostMonths = asInt(tah["months"])
			}
		}
	}
	return detail, true
}

// decodeUserID unwraps a base64 global user id down to its trailing numeric
// part, falling back to the raw value when it does not decode.
func decodeUserID(raw string) string {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return raw
	}
	text := string(decoded)
	if idx := strings.LastIndexByte(text, ':'); idx >= 0 {
		return text[idx+1:]
	}
	return text
}

func dig(m map[string]any, keys ...string) any {
	var node any = m
	for _, key := range keys {
		inner, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = inner[key]
	}
	return node
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
