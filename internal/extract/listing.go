package extract

import (
	"go.uber.org/zap"

	"github.com/atlasgrid/stayharvest/internal/harvest"
	"github.com/atlasgrid/stayharvest/internal/identifier"
)

var picturePaths = []string{
	"contextualPictures", "listingContextualPictures",
	"pictures", "images", "photos", "media", "cardPhotos",
}

var pictureFields = []string{"previewImage", "mainImage", "heroImage", "thumbnail", "image"}

// mapListing is the single pass from a loosely-typed candidate node into the
// canonical Listing. Anything without a resolvable identifier is dropped
// with a warning; every other field is best-effort.
func (e *Extractor) mapListing(item map[string]any) (harvest.Listing, bool) {
	listing := innerListing(item)
	if listing == nil {
		return harvest.Listing{}, false
	}

	rawID := listing["id"]
	if rawID == nil {
		rawID = listing["listingId"]
	}
	id, ok := identifier.Normalize(rawID, listing)
	if !ok {
		e.logger.Warn("listing has no resolvable identifier", zap.Any("raw_id", rawID))
		return harvest.Listing{}, false
	}

	out := harvest.Listing{
		ID:               id,
		ObjType:          stringOr(listing["listingObjType"], "REGULAR"),
		RoomTypeCategory: stringOr(listing["roomTypeCategory"], "unavailable"),
		Title:            extractTitle(item, listing),
		Picture:          extractPicture(item, listing),
		Link:             e.linkBase + id,
	}

	price, discounted, original := extractPrice(item, listing)
	out.Price = price
	out.DiscountedPrice = discounted
	out.OriginalPrice = original

	if overrides, ok := item["listingParamOverrides"].(map[string]any); ok {
		out.Checkin = stringOr(overrides["checkin"], "")
		out.Checkout = stringOr(overrides["checkout"], "")
		out.CategoryTag = stringOr(overrides["categoryTag"], "")
		out.PhotoID = stringOr(overrides["photoId"], "")
	}

	return out, true
}

// innerListing locates the listing map inside a candidate: a nested
// "listing" key, the node itself when it bears an id, or the first nested
// map that does.
func innerListing(item map[string]any) map[string]any {
	if nested, ok := item["listing"].(map[string]any); ok {
		return nested
	}
	if hasIDField(item) {
		return item
	}
	for _, v := range item {
		if m, ok := v.(map[string]any); ok && hasIDField(m) {
			return m
		}
	}
	return nil
}

func extractTitle(item, listing map[string]any) string {
	if s := stringOr(listing["title"], ""); s != "" {
		return s
	}
	if s := stringOr(listing["name"], ""); s != "" {
		return s
	}
	if s := stringOr(listing["localizedTitle"], ""); s != "" {
		return s
	}
	if pres, ok := listing["presentation"].(map[string]any); ok {
		if s := stringOr(pres["title"], ""); s != "" {
			return s
		}
	}
	if s := stringOr(item["title"], ""); s != "" {
		return s
	}
	return stringOr(item["name"], "")
}

func extractPrice(item, listing map[string]any) (price, discounted, original string) {
	structured, ok := item["structuredDisplayPrice"].(map[string]any)
	if !ok {
		structured, _ = listing["structuredDisplayPrice"].(map[string]any)
	}
	if structured != nil {
		if primary, ok := structured["primaryLine"].(map[string]any); ok {
			price = firstString(primary["price"], primary["priceString"], primary["displayPrice"])
			discounted = stringOr(primary["discountedPrice"], "")
			original = stringOr(primary["originalPrice"], "")
		}
	}
	if price != "" {
		return price, discounted, original
	}
	for _, node := range []map[string]any{item, listing} {
		if node == nil {
			continue
		}
		price = firstString(
			dig(node, "price", "amountFormatted"),
			dig(node, "pricingQuote", "priceString"),
			dig(node, "priceMetadata", "displayRate"),
			node["displayPrice"],
			node["price"],
		)
		if price != "" {
			return price, discounted, original
		}
	}
	return "", discounted, original
}

func extractPicture(item, listing map[string]any) string {
	for _, path := range picturePaths {
		pics, ok := item[path].([]any)
		if !ok {
			pics, ok = listing[path].([]any)
		}
		if !ok || len(pics) == 0 {
			continue
		}
		first, ok := pics[0].(map[string]any)
		if !ok {
			continue
		}
		if url := firstString(first["picture"], first["url"], first["src"], first["uri"]); url != "" {
			return url
		}
	}
	for _, field := range pictureFields {
		pic := item[field]
		if pic == nil {
			pic = listing[field]
		}
		switch v := pic.(type) {
		case map[string]any:
			if url := firstString(v["url"], v["src"]); url != "" {
				return url
			}
		case string:
			if v != "" {
				return v
			}
		}
	}
	return ""
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

func firstString(vals ...any) string {
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
