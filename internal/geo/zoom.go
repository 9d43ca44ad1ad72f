// Package geo holds the map math and tile-list plumbing for the geographic
// partition the crawl walks.
package geo

import "math"

// Web-Mercator projection constants.
const (
	globeWidth = 256
	zoomMax    = 21
)

// ZoomLevel computes the map zoom an interactive client at the given viewport
// would use to frame the bounding box. The provider keys response shaping off
// the implied zoom, so search requests must carry a plausible value. Pure
// function: same inputs, same output, always in [1, 21].
func ZoomLevel(swLat, swLng, neLat, neLng float64, widthPx, heightPx int) int {
	angle := neLng - swLng
	if angle < 0 {
		angle += 360
	}
	zoomWidth := math.Floor(math.Log2(float64(widthPx) * 360 / angle / globeWidth))

	latFraction := math.Log(math.Tan(radians(neLat)/2+math.Pi/4) /
		math.Tan(radians(swLat)/2+math.Pi/4))
	zoomHeight := math.Floor(math.Log2(float64(heightPx) * 2 / latFraction / globeWidth))

	zoom := math.Min(math.Min(zoomWidth, zoomHeight), zoomMax)
	if zoom < 1 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return 1
	}
	return int(zoom)
}

func radians(deg float64) float64 {
	return deg * (math.Pi / 180)
}
