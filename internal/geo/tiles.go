package geo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/atlasgrid/stayharvest/internal/harvest"
)

// LoadTiles parses the tile list from r. One tile per line, formatted
// "swLat,swLng|neLat,neLng". Blank lines are skipped; a malformed line is a
// hard error because a bad list would silently skew the cursor.
func LoadTiles(r io.Reader) ([]harvest.Tile, error) {
	var tiles []harvest.Tile
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tile, err := parseTile(line)
		if err != nil {
			return nil, fmt.Errorf("tile list line %d: %w", lineNo, err)
		}
		tile.Ordinal = len(tiles)
		tiles = append(tiles, tile)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tile list: %w", err)
	}
	return tiles, nil
}

// LoadTilesFile loads the tile list from a file on disk.
func LoadTilesFile(path string) ([]harvest.Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tile list: %w", err)
	}
	defer f.Close()
	return LoadTiles(f)
}

func parseTile(line string) (harvest.Tile, error) {
	corners := strings.Split(line, "|")
	if len(corners) != 2 {
		return harvest.Tile{}, fmt.Errorf("expected two corners separated by |, got %q", line)
	}
	swLat, swLng, err := parseCorner(corners[0])
	if err != nil {
		return harvest.Tile{}, err
	}
	neLat, neLng, err := parseCorner(corners[1])
	if err != nil {
		return harvest.Tile{}, err
	}
	return harvest.Tile{SWLat: swLat, SWLng: swLng, NELat: neLat, NELng: neLng}, nil
}

func parseCorner(s string) (lat, lng float64, err error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected lat,lng corner, got %q", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse latitude %q: %w", parts[0], err)
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse longitude %q: %w", parts[1], err)
	}
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("latitude %v out of range", lat)
	}
	if lng < -180 || lng > 180 {
		return 0, 0, fmt.Errorf("longitude %v out of range", lng)
	}
	return lat, lng, nil
}
