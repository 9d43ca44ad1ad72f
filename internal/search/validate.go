package search

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/atlasgrid/stayharvest/internal/harvest"
)

// priceAmount pulls the first grouped-digit run out of a display price such
// as "MAD 2,283" or "MAD2283".
var priceAmount = regexp.MustCompile(`([0-9][0-9,]*)`)

// ValidateListing checks one extracted listing and fills in derived fields.
// A listing without a canonical digit identifier is rejected; everything
// else is a warning at most. The numeric price is parsed as a side effect.
func ValidateListing(l *harvest.Listing, logger *zap.Logger) bool {
	if !isDigits(l.ID) {
		logger.Warn("rejecting listing with invalid identifier", zap.String("id", l.ID))
		return false
	}
	if l.Price != "" {
		if numeric, ok := parsePrice(l.Price); ok {
			l.PriceNumeric = &numeric
		} else {
			logger.Debug("unparseable display price",
				zap.String("id", l.ID), zap.String("price", l.Price))
		}
	}
	return true
}

func parsePrice(display string) (float64, bool) {
	m := priceAmount.FindString(display)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
