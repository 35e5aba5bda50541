package services

import (
	"strings"

	"github.com/lborres/templatex/core"
)

// SearchListings keeps listings whose title contains query, ignoring case.
// An empty query keeps everything.
func SearchListings(listings []core.Listing, query string) []core.Listing {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return listings
	}

	out := make([]core.Listing, 0, len(listings))
	for _, l := range listings {
		if strings.Contains(strings.ToLower(l.Title), query) {
			out = append(out, l)
		}
	}
	return out
}
