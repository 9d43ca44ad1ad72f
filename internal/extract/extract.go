// Package extract decodes provider search responses into canonical listings.
// The provider ships no schema guarantee, so extraction is tiered: an ordered
// list of known key-paths is tried first, and a bounded deep structural scan
// takes over when every known path comes up empty. Extraction is a total
// function over arbitrary JSON: it never fails, it only returns less.
package extract

import (
	"encoding/json"
	"reflect"

	"go.uber.org/zap"

	"github.com/atlasgrid/stayharvest/internal/harvest"
)

// maxScanDepth bounds the deep structural scan against pathological inputs.
const maxScanDepth = 24

// Roots under which the provider has shipped the search payload, newest
// revision first.
var dataRoots = [][]string{
	{"data", "presentation", "staysSearch"},
	{"data", "staysSearch"},
	{"data", "presentation", "explore"},
	{"data", "presentation", "search"},
	{"data", "explore", "sections", "sectionedResults"},
}

// searchPath is one known location of the result list: either a flat key or
// a two-level tuple.
type searchPath struct {
	outer string
	inner string
}

var searchPaths = []searchPath{
	{outer: "searchResults"},
	{outer: "staysSearchResults", inner: "searchResults"},
	{outer: "staysSearchResultsV2", inner: "searchResults"},
	{outer: "staysMapSearchResults", inner: "mapResults"},
	{outer: "staysMapSearchResultsV2", inner: "mapResults"},
	{outer: "sectionedResults"},
	{outer: "results"},
	{outer: "mapResults"},
	{outer: "listings"},
	{outer: "items"},
	{outer: "exploreItems"},
}

var paginationKeys = []string{"paginationInfo", "pageInfo", "pagination", "pagingInfo"}
var cursorKeys = []string{"nextPageCursor", "nextCursor", "nextPageToken", "cursor", "next"}

// Result is the outcome of extracting one search response.
type Result struct {
	Page harvest.SearchPage

	// RawCandidates is the number of listing-shaped nodes the response
	// carried before identifier resolution. Pagination decisions key off
	// this count, not len(Page.Listings): a drift-mangled entry still
	// occupied a card slot on the provider's page.
	RawCandidates int

	// DeepScanned is set when no known key-path matched and the structural
	// fallback produced the candidates. Callers archive the raw body in that
	// case so the new shape can be promoted to a known path later.
	DeepScanned bool
}

// Extractor turns raw response documents into search pages.
type Extractor struct {
	linkBase string
	logger   *zap.Logger
}

// New builds an Extractor. linkBase is the prefix record links are built
// from, e.g. "https://www.airbnb.com/rooms/".
func New(linkBase string, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{linkBase: linkBase, logger: logger}
}

// ExtractBytes decodes body as JSON and extracts. A body that is not valid
// JSON yields an empty result, not an error: malformed input is upstream
// drift, and drift is absorbed, never surfaced.
func (e *Extractor) ExtractBytes(body []byte) Result {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		e.logger.Warn("response body is not valid JSON", zap.Error(err))
		return Result{}
	}
	return e.Extract(doc)
}

// Extract pulls the listing candidates and pagination state out of doc.
func (e *Extractor) Extract(doc any) Result {
	root := locateDataRoot(doc)
	if root == nil {
		e.logger.Warn("no recognizable data root in response")
		return Result{}
	}
	results := root
	if inner, ok := root["results"].(map[string]any); ok {
		results = inner
	}

	candidates, deepScanned := collectCandidates(results)
	if deepScanned {
		e.logger.Info("known key-paths empty, deep scan engaged",
			zap.Int("candidates", len(candidates)))
	}

	page := harvest.SearchPage{FederatedSearchID: extractFederatedID(results)}
	for _, item := range candidates {
		listing, ok := e.mapListing(item)
		if !ok {
			continue
		}
		page.Listings = append(page.Listings, listing)
	}

	pg := extractPagination(results)
	page.NextCursor = extractCursor(pg)
	page.TotalPages = extractTotalPages(pg)

	return Result{Page: page, RawCandidates: len(candidates), DeepScanned: deepScanned}
}

// locateDataRoot walks the known payload roots and returns the first
// non-empty map, falling back to the document itself when it is a map.
func locateDataRoot(doc any) map[string]any {
	for _, path := range dataRoots {
		node := doc
		ok := true
		for _, key := range path {
			m, isMap := node.(map[string]any)
			if !isMap {
				ok = false
				break
			}
			node = m[key]
		}
		if !ok {
			continue
		}
		if m, isMap := node.(map[string]any); isMap && len(m) > 0 {
			return m
		}
	}
	if m, isMap := doc.(map[string]any); isMap {
		return m
	}
	return nil
}

// collectCandidates returns the listing-shaped nodes under results. The
// second return reports whether the deep scan was needed.
func collectCandidates(results map[string]any) ([]map[string]any, bool) {
	var candidates []map[string]any
	for _, path := range searchPaths {
		node := results[path.outer]
		if path.inner != "" {
			inner, ok := node.(map[string]any)
			if !ok {
				continue
			}
			node = inner[path.inner]
		}
		list, ok := node.([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			if m, isMap := item.(map[string]any); isMap {
				candidates = append(candidates, m)
			}
		}
	}
	if len(candidates) > 0 {
		return candidates, false
	}
	return deepScanCandidates(results), true
}

// deepScanCandidates traverses the whole subtree with an explicit worklist,
// collecting anything listing-shaped. Cycle-safe via node identity, bounded
// by maxScanDepth.
func deepScanCandidates(root map[string]any) []map[string]any {
	var candidates []map[string]any

	type frame struct {
		node  any
		depth int
	}
	stack := []frame{{node: root}}
	visited := make(map[uintptr]struct{})

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > maxScanDepth {
			continue
		}
		if ptr, ok := nodeIdentity(f.node); ok {
			if _, seen := visited[ptr]; seen {
				continue
			}
			visited[ptr] = struct{}{}
		}

		switch node := f.node.(type) {
		case map[string]any:
			if nested, ok := node["listing"].(map[string]any); ok && hasIDField(nested) {
				candidates = append(candidates, node)
				continue
			}
			if hasIDField(node) && hasTitleField(node) {
				candidates = append(candidates, map[string]any{"listing": node})
				continue
			}
			for _, v := range node {
				stack = append(stack, frame{node: v, depth: f.depth + 1})
			}
		case []any:
			if listingArray(node) {
				for _, item := range node {
					if m, isMap := item.(map[string]any); isMap {
						candidates = append(candidates, m)
					}
				}
				continue
			}
			for _, v := range node {
				stack = append(stack, frame{node: v, depth: f.depth + 1})
			}
		}
	}
	return candidates
}

// listingArray reports whether any of the first three elements looks like a
// listing container; if so the whole array is taken as candidates.
func listingArray(list []any) bool {
	limit := len(list)
	if limit > 3 {
		limit = 3
	}
	for i := 0; i < limit; i++ {
		m, ok := list[i].(map[string]any)
		if !ok {
			continue
		}
		if nested, ok := m["listing"].(map[string]any); ok && hasIDField(nested) {
			return true
		}
		if hasIDField(m) && hasTitleField(m) {
			return true
		}
	}
	return false
}

func hasIDField(m map[string]any) bool {
	return m["id"] != nil || m["listingId"] != nil
}

func hasTitleField(m map[string]any) bool {
	return m["title"] != nil || m["name"] != nil || m["structuredDisplayPrice"] != nil
}

// nodeIdentity returns a stable identity for maps and slices so the scan can
// short-circuit on shared or cyclic substructure.
func nodeIdentity(node any) (uintptr, bool) {
	switch node.(type) {
	case map[string]any, []any:
		return reflect.ValueOf(node).Pointer(), true
	}
	return 0, false
}

// extractPagination finds the pagination sub-object: known keys on the
// results object first, then the same deep scan restricted to
// pagination-shaped keys.
func extractPagination(results map[string]any) any {
	for _, key := range paginationKeys {
		if v := results[key]; v != nil {
			return v
		}
	}
	type frame struct {
		node  any
		depth int
	}
	stack := []frame{{node: results}}
	visited := make(map[uintptr]struct{})
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > maxScanDepth {
			continue
		}
		if ptr, ok := nodeIdentity(f.node); ok {
			if _, seen := visited[ptr]; seen {
				continue
			}
			visited[ptr] = struct{}{}
		}
		switch node := f.node.(type) {
		case map[string]any:
			for _, key := range paginationKeys {
				switch node[key].(type) {
				case map[string]any, []any:
					return node[key]
				}
			}
			for _, v := range node {
				stack = append(stack, frame{node: v, depth: f.depth + 1})
			}
		case []any:
			for _, v := range node {
				stack = append(stack, frame{node: v, depth: f.depth + 1})
			}
		}
	}
	return nil
}

func extractCursor(pg any) string {
	switch node := pg.(type) {
	case map[string]any:
		for _, key := range cursorKeys {
			if s, ok := node[key].(string); ok && s != "" {
				return s
			}
		}
	case []any:
		// Occasionally a bare list of page cursors; the last entry is next.
		if len(node) == 0 {
			return ""
		}
		if last, ok := node[len(node)-1].(map[string]any); ok {
			if s, ok := last["cursor"].(string); ok && s != "" {
				return s
			}
			if s, ok := last["nextPageCursor"].(string); ok {
				return s
			}
		}
	}
	return ""
}

func extractTotalPages(pg any) int {
	m, ok := pg.(map[string]any)
	if !ok {
		if list, isList := pg.([]any); isList {
			return len(list)
		}
		return 0
	}
	var pc any
	for _, key := range []string{"pageCursors", "cursors", "pages"} {
		if v := m[key]; v != nil {
			pc = v
			break
		}
	}
	switch node := pc.(type) {
	case []any:
		return len(node)
	case map[string]any:
		if n, ok := asInt(node["totalCount"]); ok {
			return n
		}
		if n, ok := asInt(node["totalPages"]); ok {
			return n
		}
	}
	if n, ok := asInt(m["totalPages"]); ok {
		return n
	}
	return 0
}

func extractFederatedID(results map[string]any) string {
	if meta, ok := results["loggingMetadata"].(map[string]any); ok {
		if legacy, ok := meta["legacyLoggingContext"].(map[string]any); ok {
			if s, ok := legacy["federatedSearchId"].(string); ok {
				return s
			}
		}
	}
	return ""
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		total := 0
		for i := 0; i < len(n); i++ {
			if n[i] < '0' || n[i] > '9' {
				return 0, false
			}
			total = total*10 + int(n[i]-'0')
		}
		if n == "" {
			return 0, false
		}
		return total, true
	}
	return 0, false
}
