// Package session supplies the opaque request material the crawl engine
// spends: operation tokens, API keys and the header bag captured from live
// traffic. The engine never acquires any of it itself; a browser collaborator
// drops the material into a JSON file that this package watches.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlasgrid/stayharvest/internal/harvest"
)

// defaultOperation matches the fixed /api/v3/StaysSearch/ request path, so
// an omitted operation never produces an empty operationName parameter.
const defaultOperation = "StaysSearch"

// Defaults fills session fields the collaborator file may omit.
type Defaults struct {
	Operation      string
	Locale         string
	Currency       string
	Query          string
	ViewportWidth  int
	ViewportHeight int
}

// fileSession is the on-disk shape written by the collaborator.
type fileSession struct {
	SearchToken      string              `json:"search_token"`
	DetailToken      string              `json:"detail_token"`
	APIKey           string              `json:"api_key"`
	ClientVersion    string              `json:"client_version"`
	Operation        string              `json:"operation"`
	Locale           string              `json:"locale"`
	Currency         string              `json:"currency"`
	Query            string              `json:"query"`
	PlaceID          []string            `json:"place_id"`
	MonthlyStartDate []string            `json:"monthly_start_date"`
	MonthlyEndDate   []string            `json:"monthly_end_date"`
	Headers          map[string][]string `json:"headers"`
}

// FileSource reads session material from a JSON file, reloading it whenever
// the file changes on disk.
type FileSource struct {
	path     string
	defaults Defaults

	mu      sync.Mutex
	modTime time.Time
	cached  harvest.Session
	loaded  bool
}

// NewFileSource builds a FileSource. The file does not need to exist yet;
// Session fails until the collaborator drops it.
func NewFileSource(path string, defaults Defaults) *FileSource {
	return &FileSource{path: path, defaults: defaults}
}

// Session returns the current session material. Each call stamps a fresh
// client request ID so retries are distinguishable upstream.
func (s *FileSource) Session(_ context.Context) (harvest.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return harvest.Session{}, fmt.Errorf("stat session file: %w", err)
	}
	if !s.loaded || info.ModTime().After(s.modTime) {
		sess, err := s.load()
		if err != nil {
			return harvest.Session{}, err
		}
		s.cached = sess
		s.modTime = info.ModTime()
		s.loaded = true
	}

	out := s.cached
	out.ClientRequestID = uuid.NewString()
	return out, nil
}

func (s *FileSource) load() (harvest.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return harvest.Session{}, fmt.Errorf("read session file: %w", err)
	}
	var raw fileSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return harvest.Session{}, fmt.Errorf("decode session file: %w", err)
	}
	if raw.SearchToken == "" {
		return harvest.Session{}, fmt.Errorf("session file %s has no search token", s.path)
	}

	sess := harvest.Session{
		SearchToken:      raw.SearchToken,
		DetailToken:      raw.DetailToken,
		APIKey:           raw.APIKey,
		ClientVersion:    raw.ClientVersion,
		Operation:        raw.Operation,
		Locale:           raw.Locale,
		Currency:         raw.Currency,
		Query:            raw.Query,
		PlaceID:          raw.PlaceID,
		MonthlyStartDate: raw.MonthlyStartDate,
		MonthlyEndDate:   raw.MonthlyEndDate,
		Headers:          http.Header(raw.Headers),
		ViewportWidth:    s.defaults.ViewportWidth,
		ViewportHeight:   s.defaults.ViewportHeight,
	}
	if sess.Operation == "" {
		sess.Operation = s.defaults.Operation
	}
	if sess.Operation == "" {
		sess.Operation = defaultOperation
	}
	if sess.Locale == "" {
		sess.Locale = s.defaults.Locale
	}
	if sess.Currency == "" {
		sess.Currency = s.defaults.Currency
	}
	if sess.Query == "" {
		sess.Query = s.defaults.Query
	}
	return sess, nil
}

// Static wraps a fixed session, for tests and one-shot runs.
type Static struct {
	Sess harvest.Session
}

// Session returns the wrapped session unchanged.
func (s Static) Session(context.Context) (harvest.Session, error) {
	return s.Sess, nil
}
