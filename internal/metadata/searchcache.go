package metadata

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/errors"
	"github.com/echo-music/echo-server/internal/observability/metrics"
)

// Search query types stored in the cache.
const (
	QueryArtist    = "artist"
	QueryAlbum     = "album"
	QueryRecording = "recording"
)

// SearchCache is the persistent identifier-search cache. Keys are normalized
// so trivially different spellings of the same query share an entry, and hits
// are counted per entry.
type SearchCache struct {
	store      datastore.Interface
	defaultTTL time.Duration
	metrics    *metrics.EnrichmentMetrics
}

// NewSearchCache returns a search cache with the given default TTL.
func NewSearchCache(store datastore.Interface, defaultTTL time.Duration, m *metrics.EnrichmentMetrics) *SearchCache {
	return &SearchCache{
		store:      store,
		defaultTTL: defaultTTL,
		metrics:    m,
	}
}

// NormalizeQuery lowercases, strips diacritic-free punctuation and collapses
// whitespace so near-identical queries share a cache key.
func NormalizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	lastSpace := true
	for _, r := range strings.ToLower(q) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// encodeParams serializes extra query parameters deterministically so that
// equal parameter sets produce equal cache keys.
func encodeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, params[k]})
	}
	data, _ := json.Marshal(ordered)
	return string(data)
}

// recordingParams builds the parameter set for a recording query. Duration is
// bucketed to whole seconds so tag-level millisecond jitter still hits.
func recordingParams(q RecordingQuery) map[string]string {
	params := make(map[string]string, 2)
	if q.DurationMS > 0 {
		params["duration_s"] = strconv.Itoa(q.DurationMS / 1000)
	}
	if q.Position > 0 {
		params["position"] = strconv.Itoa(q.Position)
	}
	return params
}

// Get returns the cached matches for a query, or nil on a miss. Expired
// entries are deleted on read. A hit bumps the entry's hit counter.
func (c *SearchCache) Get(queryText, queryType string, params map[string]string) []Match {
	key := NormalizeQuery(queryText)
	if key == "" {
		return nil
	}
	row, err := c.store.GetSearchCache(key, queryType, encodeParams(params))
	if err != nil {
		logger.Warn("search cache read failed", "query", key, "type", queryType, "error", err)
		c.recordMiss()
		return nil
	}
	if row == nil {
		c.recordMiss()
		return nil
	}
	if time.Now().After(row.ExpiresAt) {
		if err := c.store.DeleteSearchCache(row.ID); err != nil {
			logger.Warn("expired search cache delete failed", "id", row.ID, "error", err)
		}
		c.recordMiss()
		return nil
	}
	var matches []Match
	if err := json.Unmarshal([]byte(row.Results), &matches); err != nil {
		logger.Warn("search cache results unmarshal failed, dropping row", "id", row.ID, "error", err)
		_ = c.store.DeleteSearchCache(row.ID)
		c.recordMiss()
		return nil
	}
	if err := c.store.RecordSearchCacheHit(row.ID, time.Now()); err != nil {
		logger.Warn("search cache hit accounting failed", "id", row.ID, "error", err)
	}
	c.recordHit()
	return matches
}

// Save stores the matches for a query. A nil match slice is stored as an
// empty result so repeated no-hit searches do not re-query the provider.
func (c *SearchCache) Save(queryText, queryType string, params map[string]string, matches []Match) error {
	key := NormalizeQuery(queryText)
	if key == "" {
		return errors.Newf("empty search query").
			Component("metadata").
			Category(errors.CategoryValidation).
			Build()
	}
	if matches == nil {
		matches = []Match{}
	}
	data, err := json.Marshal(matches)
	if err != nil {
		return errors.New(err).
			Component("metadata").
			Category(errors.CategorySearch).
			Context("query", key).
			Build()
	}
	entry := &datastore.SearchCache{
		QueryText:   key,
		QueryType:   queryType,
		QueryParams: encodeParams(params),
		Results:     string(data),
		ExpiresAt:   time.Now().Add(c.defaultTTL),
	}
	if err := c.store.SaveSearchCache(entry); err != nil {
		return errors.New(err).
			Component("metadata").
			Category(errors.CategorySearch).
			Context("query", key).
			Build()
	}
	return nil
}

// ClearExpired removes expired entries and returns the count.
func (c *SearchCache) ClearExpired() (int64, error) {
	return c.store.ClearExpiredSearchCache(time.Now())
}

// Clear removes every entry.
func (c *SearchCache) Clear() error {
	return c.store.ClearSearchCache()
}

// Stats reports entry counts and accumulated hits.
func (c *SearchCache) Stats() (datastore.SearchCacheStats, error) {
	return c.store.SearchCacheStats()
}

func (c *SearchCache) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit("search")
	}
}

func (c *SearchCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss("search")
	}
}
