package metadata

import (
	"encoding/json"
	"time"

	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/errors"
	"github.com/echo-music/echo-server/internal/observability/metrics"
)

// ResponseCache is the persistent per-(entity, source) response cache.
// Rows carry their own expiry; expired rows are deleted on read so a fresh
// fetch replaces them. Failures to read or write the cache never fail the
// enrichment pass, they only force a provider call.
type ResponseCache struct {
	store      datastore.Interface
	defaultTTL time.Duration
	metrics    *metrics.EnrichmentMetrics
}

// NewResponseCache returns a response cache with the given default TTL,
// applied when a provider result carries no TTL of its own.
func NewResponseCache(store datastore.Interface, defaultTTL time.Duration, m *metrics.EnrichmentMetrics) *ResponseCache {
	return &ResponseCache{
		store:      store,
		defaultTTL: defaultTTL,
		metrics:    m,
	}
}

// Get unmarshals the cached payload for (entityType, entityID, source) into
// out. It returns false on a miss, on an expired row (which it deletes) and
// on any store error.
func (c *ResponseCache) Get(entityType string, entityID uint, source string, out any) bool {
	row, err := c.store.GetMetadataCache(entityType, entityID, source)
	if err != nil {
		logger.Warn("response cache read failed",
			"entity_type", entityType, "entity_id", entityID, "source", source, "error", err)
		c.recordMiss(source)
		return false
	}
	if row == nil {
		c.recordMiss(source)
		return false
	}
	if time.Now().After(row.ExpiresAt) {
		if err := c.store.DeleteMetadataCache(entityType, entityID, source); err != nil {
			logger.Warn("expired response cache delete failed",
				"entity_type", entityType, "entity_id", entityID, "source", source, "error", err)
		}
		c.recordMiss(source)
		return false
	}
	if err := json.Unmarshal([]byte(row.Payload), out); err != nil {
		// Corrupt payload, drop the row and refetch
		logger.Warn("response cache payload unmarshal failed, dropping row",
			"entity_type", entityType, "entity_id", entityID, "source", source, "error", err)
		_ = c.store.DeleteMetadataCache(entityType, entityID, source)
		c.recordMiss(source)
		return false
	}
	c.recordHit(source)
	return true
}

// Save stores a provider result. ttlDays of zero applies the default TTL.
func (c *ResponseCache) Save(entityType string, entityID uint, source string, payload any, ttlDays int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.New(err).
			Component("metadata").
			Category(errors.CategoryMetadataCache).
			Context("source", source).
			Build()
	}
	ttl := c.defaultTTL
	if ttlDays > 0 {
		ttl = time.Duration(ttlDays) * 24 * time.Hour
	}
	now := time.Now()
	entry := &datastore.MetadataCache{
		EntityType: entityType,
		EntityID:   entityID,
		Source:     source,
		Payload:    string(data),
		FetchedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := c.store.SaveMetadataCache(entry); err != nil {
		return errors.New(err).
			Component("metadata").
			Category(errors.CategoryMetadataCache).
			Context("source", source).
			Context("entity_type", entityType).
			Build()
	}
	return nil
}

// Invalidate removes the cached response for one (entity, source) pair.
func (c *ResponseCache) Invalidate(entityType string, entityID uint, source string) error {
	return c.store.DeleteMetadataCache(entityType, entityID, source)
}

// ClearExpired removes every expired row and returns the count.
func (c *ResponseCache) ClearExpired() (int64, error) {
	return c.store.ClearExpiredMetadataCache(time.Now())
}

// Clear removes every row.
func (c *ResponseCache) Clear() error {
	return c.store.ClearMetadataCache()
}

func (c *ResponseCache) recordHit(source string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit("response")
	}
	logger.Debug("response cache hit", "source", source)
}

func (c *ResponseCache) recordMiss(source string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss("response")
	}
}
