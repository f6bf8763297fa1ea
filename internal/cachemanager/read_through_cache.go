package cachemanager

import (
	"time"
)

// ReadThroughCache loads missing values through fn and stores them.
// Concurrent misses on the same key may both call fn; the last Set wins,
// which is harmless for values that are pure functions of their input.
type ReadThroughCache[K ~string, V any, I any] struct {
	cache CacheManager[K, V]
	fn    func(input I) (V, error)
}

func NewReadThroughCache[K ~string, V any, I any](
	cache CacheManager[K, V],
	fn func(input I) (V, error),
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache: cache,
		fn:    fn,
	}
}

// Get returns the cached value for key or loads it from input.
// Errors are never cached.
func (r *ReadThroughCache[K, V, I]) Get(key K, input I, ttl time.Duration) (V, error) {
	if value, ok := r.cache.Get(key); ok {
		return value, nil
	}
	return r.load(key, input, ttl)
}

// GetWithRefresh is Get, but a hit also extends the entry's ttl.
func (r *ReadThroughCache[K, V, I]) GetWithRefresh(key K, input I, ttl time.Duration) (V, error) {
	if value, ok := r.cache.GetWithRefresh(key, ttl); ok {
		return value, nil
	}
	return r.load(key, input, ttl)
}

func (r *ReadThroughCache[K, V, I]) load(key K, input I, ttl time.Duration) (V, error) {
	value, err := r.fn(input)
	if err != nil {
		return value, err
	}

	r.cache.Set(key, value, ttl)

	return value, nil
}
