package core

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mitchellh/hashstructure/v2"
	"golang.org/x/sync/singleflight"

	"github.com/squirrels-analytics/squirrels-sub000/core/internal/params"
)

// ResultCache is a TTL+LRU cache with single-flight admission: a burst of
// identical requests collapses into one computation, and failed computations
// are never cached.
type ResultCache[V any] struct {
	lru      *expirable.LRU[string, V]
	group    singleflight.Group
	disabled bool
}

func NewResultCache[V any](size int, ttl time.Duration, disabled bool) *ResultCache[V] {
	c := &ResultCache[V]{disabled: disabled}
	if !disabled {
		c.lru = expirable.NewLRU[string, V](size, nil, ttl)
	}
	return c
}

// GetOrCompute returns the cached value for key, or runs fn once for all
// concurrent callers of the same key and caches its success.
func (c *ResultCache[V]) GetOrCompute(key string, fn func() (V, error)) (V, error) {
	if c.disabled {
		return fn()
	}

	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	out, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return v, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return out.(V), nil
}

// Purge empties the cache; used on project reload.
func (c *ResultCache[V]) Purge() {
	if c.lru != nil {
		c.lru.Purge()
	}
}

// cacheKeyInput is the canonical identity of one cached computation. The
// selection tuple is normalized so list-valued selections hash order-free;
// pagination, orientation, and post-SQL are deliberately excluded.
type cacheKeyInput struct {
	EntityType    string
	EntityName    string
	Scope         string
	UserIdentity  string
	Names         []string
	Selections    []params.SelectionPair
	Configurables [][2]string
}

func cacheKey(in cacheKeyInput) (string, error) {
	h, err := hashstructure.Hash(in, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%x", in.EntityType, in.EntityName, h), nil
}
