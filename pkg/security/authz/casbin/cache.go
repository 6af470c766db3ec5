package casbin

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the decision cache.
const DefaultCacheSize = 10000

// decisionCache holds Enforce results keyed by request. The owning Service
// serializes Purge against lookups, so a purged cache is never refilled with
// a decision computed against the old policy.
type decisionCache struct {
	entries *lru.Cache[string, bool]
}

func newDecisionCache(size int) (*decisionCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, bool](size)
	if err != nil {
		return nil, err
	}
	return &decisionCache{entries: entries}, nil
}

func cacheKey(sub, obj, act string) string {
	return strings.Join([]string{sub, obj, act}, "\x00")
}

func (c *decisionCache) get(key string) (allowed, ok bool) {
	return c.entries.Get(key)
}

func (c *decisionCache) add(key string, allowed bool) {
	c.entries.Add(key, allowed)
}

func (c *decisionCache) purge() {
	c.entries.Purge()
}

func (c *decisionCache) len() int {
	return c.entries.Len()
}
