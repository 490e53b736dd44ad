package transfer

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultProbeCacheTTL  = 10 * time.Minute
	DefaultProbeCacheSize = 512
)

// CachingProber wraps a Client and memoizes positive existence probes for a
// TTL. Absent paths are never cached: a data root can appear between passes
// and must be noticed on the pass after it does. Present paths going away is
// caught by the mirror itself.
type CachingProber struct {
	Client
	cache *expirable.LRU[string, struct{}]
}

func NewCachingProber(inner Client, ttl time.Duration) *CachingProber {
	if ttl <= 0 {
		ttl = DefaultProbeCacheTTL
	}
	return &CachingProber{
		Client: inner,
		cache:  expirable.NewLRU[string, struct{}](DefaultProbeCacheSize, nil, ttl),
	}
}

func (p *CachingProber) Exists(ctx context.Context, remote string) (bool, error) {
	if _, ok := p.cache.Get(remote); ok {
		return true, nil
	}

	exists, err := p.Client.Exists(ctx, remote)
	if err != nil {
		return false, err
	}
	if exists {
		p.cache.Add(remote, struct{}{})
	}
	return exists, nil
}
