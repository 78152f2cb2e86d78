package directory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/warp/leave-portal/leave"
)

// Cached decorates an OrgDirectory with a TTL cache for org placements.
// Concurrent misses for the same employee share one upstream call.
type Cached struct {
	leave.OrgDirectory

	ttl time.Duration
	now func() time.Time
	sf  *singleflight.Group

	mu      sync.RWMutex
	entries map[string]cachedOrg
}

type cachedOrg struct {
	info    leave.OrgInfo
	expires time.Time
}

func NewCached(upstream leave.OrgDirectory, ttl time.Duration) *Cached {
	return &Cached{
		OrgDirectory: upstream,
		ttl:          ttl,
		now:          time.Now,
		sf:           &singleflight.Group{},
		entries:      make(map[string]cachedOrg),
	}
}

func (c *Cached) GetOrgInfo(ctx context.Context, employeeID string) (leave.OrgInfo, error) {
	c.mu.RLock()
	e, ok := c.entries[employeeID]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		return e.info, nil
	}

	v, err, _ := c.sf.Do(employeeID, func() (any, error) {
		info, err := c.OrgDirectory.GetOrgInfo(ctx, employeeID)
		if err != nil {
			return leave.OrgInfo{}, err
		}
		c.mu.Lock()
		c.entries[employeeID] = cachedOrg{info: info, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return leave.OrgInfo{}, err
	}
	return v.(leave.OrgInfo), nil
}

// Invalidate drops a cached placement, e.g. after a transfer.
func (c *Cached) Invalidate(employeeID string) {
	c.mu.Lock()
	delete(c.entries, employeeID)
	c.mu.Unlock()
}
