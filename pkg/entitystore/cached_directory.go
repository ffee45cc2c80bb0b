package entitystore

import (
	"context"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
	gocache "github.com/patrickmn/go-cache"
)

const defaultDirectoryTTL = time.Minute

// CachedDirectory memoizes successful directory lookups for a short TTL.
type CachedDirectory struct {
	next  protocol.Directory
	cache *gocache.Cache
}

func NewCachedDirectory(next protocol.Directory, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = defaultDirectoryTTL
	}

	return &CachedDirectory{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *CachedDirectory) User(ctx context.Context, id string) (*models.User, error) {
	return cached(c.cache, "user:"+id, func() (*models.User, error) {
		return c.next.User(ctx, id)
	})
}

func (c *CachedDirectory) UsersInDepartment(ctx context.Context, departmentID string) ([]*models.User, error) {
	return cached(c.cache, "members:"+departmentID, func() ([]*models.User, error) {
		return c.next.UsersInDepartment(ctx, departmentID)
	})
}

func (c *CachedDirectory) DepartmentManagers(ctx context.Context, departmentID string) ([]*models.User, error) {
	return cached(c.cache, "managers:"+departmentID, func() ([]*models.User, error) {
		return c.next.DepartmentManagers(ctx, departmentID)
	})
}

func (c *CachedDirectory) DepartmentByName(ctx context.Context, name string) (*models.Department, error) {
	return cached(c.cache, "department:"+name, func() (*models.Department, error) {
		return c.next.DepartmentByName(ctx, name)
	})
}

// Flush drops every cached lookup.
func (c *CachedDirectory) Flush() {
	c.cache.Flush()
}

func cached[T any](cache *gocache.Cache, key string, load func() (T, error)) (T, error) {
	if value, found := cache.Get(key); found {
		if typed, ok := value.(T); ok {
			return typed, nil
		}
	}

	value, err := load()
	if err != nil {
		return value, err
	}

	cache.SetDefault(key, value)

	return value, nil
}
