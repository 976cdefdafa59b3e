package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-crm/internal/listctl"
)

const cacheVersionPrefix = "crm:ver:"

// CachedPort caches list pages in Redis under a per-tenant version that every
// mutation bumps. Concurrent identical page fetches share one upstream call.
// Redis failures degrade to direct reads.
type CachedPort struct {
	next   OpportunityPort
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

var _ OpportunityPort = (*CachedPort)(nil)

// NewCachedPort decorates next. A nil client disables caching.
func NewCachedPort(next OpportunityPort, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedPort {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedPort{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *CachedPort) FindAll(ctx context.Context, tenantID string, req listctl.PageRequest) (listctl.Page[Opportunity], error) {
	if c.client == nil {
		return c.next.FindAll(ctx, tenantID, req)
	}
	ver, err := c.version(ctx, tenantID)
	if err != nil {
		c.logger.Warn("crm cache version", slog.String("tenant", tenantID), slog.Any("error", err))
		return c.next.FindAll(ctx, tenantID, req)
	}
	key := fmt.Sprintf("crm:opps:%s:v%d:p%d:s%d", tenantID, ver, req.Page, req.PageSize)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var page listctl.Page[Opportunity]
		if err := json.Unmarshal(raw, &page); err == nil {
			return page, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("crm cache read", slog.String("key", key), slog.Any("error", err))
	}

	// Shared fetches ignore the cancellation of whichever caller started them.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		page, err := c.next.FindAll(flightCtx, tenantID, req)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(page); err == nil {
			if err := c.client.Set(flightCtx, key, raw, c.ttl).Err(); err != nil {
				c.logger.Warn("crm cache write", slog.String("key", key), slog.Any("error", err))
			}
		}
		return page, nil
	})
	select {
	case <-ctx.Done():
		return listctl.Page[Opportunity]{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return listctl.Page[Opportunity]{}, res.Err
		}
		return res.Val.(listctl.Page[Opportunity]), nil
	}
}

func (c *CachedPort) FindByID(ctx context.Context, tenantID, id string) (Opportunity, bool, error) {
	return c.next.FindByID(ctx, tenantID, id)
}

func (c *CachedPort) Create(ctx context.Context, tenantID string, data CreateOpportunityRequest) (Opportunity, error) {
	created, err := c.next.Create(ctx, tenantID, data)
	if err != nil {
		return created, err
	}
	c.bump(ctx, tenantID)
	return created, nil
}

func (c *CachedPort) Update(ctx context.Context, tenantID, id string, patch UpdateOpportunityRequest) (Opportunity, error) {
	updated, err := c.next.Update(ctx, tenantID, id, patch)
	if err != nil {
		return updated, err
	}
	c.bump(ctx, tenantID)
	return updated, nil
}

func (c *CachedPort) Delete(ctx context.Context, tenantID, id string) error {
	if err := c.next.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	c.bump(ctx, tenantID)
	return nil
}

// Invalidate drops every cached page of tenantID.
func (c *CachedPort) Invalidate(ctx context.Context, tenantID string) {
	c.bump(ctx, tenantID)
}

func (c *CachedPort) version(ctx context.Context, tenantID string) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionPrefix+tenantID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

func (c *CachedPort) bump(ctx context.Context, tenantID string) {
	if c.client == nil || tenantID == "" {
		return
	}
	if err := c.client.Incr(ctx, cacheVersionPrefix+tenantID).Err(); err != nil {
		c.logger.Warn("crm cache bump", slog.String("tenant", tenantID), slog.Any("error", err))
	}
}
