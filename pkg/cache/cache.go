package cache

import (
	"context"

	instr "github.com/grafana/dskit/instrument"
	"github.com/grafana/dskit/services"
)

// Cache byte arrays by key.
type Cache interface {
	Store(ctx context.Context, keys []string, bufs [][]byte)
	// Fetch returns the found keys in request order, their values, and the
	// missed keys.
	Fetch(ctx context.Context, keys []string) (found []string, bufs [][]byte, missed []string)
	FetchKey(ctx context.Context, key string) (buf []byte, found bool)
	MaxItemSize() int
	Stop()
}

// Role describes the purpose a cache serves. A cache can serve several roles.
type Role string

const (
	// RoleNone is the zero value and not valid in config.
	RoleNone Role = "none"
	// RoleSegments caches resolved segment-combination codes.
	RoleSegments Role = "segment-combination"
)

// Provider is a service that hands out caches by role.
type Provider interface {
	services.Service

	CacheFor(role Role) Cache
	AddCache(role Role, c Cache) error
}

func measureRequest(ctx context.Context, method string, col instr.Collector, toStatusCode func(error) string, f func(context.Context) error) error {
	return instr.CollectedRequest(ctx, method, col, toStatusCode, f)
}
