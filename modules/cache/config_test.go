package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalworks/sigflow/pkg/cache"
)

func TestConfigValidation(t *testing.T) {
	tcs := []struct {
		name     string
		cfg      *Config
		expected error
	}{
		{
			name: "no caching is valid",
			cfg:  &Config{},
		},
		{
			name: "valid config",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role:        []cache.Role{cache.RoleSegments},
						RedisConfig: &cache.RedisConfig{},
					},
				},
			},
		},
		{
			name: "invalid - duplicate roles",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role:            []cache.Role{cache.RoleSegments},
						MemcachedConfig: &cache.MemcachedConfig{},
					},
					{
						Role:        []cache.Role{cache.RoleSegments},
						RedisConfig: &cache.RedisConfig{},
					},
				},
			},
			expected: errors.New("role segment-combination is claimed by more than one cache"),
		},
		{
			name: "invalid - no roles",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						MemcachedConfig: &cache.MemcachedConfig{},
					},
				},
			},
			expected: errors.New("configured caches require a valid role"),
		},
		{
			name: "invalid - none",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role:            []cache.Role{cache.RoleNone},
						MemcachedConfig: &cache.MemcachedConfig{},
					},
				},
			},
			expected: errors.New("role none is not a valid role"),
		},
		{
			name: "invalid - both caches configged",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role:            []cache.Role{cache.RoleSegments},
						MemcachedConfig: &cache.MemcachedConfig{},
						RedisConfig:     &cache.RedisConfig{},
					},
				},
			},
			expected: errors.New("cache config for role [segment-combination] has both memcached and redis configs"),
		},
		{
			name: "invalid - no caches configged",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role: []cache.Role{cache.RoleSegments},
					},
				},
			},
			expected: errors.New("cache config for role [segment-combination] has neither memcached nor redis configs"),
		},
		{
			name: "invalid - non-existent role",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role:            []cache.Role{cache.Role("foo")},
						MemcachedConfig: &cache.MemcachedConfig{},
					},
				},
			},
			expected: errors.New("role foo is not a valid role"),
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			require.Equal(t, tc.expected, err)
		})
	}
}

func TestCacheConfigName(t *testing.T) {
	tcs := []struct {
		cfg      *CacheConfig
		expected string
	}{
		{
			cfg: &CacheConfig{
				Role: []cache.Role{cache.RoleSegments},
			},
			expected: "segment-combination",
		},
		{
			cfg:      &CacheConfig{},
			expected: "",
		},
	}

	for _, tc := range tcs {
		actual := tc.cfg.Name()
		require.Equal(t, tc.expected, actual)
	}
}
