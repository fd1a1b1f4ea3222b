package cache

import (
	"flag"
	"fmt"
	"strings"

	"github.com/signalworks/sigflow/pkg/cache"
)

type Config struct {
	Caches []CacheConfig `yaml:"caches"`
}

type CacheConfig struct {
	Role            []cache.Role           `yaml:"roles"`
	MemcachedConfig *cache.MemcachedConfig `yaml:"memcached"`
	RedisConfig     *cache.RedisConfig     `yaml:"redis"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(_ string, _ *flag.FlagSet) {
}

// Name returns a unique name for the cache config composed of all its roles.
func (cfg *CacheConfig) Name() string {
	stringRoles := make([]string, len(cfg.Role))
	for i, role := range cfg.Role {
		stringRoles[i] = string(role)
	}
	return strings.Join(stringRoles, "|")
}

func (cfg *Config) Validate() error {
	claimedRoles := map[cache.Role]struct{}{}

	for _, cacheCfg := range cfg.Caches {
		if len(cacheCfg.Role) == 0 {
			return fmt.Errorf("configured caches require a valid role")
		}

		if cacheCfg.MemcachedConfig != nil && cacheCfg.RedisConfig != nil {
			return fmt.Errorf("cache config for role %v has both memcached and redis configs", cacheCfg.Role)
		}

		if cacheCfg.MemcachedConfig == nil && cacheCfg.RedisConfig == nil {
			return fmt.Errorf("cache config for role %v has neither memcached nor redis configs", cacheCfg.Role)
		}

		for _, role := range cacheCfg.Role {
			if role == cache.RoleNone || role != cache.RoleSegments {
				return fmt.Errorf("role %s is not a valid role", role)
			}

			if _, ok := claimedRoles[role]; ok {
				return fmt.Errorf("role %s is claimed by more than one cache", role)
			}

			claimedRoles[role] = struct{}{}
		}
	}

	return nil
}
