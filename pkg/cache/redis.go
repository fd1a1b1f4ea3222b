package cache

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"
	instr "github.com/grafana/dskit/instrument"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RedisConfig is config to make a Redis
type RedisConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	Timeout    time.Duration `yaml:"timeout"`
	Expiration time.Duration `yaml:"expiration"`
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet
func (cfg *RedisConfig) RegisterFlagsWithPrefix(prefix, description string, f *flag.FlagSet) {
	f.StringVar(&cfg.Endpoint, prefix+"redis.endpoint", "", description+"Redis Server endpoint to use for caching.")
	f.DurationVar(&cfg.Timeout, prefix+"redis.timeout", 500*time.Millisecond, description+"Maximum time to wait before giving up on redis requests.")
	f.DurationVar(&cfg.Expiration, prefix+"redis.expiration", 0, description+"How long keys stay in redis.")
}

// Redis caches values in a redis server.
type Redis struct {
	cfg             RedisConfig
	client          redis.UniversalClient
	name            string
	requestDuration *instr.HistogramCollector
	logger          log.Logger
}

// NewRedisClient dials the configured server.
func NewRedisClient(cfg RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Endpoint,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
}

// NewRedis makes a new Redis.
func NewRedis(cfg RedisConfig, client redis.UniversalClient, name string, reg prometheus.Registerer, logger log.Logger) *Redis {
	return &Redis{
		cfg:    cfg,
		client: client,
		name:   name,
		logger: logger,
		requestDuration: instr.NewHistogramCollector(
			promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
				Namespace:                       "sigflow",
				Name:                            "redis_request_duration_seconds",
				Help:                            "Total time spent in seconds doing redis requests.",
				Buckets:                         prometheus.ExponentialBuckets(0.000016, 4, 8),
				NativeHistogramBucketFactor:     1.1,
				NativeHistogramMaxBucketNumber:  100,
				NativeHistogramMinResetDuration: 1 * time.Hour,
				ConstLabels:                     prometheus.Labels{"name": name},
			}, []string{"method", "status_code"}),
		),
	}
}

func redisStatusCode(err error) string {
	if errors.Is(err, redis.Nil) {
		return "404"
	}
	if err != nil {
		return "500"
	}
	return "200"
}

// Fetch gets keys from the cache. The keys that are found must be in the order of the keys requested.
func (c *Redis) Fetch(ctx context.Context, keys []string) (found []string, bufs [][]byte, missed []string) {
	var values []interface{}
	err := measureRequest(ctx, "Redis.MGet", c.requestDuration, redisStatusCode, func(ctx context.Context) error {
		var err error
		values, err = c.client.MGet(ctx, keys...).Result()
		if err != nil {
			level.Error(c.logger).Log("msg", "failed to mget from redis", "name", c.name, "err", err)
		}
		return err
	})
	if err != nil {
		return nil, nil, keys
	}

	for i, key := range keys {
		val, ok := values[i].(string)
		if !ok {
			missed = append(missed, key)
			continue
		}
		found = append(found, key)
		bufs = append(bufs, []byte(val))
	}
	return
}

// FetchKey gets a single key from the cache
func (c *Redis) FetchKey(ctx context.Context, key string) (buf []byte, found bool) {
	err := measureRequest(ctx, "Redis.Get", c.requestDuration, redisStatusCode, func(ctx context.Context) error {
		var err error
		buf, err = c.client.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			level.Error(c.logger).Log("msg", "failed to get from redis", "name", c.name, "key", key, "err", err)
		}
		return err
	})
	if err != nil {
		return nil, false
	}
	return buf, true
}

// Store stores the keys in the cache.
func (c *Redis) Store(ctx context.Context, keys []string, bufs [][]byte) {
	err := measureRequest(ctx, "Redis.MSet", c.requestDuration, redisStatusCode, func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		for i := range keys {
			pipe.Set(ctx, keys[i], bufs[i], c.cfg.Expiration)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		level.Error(c.logger).Log("msg", "failed to mset to redis", "name", c.name, "err", err)
	}
}

func (c *Redis) Stop() {
	if err := c.client.Close(); err != nil {
		level.Error(c.logger).Log("msg", "error closing redis client", "name", c.name, "err", err)
	}
}

// MaxItemSize is unbounded for redis.
func (c *Redis) MaxItemSize() int {
	return 0
}
