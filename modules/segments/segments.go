// Package segments interns 10-dimension segment tuples into the dense
// per-loader integer codes stored on every signal. The store is
// authoritative; a per-process LRU and an optional shared cache only
// short-circuit repeated resolutions.
package segments

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/signalworks/sigflow/pkg/cache"
	"github.com/signalworks/sigflow/sigdb"
)

// Store is the persistence slice the interner needs.
type Store interface {
	Lookup(ctx context.Context, loaderCode string, tuple sigdb.SegmentTuple) (int64, bool, error)
	Insert(ctx context.Context, loaderCode string, tuple sigdb.SegmentTuple) (int64, error)
}

// Interner resolves segment tuples to codes.
type Interner struct {
	cfg    Config
	store  Store
	local  *lru.Cache[string, int64]
	shared cache.Cache
	logger log.Logger

	backoff backoff.Config
}

// New builds an interner. shared may be nil; resolution then runs LRU and
// store only.
func New(cfg Config, store Store, shared cache.Cache, logger log.Logger) (*Interner, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid segments config: %w", err)
	}
	if !cfg.UseSharedCache {
		shared = nil
	}

	local, err := lru.New[string, int64](cfg.LRUSize)
	if err != nil {
		return nil, err
	}

	return &Interner{
		cfg:    cfg,
		store:  store,
		local:  local,
		shared: shared,
		logger: logger,
		backoff: backoff.Config{
			MinBackoff: 10 * time.Millisecond,
			MaxBackoff: 100 * time.Millisecond,
			MaxRetries: 5,
		},
	}, nil
}

// GetOrCreate returns the loader's code for the tuple, allocating the next
// one when the tuple is new. Nil dimensions compare equal to NULL. Safe for
// concurrent use across goroutines and replicas.
func (i *Interner) GetOrCreate(ctx context.Context, loaderCode string, tuple sigdb.SegmentTuple) (int64, error) {
	key := tupleKey(loaderCode, tuple)

	if code, ok := i.local.Get(key); ok {
		metricResolutions.WithLabelValues("lru").Inc()
		return code, nil
	}

	if code, ok := i.fetchShared(ctx, key); ok {
		metricResolutions.WithLabelValues("shared").Inc()
		i.local.Add(key, code)
		return code, nil
	}

	code, found, err := i.store.Lookup(ctx, loaderCode, tuple)
	if err != nil {
		return 0, err
	}
	if found {
		metricResolutions.WithLabelValues("store").Inc()
		i.remember(ctx, key, code)
		return code, nil
	}

	code, err = i.allocate(ctx, loaderCode, tuple)
	if err != nil {
		return 0, err
	}
	i.remember(ctx, key, code)
	return code, nil
}

// allocate inserts a new tuple, retrying when a sibling replica wins either
// the code or the tuple race. The retry re-reads first: losing the tuple
// race means the code now exists.
func (i *Interner) allocate(ctx context.Context, loaderCode string, tuple sigdb.SegmentTuple) (int64, error) {
	bo := backoff.New(ctx, i.backoff)

	for bo.Ongoing() {
		code, err := i.store.Insert(ctx, loaderCode, tuple)
		if err == nil {
			metricAllocations.WithLabelValues(loaderCode).Inc()
			return code, nil
		}
		if !errors.Is(err, sigdb.ErrSegmentConflict) {
			return 0, err
		}

		metricConflicts.Inc()
		level.Debug(i.logger).Log("msg", "segment allocation conflict, retrying", "loader", loaderCode)

		code, found, err := i.store.Lookup(ctx, loaderCode, tuple)
		if err != nil {
			return 0, err
		}
		if found {
			return code, nil
		}

		bo.Wait()
	}
	return 0, errors.Wrapf(bo.Err(), "allocating segment code for loader %s", loaderCode)
}

func (i *Interner) fetchShared(ctx context.Context, key string) (int64, bool) {
	if i.shared == nil {
		return 0, false
	}

	buf, found := i.shared.FetchKey(ctx, key)
	if !found {
		return 0, false
	}
	code, err := strconv.ParseInt(string(buf), 10, 64)
	if err != nil {
		level.Warn(i.logger).Log("msg", "discarding malformed cached segment code", "key", key, "err", err)
		return 0, false
	}
	return code, true
}

// remember write-through caches a code the store resolved or allocated.
// Only store-confirmed codes ever enter a cache.
func (i *Interner) remember(ctx context.Context, key string, code int64) {
	i.local.Add(key, code)
	if i.shared != nil {
		i.shared.Store(ctx, []string{key}, [][]byte{[]byte(strconv.FormatInt(code, 10))})
	}
}

// tupleKey builds the cache key. Nil and empty string must not collide, so
// every dimension is length-prefixed with nil encoded as length -1.
func tupleKey(loaderCode string, tuple sigdb.SegmentTuple) string {
	h := xxhash.New()
	_, _ = h.WriteString(loaderCode)

	var lenBuf [4]byte
	for _, v := range tuple {
		if v == nil {
			binary.LittleEndian.PutUint32(lenBuf[:], ^uint32(0))
			_, _ = h.Write(lenBuf[:])
			continue
		}
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(*v)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.WriteString(*v)
	}

	return fmt.Sprintf("segment/%s/%016x", loaderCode, h.Sum64())
}
