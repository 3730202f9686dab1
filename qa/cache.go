package qa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultCacheTTL is how long answers stay cached.
const DefaultCacheTTL = 24 * time.Hour

// Cache is an optional Redis-backed answer cache. A nil *Cache is a
// no-op, and cache errors degrade to misses.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis at |url| (redis://...).
func NewCache(url string, ttl time.Duration) (*Cache, error) {
	var opts, err = redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func cacheKey(collection, queryType string, k int, question string) string {
	var sum = sha256.Sum256([]byte(collection + "\x00" + queryType + "\x00" + strconv.Itoa(k) + "\x00" + question))
	return "qa:answer:" + hex.EncodeToString(sum[:])
}

func (c *Cache) Get(ctx context.Context, key string) (Response, bool) {
	if c == nil {
		return Response{}, false
	}

	var raw, err = c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).Debug("answer cache read failed")
		}
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, false
	}
	return resp, true
}

func (c *Cache) Put(ctx context.Context, key string, resp Response) {
	if c == nil {
		return
	}

	var raw, err = json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.WithError(err).Debug("answer cache write failed")
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
