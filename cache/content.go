package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chainfeed/models"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ContentCache holds fetched post content keyed by content address.
// Content addressing makes the blobs immutable, so a hit never needs
// revalidation; the expiration only bounds memory.
type ContentCache struct {
	redisClient *redis.Client
	expiration  time.Duration
}

func NewContentCache(redisClient *redis.Client, expiration time.Duration) *ContentCache {
	return &ContentCache{
		redisClient: redisClient,
		expiration:  expiration,
	}
}

func (c *ContentCache) Get(address string) (bool, models.PostContent) {
	val, err := c.redisClient.Get(
		context.Background(),
		c.getRedisKey(address),
	).Result()
	if err != nil {
		return false, models.PostContent{}
	}

	var content models.PostContent
	if err := json.Unmarshal([]byte(val), &content); err != nil {
		log.Errorf("Error unmarshalling cached content: %s", err)
		return false, models.PostContent{}
	}
	return true, content
}

func (c *ContentCache) Set(address string, content models.PostContent) {
	bytes, err := json.Marshal(content)
	if err == nil {
		c.redisClient.Set(
			context.Background(),
			c.getRedisKey(address),
			bytes,
			c.expiration,
		)
	}
}

func (c *ContentCache) getRedisKey(address string) string {
	return fmt.Sprintf("content__%s", address)
}
