package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chainfeed/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ProfilesCache holds ledger profiles by account with a short expiration.
// Profiles are mutable on the ledger, so stale entries age out quickly.
// Viewer state is never cached here or anywhere else.
type ProfilesCache struct {
	redisClient *redis.Client
	expiration  time.Duration
}

func NewProfilesCache(redisClient *redis.Client, expiration time.Duration) *ProfilesCache {
	return &ProfilesCache{
		redisClient: redisClient,
		expiration:  expiration,
	}
}

func (c *ProfilesCache) Get(account common.Address) (bool, models.Profile) {
	val, err := c.redisClient.Get(
		context.Background(),
		c.getRedisKey(account),
	).Result()
	if err != nil {
		return false, models.Profile{}
	}

	var profile models.Profile
	if err := json.Unmarshal([]byte(val), &profile); err != nil {
		log.Errorf("Error unmarshalling cached profile: %s", err)
		return false, models.Profile{}
	}
	return true, profile
}

func (c *ProfilesCache) Set(profile models.Profile) {
	bytes, err := json.Marshal(profile)
	if err == nil {
		c.redisClient.Set(
			context.Background(),
			c.getRedisKey(profile.Account),
			bytes,
			c.expiration,
		)
	}
}

// Invalidate drops a profile after its owner mutates it on the ledger.
func (c *ProfilesCache) Invalidate(account common.Address) {
	c.redisClient.Del(context.Background(), c.getRedisKey(account))
}

func (c *ProfilesCache) getRedisKey(account common.Address) string {
	return fmt.Sprintf("profile__%s", account.Hex())
}
