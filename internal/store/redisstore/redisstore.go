// Package redisstore backs the cross-process lock and the account cache with Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"obgateway/internal/domain/account"
)

var errBusy = errors.New("lock busy")

// release deletes the key only if it still holds our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a Redis SET NX PX lock. The TTL bounds how long a crashed holder blocks others.
type Locker struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl, prefix: "obgw:lock:"}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	key = l.prefix + key
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0

	acquire := func() error {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "redis setnx"))
		}
		if !ok {
			return errBusy
		}
		return nil
	}
	if err := backoff.Retry(acquire, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return func() {
		// the caller's ctx may already be cancelled; release must still run
		if err := release.Run(context.Background(), l.rdb, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("lock release fail")
		}
	}, nil
}

// AccountCache stores account lists as JSON with a TTL.
type AccountCache struct {
	rdb    *redis.Client
	prefix string
}

func NewAccountCache(rdb *redis.Client) *AccountCache {
	return &AccountCache{rdb: rdb, prefix: "obgw:accounts:"}
}

func (c *AccountCache) GetAccounts(ctx context.Context, consentID string) ([]account.Account, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+consentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get accounts")
	}
	var accounts []account.Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, false, errors.Wrap(err, "decode cached accounts")
	}
	return accounts, true, nil
}

func (c *AccountCache) PutAccounts(ctx context.Context, consentID string, accounts []account.Account, ttl time.Duration) error {
	raw, err := json.Marshal(accounts)
	if err != nil {
		return errors.Wrap(err, "encode accounts")
	}
	return errors.Wrap(c.rdb.Set(ctx, c.prefix+consentID, raw, ttl).Err(), "redis set accounts")
}
