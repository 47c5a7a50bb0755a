package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func ConnectRedis(addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// Locker é o subconjunto do client usado pelo lock de varredura.
type Locker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// só apaga se o token ainda for nosso
var releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// TryLock tenta pegar key por ttl. Devolve release quando conseguiu.
func TryLock(ctx context.Context, l Locker, key, token string, ttl time.Duration) (release func(context.Context), ok bool, err error) {
	ok, err = l.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, ok, err
	}
	return func(ctx context.Context) {
		_ = l.Eval(ctx, releaseScript, []string{key}, token).Err()
	}, true, nil
}
