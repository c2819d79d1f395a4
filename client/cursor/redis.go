package cursor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const cursorKey = "cursor:%s"

// RedisStore shares cursors between consumer instances.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(addr string) RedisStore {
	return RedisStore{
		rdb: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

func (r *RedisStore) Set(source string, cursor int64) {
	key := fmt.Sprintf(cursorKey, source)
	r.rdb.Set(context.Background(), key, cursor, 0)
}

func (r *RedisStore) Get(source string) (cursor int64) {
	key := fmt.Sprintf(cursorKey, source)
	val, err := r.rdb.Get(context.Background(), key).Result()
	if err != nil {
		return 0
	}
	cursor, err = strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return cursor
}
