// Package testutil holds shared test environments: in-process Redis and Postgres/Redis containers.
package testutil

import (
	"testing"

	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewMiniRedis starts an in-process Redis and returns a client wrapper bound to it.
// Both are closed when the test ends.
func NewMiniRedis(t testing.TB) (*repository.RedisDB, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := repository.NewRedisDB(client)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db, mr
}
