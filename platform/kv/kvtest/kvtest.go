// Package kvtest starts an in-process Redis for package tests.
package kvtest

import (
	"testing"

	"booking_sync_backend/platform/kv"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// Prefix is the keyspace prefix used by tests.
const Prefix = "test:"

// New starts miniredis and returns a connected client. Both are closed
// when the test ends.
func New(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

// Keys returns the keyspace matching Prefix.
func Keys() kv.Keyspace {
	return kv.NewKeyspace(Prefix)
}
