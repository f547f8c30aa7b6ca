package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestKeyNamespacing(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	c := Wrap(rdb, "")
	assert.Equal(t, "ledgersync:lock:submit:GA", c.Key("lock", "submit:GA"))
	assert.Equal(t, "ledgersync", c.Key())

	c = Wrap(rdb, "staging")
	assert.Equal(t, "staging:view:session", c.Key("view", "session"))
}
