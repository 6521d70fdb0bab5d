package redis

import (
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/wolfeidau/sessiond/internal/store"
)

var errCorruptSession = errors.New("corrupt session record")

// Server replies that mean the node cannot serve requests right now.
var unavailablePrefixes = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "READONLY"}

// mapRedisError maps go-redis errors to store sentinel errors. Anything that is
// not a server reply (network, pool timeout, context) is treated as unavailable.
func mapRedisError(op string, err error) error {
	if err == nil {
		return nil
	}

	var replyErr goredis.Error
	if !errors.As(err, &replyErr) {
		return store.Unavailable(op, err)
	}

	msg := replyErr.Error()
	for _, prefix := range unavailablePrefixes {
		if strings.HasPrefix(msg, prefix) {
			return store.Unavailable(op, err)
		}
	}

	return fmt.Errorf("%s: redis error: %w", op, err)
}
