// Package lock guards ingestion so that only one tick runs at a time.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Locker hands out a single exclusive lease. TryAcquire never blocks: ok is
// false when someone else holds the lease.
type Locker interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// Local is an in-process lease
type Local struct {
	mu sync.Mutex
}

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{}
}

// TryAcquire implements Locker
func (l *Local) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, true, nil
}

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the key still holds our token
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lease shared by every replica pointing at the same Redis.
// The TTL bounds how long a crashed holder blocks the others; a live holder
// extends it every third of the TTL until it releases.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed locker
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, key: key, ttl: ttl}
}

// NewRedisClient connects to addr and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// TryAcquire implements Locker
func (r *Redis) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", r.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go r.keepAlive(token, stop, stopped)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-stopped
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil {
				logrus.WithField("key", r.key).Warnf("Failed to release lock: %v", err)
			}
		})
	}
	return release, true, nil
}

func (r *Redis) keepAlive(token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		held, err := extendScript.Run(ctx, r.client, []string{r.key}, token, r.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			logrus.WithField("key", r.key).Warnf("Failed to extend lock: %v", err)
		case held == 0:
			logrus.WithField("key", r.key).Error("Lock expired before it could be extended")
			return
		}
	}
}
