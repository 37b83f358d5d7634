package lock

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/notesync/internal/errors"
)

// Locker guards an index against concurrent sync runs.
type Locker interface {
	Acquire(ctx context.Context) error
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Key returns the redis key of the sync lock for an index.
func Key(prefix, index string) string {
	return fmt.Sprintf("%s:lock:%s", prefix, index)
}

// Compile-time interface compliance check.
var _ Locker = (*Redis)(nil)

// Only the owner may extend or delete the lock.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// Redis is a SETNX lock with a TTL, owned by a random instance id.
type Redis struct {
	log    logrus.FieldLogger
	client *redis.Client
	key    string
	ttl    time.Duration
	id     string
}

// NewRedis creates a lock. Nothing is written until Acquire.
func NewRedis(log logrus.FieldLogger, client *redis.Client, key string, ttl time.Duration) *Redis {
	id := uuid.New().String()
	return &Redis{
		log:    log.WithFields(logrus.Fields{"component": "lock", "instance_id": id}),
		client: client,
		key:    key,
		ttl:    ttl,
		id:     id,
	}
}

// ID returns the owner id written into the lock.
func (r *Redis) ID() string {
	return r.id
}

// Acquire takes the lock or returns a LOCKED error naming the current holder.
func (r *Redis) Acquire(ctx context.Context) error {
	acquired, err := r.client.SetNX(ctx, r.key, r.id, r.ttl).Result()
	if err != nil {
		return errors.NewCheckpointFailure("acquire lock", err)
	}

	if !acquired {
		holder, err := r.client.Get(ctx, r.key).Result()
		if err != nil && !stderrors.Is(err, redis.Nil) {
			return errors.NewCheckpointFailure("read lock holder", err)
		}
		return errors.NewLocked(r.key, holder)
	}

	r.log.WithField("key", r.key).Info("Acquired sync lock")
	return nil
}

// Refresh extends the TTL. It fails with LOCKED when the lock expired or
// was taken by another instance.
func (r *Redis) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, r.client, []string{r.key}, r.id, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return errors.NewCheckpointFailure("refresh lock", err)
	}
	if n == 0 {
		holder, _ := r.client.Get(ctx, r.key).Result()
		return errors.NewLocked(r.key, holder)
	}

	r.log.Debug("Refreshed sync lock")
	return nil
}

// Release deletes the lock if this instance still owns it.
func (r *Redis) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key}, r.id).Int64()
	if err != nil {
		return errors.NewCheckpointFailure("release lock", err)
	}
	if n == 0 {
		r.log.Warn("Sync lock was no longer held at release")
		return nil
	}

	r.log.Info("Released sync lock")
	return nil
}
