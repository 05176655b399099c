// Package lease keeps two sync runs from overlapping, using a Redis key
// as a single-holder lock.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	perr "leasesync/internal/errors"
)

// ErrHeld is returned by Acquire when another run holds the lease
var ErrHeld = errors.New("run lease held by another process")

// releaseScript deletes the key only while it still carries our token
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Client is the subset of *redis.Client the lease uses
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Lease is a held run lock
type Lease struct {
	c     Client
	key   string
	token string
}

// Acquire takes key for ttl. The ttl bounds how long a crashed run can keep
// others out.
func Acquire(ctx context.Context, c Client, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "acquire run lease")
	}
	if !ok {
		return nil, perr.Wrap(ErrHeld, perr.ErrorCodeConflict, key)
	}
	return &Lease{c: c, key: key, token: token}, nil
}

// Token identifies this holder
func (l *Lease) Token() string { return l.token }

// Release drops the lease if it is still ours. Releasing an expired or
// stolen lease is not an error.
func (l *Lease) Release(ctx context.Context) error {
	if err := l.c.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "release run lease")
	}
	return nil
}

// Dial connects to url (redis://...) and pings it
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfig, "parse REDIS_URL")
	}
	c := redis.NewClient(opt)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pctx).Err(); err != nil {
		_ = c.Close()
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "ping redis")
	}
	return c, nil
}
