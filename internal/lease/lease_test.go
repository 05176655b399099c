package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	perr "leasesync/internal/errors"
)

// fakeRedis keeps one key in memory
type fakeRedis struct {
	vals map[string]string
	ttl  time.Duration
	err  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, exp time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.vals[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.vals[key] = value.(string)
	f.ttl = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	if f.vals[keys[0]] == args[0].(string) {
		delete(f.vals, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	r := &fakeRedis{vals: map[string]string{}}

	first, err := Acquire(ctx, r, "leasesync:run", time.Hour)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if r.ttl != time.Hour {
		t.Fatalf("ttl = %v", r.ttl)
	}

	_, err = Acquire(ctx, r, "leasesync:run", time.Hour)
	if !errors.Is(err, ErrHeld) || !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("second Acquire should report ErrHeld, got %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := Acquire(ctx, r, "leasesync:run", time.Hour); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestReleaseLeavesForeignLease(t *testing.T) {
	ctx := context.Background()
	r := &fakeRedis{vals: map[string]string{}}

	l, err := Acquire(ctx, r, "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	// lease expired and another run took the key
	r.vals["k"] = "someone-else"

	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if r.vals["k"] != "someone-else" {
		t.Fatalf("released a lease held by another run")
	}
}

func TestAcquireReportsRedisErrors(t *testing.T) {
	r := &fakeRedis{vals: map[string]string{}, err: errors.New("dial tcp: refused")}
	_, err := Acquire(context.Background(), r, "k", time.Minute)
	if !perr.IsCode(err, perr.ErrorCodeUnavailable) || errors.Is(err, ErrHeld) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDialRejectsBadURL(t *testing.T) {
	_, err := Dial(context.Background(), "http://not-redis")
	if !perr.IsCode(err, perr.ErrorCodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
