package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/recovery"
)

// fakeRedis implements the two commands the store uses.
type fakeRedis struct {
	redis.Cmdable
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	store := New(rdb, "", time.Hour)

	h := recovery.NewHistory()
	h.Record(core.KindElementNotFound, recovery.TreeRefresh, true)
	if err := store.Save(ctx, h.Snapshot()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if rdb.ttls[DefaultKey] != time.Hour {
		t.Errorf("Expected TTL to be passed through, got %v", rdb.ttls[DefaultKey])
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	state := snap[core.KindElementNotFound]
	if state.LastSuccess != recovery.TreeRefresh || state.Successes != 1 {
		t.Errorf("Unexpected loaded state %+v", state)
	}
}

func TestStore_LoadMissingKey(t *testing.T) {
	snap, err := New(newFakeRedis(), "custom", 0).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("Expected empty snapshot, got %v", snap)
	}
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")

	rdb := newFakeRedis()
	rdb.getErr = boom
	if _, err := New(rdb, "", 0).Load(ctx); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped get error, got %v", err)
	}

	rdb = newFakeRedis()
	rdb.data[DefaultKey] = "{not json"
	if _, err := New(rdb, "", 0).Load(ctx); err == nil {
		t.Error("Expected unmarshal error")
	}

	rdb = newFakeRedis()
	rdb.setErr = boom
	if err := New(rdb, "", 0).Save(ctx, recovery.Snapshot{}); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped set error, got %v", err)
	}
}

func TestConnect_BadURL(t *testing.T) {
	if _, _, err := Connect(context.Background(), Config{URL: "://nope"}); err == nil {
		t.Error("Expected parse error")
	}
}
