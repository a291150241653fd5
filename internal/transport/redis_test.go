package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisArgs(cfg RedisConfig) *redis.XReadGroupArgs {
	return &redis.XReadGroupArgs{
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Streams:  []string{cfg.Stream, ">"},
		Count:    cfg.Count,
		Block:    cfg.Block,
	}
}

func pendingArgs(cfg RedisConfig, cursor string) *redis.XReadGroupArgs {
	return &redis.XReadGroupArgs{
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Streams:  []string{cfg.Stream, cursor},
		Count:    cfg.Count,
		Block:    -1,
	}
}

func expectNoPending(mock redismock.ClientMock, cfg RedisConfig) {
	mock.ExpectXReadGroup(pendingArgs(cfg, "0")).SetVal([]redis.XStream{{Stream: cfg.Stream}})
}

func TestRedisStreamReadAndAck(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := RedisConfig{Stream: "kalshi.records", Group: "momentum", Consumer: "paper", Count: 10, Block: time.Second}
	r := NewRedisStream(zerolog.Nop(), db, cfg)
	ctx := context.Background()

	mock.ExpectXGroupCreateMkStream(cfg.Stream, cfg.Group, "$").SetVal("OK")
	expectNoPending(mock, cfg)
	mock.ExpectXReadGroup(redisArgs(cfg)).SetVal([]redis.XStream{{
		Stream: cfg.Stream,
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]interface{}{PayloadField: `{"type":"trade"}`}},
			{ID: "1-1", Values: map[string]interface{}{"other": "x"}},
		},
	}})
	mock.ExpectXAck(cfg.Stream, cfg.Group, "1-0").SetVal(1)
	mock.ExpectXAck(cfg.Stream, cfg.Group, "1-1").SetVal(1)

	require.NoError(t, r.EnsureGroup(ctx))
	batch, err := r.ReadBatch(ctx)
	require.NoError(t, err)
	require.Empty(t, batch)
	batch, err = r.ReadBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, `{"type":"trade"}`, string(batch[0].Payload))
	assert.Empty(t, batch[1].Payload)
	for _, d := range batch {
		require.NoError(t, d.Ack())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Redis expectations not met: %v", err)
	}
}

func TestRedisStreamExistingGroupAndEmptyRead(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := RedisConfig{Stream: "s", Group: "g", Consumer: "c"}
	r := NewRedisStream(zerolog.Nop(), db, cfg)
	ctx := context.Background()

	mock.ExpectXGroupCreateMkStream("s", "g", "$").SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))
	mock.ExpectXReadGroup(pendingArgs(r.cfg, "0")).RedisNil()
	mock.ExpectXReadGroup(redisArgs(r.cfg)).RedisNil()

	require.NoError(t, r.EnsureGroup(ctx))
	for i := 0; i < 2; i++ {
		batch, err := r.ReadBatch(ctx)
		require.NoError(t, err)
		assert.Empty(t, batch)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Redis expectations not met: %v", err)
	}
}

func TestRedisStreamGroupError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedisStream(zerolog.Nop(), db, RedisConfig{Stream: "s", Group: "g", Consumer: "c"})
	mock.ExpectXGroupCreateMkStream("s", "g", "$").SetErr(errors.New("WRONGTYPE"))
	assert.Error(t, r.Subscribe(context.Background(), make(chan Delivery)))
}

func TestRedisStreamRedeliversPendingBeforeNew(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := RedisConfig{Stream: "kalshi.records", Group: "momentum", Consumer: "paper", Count: 2, Block: time.Second}
	r := NewRedisStream(zerolog.Nop(), db, cfg)
	ctx := context.Background()

	// Two entries were delivered to this consumer before a crash and never acked.
	mock.ExpectXReadGroup(pendingArgs(cfg, "0")).SetVal([]redis.XStream{{
		Stream: cfg.Stream,
		Messages: []redis.XMessage{
			{ID: "3-0", Values: map[string]interface{}{PayloadField: "a"}},
			{ID: "3-1", Values: map[string]interface{}{PayloadField: "b"}},
		},
	}})
	mock.ExpectXReadGroup(pendingArgs(cfg, "3-1")).SetVal([]redis.XStream{{Stream: cfg.Stream}})
	mock.ExpectXReadGroup(redisArgs(cfg)).SetVal([]redis.XStream{{
		Stream:   cfg.Stream,
		Messages: []redis.XMessage{{ID: "4-0", Values: map[string]interface{}{PayloadField: "c"}}},
	}})
	mock.ExpectXAck(cfg.Stream, cfg.Group, "3-0").SetVal(1)

	var got []string
	var first []Delivery
	for i := 0; i < 3; i++ {
		batch, err := r.ReadBatch(ctx)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if i == 0 {
			first = batch
		}
		for _, d := range batch {
			got = append(got, string(d.Payload))
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Empty(t, r.cursor)
	require.NoError(t, first[0].Ack())
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Redis expectations not met: %v", err)
	}
}
