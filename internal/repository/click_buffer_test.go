package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/SergeiKhy/shortlink-core/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickBuffer_AppendAndDrain(t *testing.T) {
	rdb, mr := testutil.NewMiniRedis(t)
	buffer := repository.NewClickBuffer(rdb)
	ctx := context.Background()

	unique, err := buffer.Append(ctx, []repository.BufferedClick{
		{URLID: "u1", IPAddress: "10.0.0.1", Payload: `{"n":1}`},
		{URLID: "u1", IPAddress: "10.0.0.1", Payload: `{"n":2}`},
		{URLID: "u1", IPAddress: "", Payload: `{"n":3}`},
		{URLID: "u2", IPAddress: "10.0.0.1", Payload: `{"n":4}`},
	}, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, true}, unique)

	pending, err := buffer.Pending(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)

	dirty, err := buffer.PopDirty(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, dirty)
	assert.False(t, mr.Exists("activeUrls"))

	drain, err := buffer.Drain(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, drain.Events)
	assert.Equal(t, int64(3), drain.Clicks)
	assert.Equal(t, int64(1), drain.Unique)

	assert.False(t, mr.Exists("clicks:u1"))
	assert.False(t, mr.Exists("clickCount:u1"))
	assert.False(t, mr.Exists("uniqueCount:u1"))

	pending, err = buffer.Pending(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestClickBuffer_DrainMissingCounters(t *testing.T) {
	rdb, _ := testutil.NewMiniRedis(t)
	buffer := repository.NewClickBuffer(rdb)

	drain, err := buffer.Drain(context.Background(), "nothing")

	require.NoError(t, err)
	assert.Empty(t, drain.Events)
	assert.Zero(t, drain.Clicks)
	assert.Zero(t, drain.Unique)
}

func TestClickBuffer_Restore(t *testing.T) {
	rdb, mr := testutil.NewMiniRedis(t)
	buffer := repository.NewClickBuffer(rdb)
	ctx := context.Background()

	_, err := buffer.Append(ctx, []repository.BufferedClick{
		{URLID: "u1", IPAddress: "10.0.0.1", Payload: "a"},
	}, time.Hour)
	require.NoError(t, err)
	_, err = buffer.PopDirty(ctx)
	require.NoError(t, err)

	drain, err := buffer.Drain(ctx, "u1")
	require.NoError(t, err)

	// новый клик пришёл, пока сброс был в процессе
	_, err = buffer.Append(ctx, []repository.BufferedClick{
		{URLID: "u1", IPAddress: "10.0.0.2", Payload: "b"},
	}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, buffer.Restore(ctx, drain))

	events, err := mr.List("clicks:u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, events)

	count, err := mr.Get("clickCount:u1")
	require.NoError(t, err)
	assert.Equal(t, "2", count)
	unique, err := mr.Get("uniqueCount:u1")
	require.NoError(t, err)
	assert.Equal(t, "2", unique)

	dirty, err := mr.Members("activeUrls")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, dirty)
}
