package wrapper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/savings-server/pkg/config"
	"github.com/stashfi/savings-server/pkg/config/memory"
)

func TestStringConfig(t *testing.T) {
	ctx := context.Background()
	override := memory.NewConfig(nil)
	conf := NewStringConfig(override, "fallback")

	assert.Equal(t, "fallback", conf.Get(ctx))

	override.SetValue("set")
	assert.Equal(t, "set", conf.Get(ctx))

	override.SetValue([]byte("bytes"))
	assert.Equal(t, "bytes", conf.Get(ctx))

	// Errors fall back to the last known value
	override.InduceErrors()
	assert.Equal(t, "bytes", conf.Get(ctx))

	override.StopInducingErrors()
	override.ClearValue()
	assert.Equal(t, "fallback", conf.Get(ctx))
}

func TestUint64Config(t *testing.T) {
	ctx := context.Background()
	override := memory.NewConfig(nil)
	conf := NewUint64Config(override, 42)

	assert.EqualValues(t, 42, conf.Get(ctx))

	override.SetValue(uint64(7))
	assert.EqualValues(t, 7, conf.Get(ctx))

	override.SetValue([]byte("100"))
	assert.EqualValues(t, 100, conf.Get(ctx))

	override.SetValue([]byte("not a number"))
	value, err := conf.GetSafe(ctx)
	require.Error(t, err)
	assert.EqualValues(t, 100, value)
}

func TestBoolConfig(t *testing.T) {
	ctx := context.Background()
	override := memory.NewConfig(nil)
	conf := NewBoolConfig(override, false)

	assert.False(t, conf.Get(ctx))

	override.SetValue(true)
	assert.True(t, conf.Get(ctx))

	override.SetValue([]byte("false"))
	assert.False(t, conf.Get(ctx))
}

func TestDurationConfig(t *testing.T) {
	ctx := context.Background()
	override := memory.NewConfig(nil)
	conf := NewDurationConfig(override, time.Second)

	assert.Equal(t, time.Second, conf.Get(ctx))

	override.SetValue([]byte("250ms"))
	assert.Equal(t, 250*time.Millisecond, conf.Get(ctx))
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	override := memory.NewConfig("set")
	conf := NewStringConfig(override, "fallback")

	require.Equal(t, "set", conf.Get(ctx))

	conf.Shutdown()
	_, err := conf.GetSafe(ctx)
	assert.Equal(t, config.ErrShutdown, err)
}
