package sandbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chive/pluginrt/pkg/governor"
)

type fakeProcess struct {
	kills atomic.Int32
}

func (p *fakeProcess) Kill() { p.kills.Add(1) }

func TestHostSandbox_Invoke(t *testing.T) {
	t.Run("returns the invocation result", func(t *testing.T) {
		sb := NewHostSandbox("pub.chive.plugin.a", governor.Limits{}, nil, zerolog.Nop())

		require.NoError(t, sb.Invoke(context.Background(), func(context.Context) error { return nil }))

		want := errors.New("failed")
		assert.ErrorIs(t, sb.Invoke(context.Background(), func(context.Context) error { return want }), want)
	})

	t.Run("times out slow invocations", func(t *testing.T) {
		sb := NewHostSandbox("pub.chive.plugin.a", governor.Limits{MaxExecutionTimeMs: 20}, nil, zerolog.Nop())

		start := time.Now()
		err := sb.Invoke(context.Background(), func(ctx context.Context) error {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return nil
		})

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrExecutionTimeout))
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("timeout fails only that invocation", func(t *testing.T) {
		sb := NewHostSandbox("pub.chive.plugin.a", governor.Limits{MaxExecutionTimeMs: 20}, nil, zerolog.Nop())

		err := sb.Invoke(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return nil
		})
		require.ErrorIs(t, err, ErrExecutionTimeout)

		assert.NoError(t, sb.Invoke(context.Background(), func(context.Context) error { return nil }))
	})

	t.Run("caller cancellation is not a timeout", func(t *testing.T) {
		sb := NewHostSandbox("pub.chive.plugin.a", governor.Limits{MaxExecutionTimeMs: 1000}, nil, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := sb.Invoke(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrExecutionTimeout))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("recovers panics", func(t *testing.T) {
		sb := NewHostSandbox("pub.chive.plugin.a", governor.Limits{}, nil, zerolog.Nop())

		err := sb.Invoke(context.Background(), func(context.Context) error {
			panic("kaboom")
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPanicked)
		assert.Contains(t, err.Error(), "kaboom")
	})
}

func TestHostSandbox_Dispose(t *testing.T) {
	proc := &fakeProcess{}
	sb := NewHostSandbox("pub.chive.plugin.a", governor.DefaultLimits(), proc, zerolog.Nop())

	require.NoError(t, sb.Dispose(context.Background()))
	require.NoError(t, sb.Dispose(context.Background()))

	assert.True(t, sb.IsDisposed())
	assert.Equal(t, int32(1), proc.kills.Load())

	err := sb.Invoke(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrSandboxDisposed)

	assert.Equal(t, "pub.chive.plugin.a", sb.PluginID())
	assert.Equal(t, governor.DefaultLimits(), sb.Limits())
}
