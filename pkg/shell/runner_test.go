package shell

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"zpool", "zpool"},
		{"/dev/disk/by-id/5000c500a1b2c3d4", "/dev/disk/by-id/5000c500a1b2c3d4"},
		{"draid2:8c:1s:5d", "draid2:8c:1s:5d"},
		{"", "''"},
		{"ls -1d /dev/sd*", "'ls -1d /dev/sd*'"},
		{"it's", `'it'"'"'s'`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Quote(tt.in))
		})
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "zpool offline bench /dev/disk/by-id/a", Join("zpool", "offline", "bench", "/dev/disk/by-id/a"))
	assert.Equal(t, "sh -c 'ls -1d /dev/sd*'", Join("sh", "-c", "ls -1d /dev/sd*"))
}

func TestLocalRunner(t *testing.T) {
	r := NewLocalRunner()
	ctx := context.Background()
	assert.Equal(t, "local", r.Target())

	t.Run("captures stdout", func(t *testing.T) {
		res, err := r.Run(ctx, "sh", "-c", "echo hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", res.Stdout)
		assert.Equal(t, 0, res.ExitCode)
	})

	t.Run("non-zero exit is a CommandError", func(t *testing.T) {
		res, err := r.Run(ctx, "sh", "-c", "echo oops >&2; exit 3")
		require.Error(t, err)
		ce, ok := utils.IsCommandError(err)
		require.True(t, ok)
		assert.Equal(t, 3, ce.ExitCode)
		assert.Equal(t, 3, res.ExitCode)
		assert.Contains(t, ce.Stderr, "oops")
	})

	t.Run("missing binary", func(t *testing.T) {
		_, err := r.Run(ctx, "definitely-not-a-real-binary-x9")
		assert.ErrorIs(t, err, utils.ErrToolNotFound)
	})

	t.Run("context cancel", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := r.Run(cctx, "sh", "-c", "sleep 5")
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	})
}

func TestMockRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("latest matching route wins", func(t *testing.T) {
		m := NewMockRunner().
			Respond("zpool", MockResponse{Stdout: "generic"}).
			Respond("zpool status", MockResponse{Stdout: "status"})

		res, err := m.Run(ctx, "zpool", "status", "bench")
		require.NoError(t, err)
		assert.Equal(t, "status", res.Stdout)

		res, err = m.Run(ctx, "zpool", "list")
		require.NoError(t, err)
		assert.Equal(t, "generic", res.Stdout)

		assert.Equal(t, []string{"zpool status bench", "zpool list"}, m.Commands())
		assert.Len(t, m.CallsMatching("zpool status"), 1)
	})

	t.Run("exit code becomes CommandError", func(t *testing.T) {
		m := NewMockRunner().Respond("zpool create", MockResponse{Stderr: "invalid vdev", ExitCode: 1})
		_, err := m.Run(ctx, "zpool", "create", "bench")
		assert.ErrorIs(t, err, utils.ErrCommandFailed)
	})

	t.Run("sequence repeats last", func(t *testing.T) {
		m := NewMockRunner().RespondSequence("x", MockResponse{Stdout: "1"}, MockResponse{Stdout: "2"})
		var got []string
		for i := 0; i < 3; i++ {
			res, err := m.Run(ctx, "x")
			require.NoError(t, err)
			got = append(got, res.Stdout)
		}
		assert.Equal(t, []string{"1", "2", "2"}, got)
	})

	t.Run("unscripted command errors", func(t *testing.T) {
		_, err := NewMockRunner().Run(ctx, "zpool", "scrub", "bench")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no response scripted")
	})
}

func TestBreakerRunner(t *testing.T) {
	ctx := context.Background()
	transport := errors.New("connection refused")

	t.Run("opens after consecutive transport failures", func(t *testing.T) {
		m := NewMockRunner().Respond("zpool", MockResponse{Err: transport})
		b := NewBreakerRunner(m, WithFailureThreshold(2), WithBreakerTimeout(time.Hour))

		for i := 0; i < 2; i++ {
			_, err := b.Run(ctx, "zpool", "status", "bench")
			assert.ErrorIs(t, err, transport)
		}
		assert.Equal(t, "open", b.State())

		_, err := b.Run(ctx, "zpool", "status", "bench")
		assert.ErrorIs(t, err, utils.ErrCircuitOpen)
		assert.Len(t, m.Calls(), 2, "open circuit must not reach the host")
	})

	t.Run("command failures keep the circuit closed", func(t *testing.T) {
		m := NewMockRunner().Respond("zpool", MockResponse{ExitCode: 1, Stderr: "no such pool"})
		b := NewBreakerRunner(m, WithFailureThreshold(2))

		for i := 0; i < 5; i++ {
			_, err := b.Run(ctx, "zpool", "destroy", "bench")
			assert.ErrorIs(t, err, utils.ErrCommandFailed)
		}
		assert.Equal(t, "closed", b.State())
		assert.Len(t, m.Calls(), 5)
	})

	t.Run("passes results through", func(t *testing.T) {
		m := NewMockRunner().Respond("zpool", MockResponse{Stdout: "ok"})
		b := NewBreakerRunner(m)
		res, err := b.Run(ctx, "zpool", "list")
		require.NoError(t, err)
		assert.Equal(t, "ok", res.Stdout)
		assert.Equal(t, "mock", b.Target())
	})
}
