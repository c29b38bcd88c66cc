package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesSameHost(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		delays []string
	)
	l := New(Config{
		RPS:   10,
		Burst: 1,
		OnDelay: func(host string, _ time.Duration) {
			mu.Lock()
			delays = append(delays, host)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://Find.Example.org/doctors"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://find.example.org/results?page=2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"find.example.org"}, delays)
	require.Equal(t, 1, l.Hosts())
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example.com"))
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://x.example.com"))
	}

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://x.example.com"))
}

func TestHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Host("https://EXAMPLE.com:8443/path"))
	require.Equal(t, "unknown", Host("::not a url"))
	require.Equal(t, "unknown", Host(""))
}
