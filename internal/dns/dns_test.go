package dns

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNXDomain = errors.New("no such host")

// scripted answers lookups from a table keyed by server ("" is the system
// resolver) and counts the calls.
type scripted struct {
	mu      sync.Mutex
	answers map[string][]string
	// block, if set, holds these servers until the context ends.
	block map[string]bool
	calls map[string]int
	ended atomic.Int32
}

func (s *scripted) lookup(ctx context.Context, _ string, server string) ([]string, error) {
	s.mu.Lock()
	s.calls[server]++
	ips, ok := s.answers[server]
	blocked := s.block[server]
	s.mu.Unlock()

	if blocked {
		<-ctx.Done()
		s.ended.Add(1)
		return nil, ctx.Err()
	}
	if !ok {
		return nil, errNXDomain
	}
	return ips, nil
}

func (s *scripted) count(server string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[server]
}

func newScripted(answers map[string][]string) *scripted {
	return &scripted{answers: answers, block: map[string]bool{}, calls: map[string]int{}}
}

func newTestResolver(servers []string, s *scripted) *Resolver {
	r := NewResolver(Options{Servers: servers, Logger: zerolog.Nop()})
	r.lookup = s.lookup
	return r
}

func TestLookupIPLiteral(t *testing.T) {
	s := newScripted(nil)
	r := newTestResolver(nil, s)
	for _, addr := range []string{"127.0.0.1", "::1", "10.1.2.3"} {
		ip, err := r.Lookup(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, addr, ip)
	}
	assert.Zero(t, s.count(""))
}

func TestLookupPrefersIPv4AndCaches(t *testing.T) {
	s := newScripted(map[string][]string{"": {"2001:db8::1", "192.0.2.10"}})
	r := newTestResolver([]string{"9.9.9.9"}, s)

	for i := 0; i < 3; i++ {
		ip, err := r.Lookup(context.Background(), "relay.example.com")
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.10", ip)
	}
	assert.Equal(t, 1, s.count(""))
	assert.Zero(t, s.count("9.9.9.9:53"))
}

func TestLookupCacheExpires(t *testing.T) {
	s := newScripted(map[string][]string{"": {"192.0.2.10"}})
	r := newTestResolver(nil, s)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	_, err := r.Lookup(context.Background(), "relay.example.com")
	require.NoError(t, err)
	now = now.Add(DefaultTTL)
	_, err = r.Lookup(context.Background(), "relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, s.count(""))

	r.Forget("relay.example.com")
	_, err = r.Lookup(context.Background(), "relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, s.count(""))
}

func TestLookupFallsBackToConfiguredServers(t *testing.T) {
	s := newScripted(map[string][]string{
		"192.0.2.53:53": {"198.51.100.7"},
	})
	r := newTestResolver([]string{"192.0.2.1", "192.0.2.53"}, s)

	ip, err := r.Lookup(context.Background(), "relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", ip)
	assert.Equal(t, 1, s.count(""))
	assert.Equal(t, 1, s.count("192.0.2.53:53"))
	assert.Eventually(t, func() bool { return s.count("192.0.2.1:53") == 1 }, time.Second, 10*time.Millisecond)
}

func TestLookupRaceCancelsSlowServers(t *testing.T) {
	s := newScripted(map[string][]string{"192.0.2.53:53": {"198.51.100.7"}})
	s.block["192.0.2.1:53"] = true
	s.block["192.0.2.2:53"] = true
	r := newTestResolver([]string{"192.0.2.1", "192.0.2.2", "192.0.2.53"}, s)

	ip, err := r.Lookup(context.Background(), "relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", ip)
	assert.Eventually(t, func() bool { return s.ended.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestLookupAllServersFail(t *testing.T) {
	s := newScripted(nil)
	r := newTestResolver([]string{"192.0.2.1", "192.0.2.2"}, s)

	_, err := r.Lookup(context.Background(), "relay.example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, errNXDomain)

	// Failures are not cached.
	_, _ = r.Lookup(context.Background(), "relay.example.com")
	assert.Equal(t, 2, s.count(""))
}

func TestLookupHonoursCallerContext(t *testing.T) {
	s := newScripted(nil)
	s.block["192.0.2.1:53"] = true
	r := newTestResolver([]string{"192.0.2.1"}, s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Lookup(ctx, "relay.example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLookupSharesConcurrentQueries(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	r := NewResolver(Options{Logger: zerolog.Nop()})
	r.lookup = func(context.Context, string, string) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"192.0.2.10"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ip, err := r.Lookup(context.Background(), "relay.example.com")
			assert.NoError(t, err)
			assert.Equal(t, "192.0.2.10", ip)
		}()
	}
	// Let every goroutine reach the shared query before it answers.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())

	_, err := r.Lookup(context.Background(), "relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDialContextUsesResolvedAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	s := newScripted(map[string][]string{"": {"127.0.0.1"}})
	r := newTestResolver(nil, s)
	conn, err := r.DialContext(context.Background(), "tcp", net.JoinHostPort("relay.test", port))
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, 1, s.count(""))
}

func TestNormalizeServers(t *testing.T) {
	got := normalizeServers([]string{"1.1.1.1", " [2606:4700:4700::1111] ", "", "10.0.0.1:5353"})
	assert.Equal(t, []string{"1.1.1.1:53", "[2606:4700:4700::1111]:53", "10.0.0.1:5353"}, got)
}
