package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 5 * time.Minute

	localTimeout = 1 * time.Second
	raceTimeout  = 2 * time.Second
)

// PublicServers is the fallback list used when the config names none.
var PublicServers = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

var ErrNoAddress = errors.New("no IP addresses found")

// lookupFunc resolves host, through server when it is not empty.
type lookupFunc func(ctx context.Context, host, server string) ([]string, error)

type Options struct {
	// Servers are raced when the system resolver fails. Empty means
	// PublicServers.
	Servers []string
	// TTL bounds how long an answer is reused. Zero means DefaultTTL.
	TTL    time.Duration
	Logger zerolog.Logger
}

type entry struct {
	ip      string
	expires time.Time
}

// Resolver turns the relay host name into one address and remembers it, so
// the REST lookup and the websocket dial of one session share an answer.
type Resolver struct {
	servers []string
	ttl     time.Duration
	lookup  lookupFunc
	now     func() time.Time
	flight  singleflight.Group

	mu    sync.Mutex
	cache map[string]entry

	log zerolog.Logger
}

func NewResolver(opts Options) *Resolver {
	servers := opts.Servers
	if len(servers) == 0 {
		servers = PublicServers
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		servers: normalizeServers(servers),
		ttl:     ttl,
		lookup:  lookupHost,
		now:     time.Now,
		cache:   make(map[string]entry),
		log:     opts.Logger.With().Str("component", "dns").Logger(),
	}
}

// Lookup returns an address for host. IP literals are returned as is.
// Otherwise the system resolver is tried first and the fallback servers are
// raced if it fails. Concurrent lookups of one host share a single query.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	if ip, ok := r.cached(host); ok {
		return ip, nil
	}

	v, err, _ := r.flight.Do(host, func() (any, error) {
		ip, err := r.resolve(ctx, host)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[host] = entry{ip: ip, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return ip, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Forget drops the cached answer for host, e.g. after a dial to it failed.
func (r *Resolver) Forget(host string) {
	r.mu.Lock()
	delete(r.cache, host)
	r.mu.Unlock()
}

// DialContext resolves the host part of addr and dials the result. It fits
// http.Transport.DialContext and websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, net.JoinHostPort(ip, port))
	if err != nil {
		r.Forget(host)
		return nil, err
	}
	return conn, nil
}

func (r *Resolver) cached(host string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[host]
	if !ok {
		return "", false
	}
	if !r.now().Before(e.expires) {
		delete(r.cache, host)
		return "", false
	}
	return e.ip, true
}

func (r *Resolver) resolve(ctx context.Context, host string) (string, error) {
	localCtx, cancel := context.WithTimeout(ctx, localTimeout)
	ips, err := r.lookup(localCtx, host, "")
	cancel()
	var ip string
	if err == nil {
		ip, err = preferIPv4(ips)
	}
	if err == nil {
		return ip, nil
	}
	if len(r.servers) == 0 {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}

	r.log.Warn().Err(err).Str("host", host).Int("servers", len(r.servers)).Msg("system DNS lookup failed, racing fallback servers")
	return r.race(ctx, host)
}

// race queries every fallback server at once and returns the first answer.
// The rest are cancelled.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, raceTimeout)
	defer cancel()

	results := make(chan result, len(r.servers))
	for _, server := range r.servers {
		go func(server string) {
			ips, err := r.lookup(ctx, host, server)
			if err != nil {
				results <- result{err: err}
				return
			}
			ip, err := preferIPv4(ips)
			results <- result{ip: ip, err: err}
		}(server)
	}

	var lastErr error
	for range r.servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			lastErr = res.err
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: fallback race: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d fallback servers failed: %w", host, len(r.servers), lastErr)
}

// lookupHost uses the system configuration, or asks server directly when set.
func lookupHost(ctx context.Context, host, server string) ([]string, error) {
	res := &net.Resolver{}
	if server != "" {
		res = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, server)
			},
		}
	}
	return res.LookupHost(ctx, host)
}

func preferIPv4(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", ErrNoAddress
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

// normalizeServers adds port 53 to entries that carry no port.
func normalizeServers(servers []string) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, net.JoinHostPort(strings.Trim(s, "[]"), "53"))
	}
	return out
}
