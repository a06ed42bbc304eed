package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"gopkg.in/yaml.v3"
)

// Default configuration values (production)
const (
	DefaultRelayHost         = "localhost:4000"
	DefaultSTUN              = "stun:stun.l.google.com:19302"
	DefaultDisconnectTimeout = 15 * time.Second
)

// Config holds application configuration
type Config struct {
	// RelayHost is the relay server host[:port]
	RelayHost string
	// Insecure selects ws/http instead of wss/https
	Insecure bool

	// WebSocketURL and APIURL are constructed from RelayHost
	WebSocketURL string
	APIURL       string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	DisplayName       string
	DisconnectTimeout time.Duration

	// DNSServers are raced when the system resolver cannot find the relay.
	// Empty means the built-in public list.
	DNSServers []string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile string

	RelayHost  string
	Insecure   bool
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	DisplayName       string
	DisconnectTimeout time.Duration
	DNSServers        []string
}

// fileConfig is the YAML layout of --config.
type fileConfig struct {
	RelayHost         string   `yaml:"relay_host"`
	Insecure          *bool    `yaml:"insecure"`
	STUNServer        string   `yaml:"stun_server"`
	TURNServer        string   `yaml:"turn_server"`
	TURNUser          string   `yaml:"turn_username"`
	TURNPass          string   `yaml:"turn_password"`
	ForceRelay        *bool    `yaml:"force_relay"`
	DisplayName       string   `yaml:"display_name"`
	DisconnectTimeout string   `yaml:"disconnect_timeout"`
	DNSServers        []string `yaml:"dns_servers"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML config file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	var file fileConfig
	path := first(opts.ConfigFile, os.Getenv("MESHCALL_CONFIG"))
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	insecure, err := boolSetting(opts.Insecure, "RELAY_INSECURE", file.Insecure)
	if err != nil {
		return nil, err
	}
	forceRelay, err := boolSetting(opts.ForceRelay, "FORCE_RELAY", file.ForceRelay)
	if err != nil {
		return nil, err
	}

	timeout := opts.DisconnectTimeout
	if timeout == 0 {
		if s := first(os.Getenv("DISCONNECT_TIMEOUT"), file.DisconnectTimeout); s != "" {
			timeout, err = time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("invalid disconnect timeout %q: %w", s, err)
			}
		}
	}
	if timeout <= 0 {
		timeout = DefaultDisconnectTimeout
	}

	host := first(opts.RelayHost, os.Getenv("RELAY_HOST"), file.RelayHost, DefaultRelayHost)
	host = strings.TrimSuffix(host, "/")
	if strings.Contains(host, "://") {
		return nil, fmt.Errorf("relay host %q must not include a scheme", host)
	}

	cfg := &Config{
		RelayHost:         host,
		Insecure:          insecure || isLoopback(host),
		STUNServer:        first(opts.STUNServer, os.Getenv("STUN_SERVER"), file.STUNServer, DefaultSTUN),
		TURNServer:        first(opts.TURNServer, os.Getenv("TURN_SERVER"), file.TURNServer),
		TURNUser:          first(opts.TURNUser, os.Getenv("TURN_USERNAME"), file.TURNUser),
		TURNPass:          first(opts.TURNPass, os.Getenv("TURN_PASSWORD"), file.TURNPass),
		ForceRelay:        forceRelay,
		DisplayName:       first(opts.DisplayName, os.Getenv("DISPLAY_NAME"), file.DisplayName),
		DisconnectTimeout: timeout,
		DNSServers:        dnsServers(opts.DNSServers, os.Getenv("DNS_SERVERS"), file.DNSServers),
	}

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, errors.New("force relay requires a TURN server")
	}

	wsScheme, httpScheme := "wss", "https"
	if cfg.Insecure {
		wsScheme, httpScheme = "ws", "http"
	}
	cfg.WebSocketURL = fmt.Sprintf("%s://%s/ws", wsScheme, host)
	cfg.APIURL = fmt.Sprintf("%s://%s", httpScheme, host)

	return cfg, nil
}

// RoomLink returns the shareable URL for a room ID
func (c *Config) RoomLink(roomID string) string {
	return fmt.Sprintf("%s/r/%s", c.APIURL, roomID)
}

// STUNServers returns STUN server URLs as strings
func (c *Config) STUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// TURNServers returns TURN server URLs if configured
func (c *Config) TURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	// A full URL is used as given.
	if strings.ContainsAny(c.TURNServer, "?") || strings.Count(c.TURNServer, ":") > 1 {
		return []string{c.TURNServer}
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turns:"), "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// ICEServers builds the server list handed to every peer engine.
func (c *Config) ICEServers() []mesh.ICEServer {
	var servers []mesh.ICEServer
	if stun := c.STUNServers(); len(stun) > 0 && !c.ForceRelay {
		servers = append(servers, mesh.ICEServer{URLs: stun})
	}
	if turn := c.TURNServers(); len(turn) > 0 {
		servers = append(servers, mesh.ICEServer{
			URLs:       turn,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// dnsServers picks the first non-empty of flag, comma-separated env and file.
func dnsServers(flag []string, env string, file []string) []string {
	if len(flag) > 0 {
		return flag
	}
	if env != "" {
		var out []string
		for _, s := range strings.Split(env, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return file
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolSetting resolves a flag that can only be switched on from the command line.
func boolSetting(flag bool, env string, file *bool) (bool, error) {
	if flag {
		return true, nil
	}
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		return b, nil
	}
	if file != nil {
		return *file, nil
	}
	return false, nil
}

func isLoopback(host string) bool {
	h := host
	if hh, _, err := net.SplitHostPort(host); err == nil {
		h = hh
	}
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
