package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/version"
)

const apiTimeout = 10 * time.Second

var roomIDPattern = regexp.MustCompile(`^[A-Z0-9]+(-[A-Z0-9]+)*$`)

type createRoomResponse struct {
	RoomID string `json:"roomId"`
}

type roomResponse struct {
	Exists bool `json:"exists"`
}

// API talks to the relay's REST endpoints.
type API struct {
	baseURL string
	http    *http.Client
}

// NewAPI returns a client for the relay at baseURL (http or https). Host
// names go through resolver, shared with the signaling dial.
func NewAPI(baseURL string, resolver *dns.Resolver) *API {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = resolver.DialContext

	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport, Timeout: apiTimeout},
	}
}

// CreateRoom asks the relay for a new room.
func (a *API) CreateRoom(ctx context.Context) (string, error) {
	var out createRoomResponse
	if err := a.do(ctx, http.MethodPost, "/api/create-room", &out); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	if out.RoomID == "" {
		return "", fmt.Errorf("create room: relay returned no room id")
	}
	return out.RoomID, nil
}

// RoomExists reports whether the relay knows the room.
func (a *API) RoomExists(ctx context.Context, id string) (bool, error) {
	var out roomResponse
	if err := a.do(ctx, http.MethodGet, "/api/room/"+url.PathEscape(id), &out); err != nil {
		return false, fmt.Errorf("check room: %w", err)
	}
	return out.Exists, nil
}

func (a *API) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.Client())
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ParseRoomID accepts a bare room id or a room link ending in /r/<id> and
// returns the upper-cased id.
func ParseRoomID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRoom, err)
		}
		s = u.Path
	}
	s = strings.Trim(s, "/")
	if i := strings.LastIndex(s, "r/"); i >= 0 && (i == 0 || s[i-1] == '/') {
		s = s[i+2:]
	}

	id := normalizeRoomID(s)
	if !roomIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoom, input)
	}
	return id, nil
}
