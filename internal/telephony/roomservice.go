package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/livekit/protocol/livekit"
	"github.com/twitchtv/twirp"
	"golang.org/x/time/rate"
)

const (
	requestTimeout = 10 * time.Second
	tokenTTL       = 10 * time.Minute
	tokenIdentity  = "voxctl-control"

	// Outbound calls to the provider API are throttled so a burst of
	// hangups cannot trip the provider's own rate limits.
	apiRatePerSecond = 10
	apiBurst         = 20
)

// videoGrant is the provider's room-scoped permission claim.
type videoGrant struct {
	RoomAdmin bool   `json:"roomAdmin"`
	Room      string `json:"room,omitempty"`
}

// accessClaims is the claim set on a provider API token.
type accessClaims struct {
	Video videoGrant `json:"video"`
	jwt.RegisteredClaims
}

// Client calls the provider's room service over twirp, minting a short
// lived admin token per request.
type Client struct {
	apiKey    string
	apiSecret string
	svc       livekit.RoomService
	limiter   *rate.Limiter
}

// NewClient returns a room service client for the given provider URL.
// WebSocket URLs are accepted and converted to their HTTP form.
func NewClient(url, apiKey, apiSecret string) *Client {
	httpClient := &http.Client{Timeout: requestTimeout}
	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		svc:       livekit.NewRoomServiceProtobufClient(httpURL(url), httpClient),
		limiter:   rate.NewLimiter(rate.Limit(apiRatePerSecond), apiBurst),
	}
}

// DeleteRoom tears down the named room, disconnecting every participant.
// Inbound rooms carry the session id as their name, so this is the
// provider-side half of a hangup.
func (c *Client) DeleteRoom(ctx context.Context, room string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telephony: waiting for rate limiter: %w", err)
	}

	token, err := c.accessToken(room)
	if err != nil {
		return fmt.Errorf("telephony: minting access token: %w", err)
	}

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)
	ctx, err = twirp.WithHTTPRequestHeaders(ctx, header)
	if err != nil {
		return fmt.Errorf("telephony: attaching auth header: %w", err)
	}

	if _, err := c.svc.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room}); err != nil {
		return fmt.Errorf("telephony: delete room %s: %w", room, err)
	}
	return nil
}

// accessToken mints a room-admin token scoped to one room.
func (c *Client) accessToken(room string) (string, error) {
	now := time.Now()
	claims := accessClaims{
		Video: videoGrant{RoomAdmin: true, Room: room},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.apiKey,
			Subject:   tokenIdentity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.apiSecret))
}

// httpURL converts a ws/wss provider URL to its http/https equivalent.
func httpURL(url string) string {
	switch {
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	}
	return url
}

// ErrorClass returns a stable short name for a provider error, used in
// audit events. Twirp errors map to their code; other errors fall back
// to the type name of the root cause.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}

	var te twirp.Error
	if errors.As(err, &te) {
		return "twirp_" + string(te.Code())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	root := err
	for {
		unwrapped := errors.Unwrap(root)
		if unwrapped == nil {
			break
		}
		root = unwrapped
	}
	name := fmt.Sprintf("%T", root)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
