// Package push wakes devices with silent APNs notifications. Pushes are
// advisory: they carry no message content, only a hint that the inbox
// has new entries, and a failed push never fails the send that
// triggered it.
package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ericyarmo/buds-relay/internal/logger"
)

// silentPayload is the fixed notification body. content-available wakes
// the app in the background without any user-visible alert.
const silentPayload = `{"aps":{"content-available":1},"inbox":1}`

// providerTokenTTL is how long a signed provider JWT is reused before a
// fresh one is minted. APNs accepts tokens between 20 and 60 minutes
// old; refreshing at 15 keeps a healthy margin.
const providerTokenTTL = 15 * time.Minute

// Config holds APNs provider credentials.
type Config struct {
	// Enabled turns push delivery on. When false the notifier is a no-op.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// KeyID is the 10-character APNs auth key id.
	KeyID string `mapstructure:"key_id" yaml:"key_id,omitempty"`

	// TeamID is the Apple developer team id.
	TeamID string `mapstructure:"team_id" yaml:"team_id,omitempty"`

	// PrivateKey is the PEM-encoded ES256 (P-256) auth key.
	PrivateKey string `mapstructure:"private_key" yaml:"private_key,omitempty"`

	// Topic is the app bundle id, sent as the apns-topic header.
	Topic string `mapstructure:"topic" yaml:"topic,omitempty"`

	// Endpoint overrides the APNs host. Defaults to production; use
	// https://api.sandbox.push.apple.com for development builds.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

const defaultEndpoint = "https://api.push.apple.com"

// Target identifies one device to wake.
type Target struct {
	DeviceID string
	Token    string
}

// Notifier wakes devices. Implementations must be safe for concurrent
// use and must never return an error for per-device delivery failures.
type Notifier interface {
	// Notify sends a silent push to each target. DeviceIDs of targets
	// whose tokens the provider reported gone (HTTP 410) are returned so
	// the caller can deactivate them.
	Notify(ctx context.Context, targets []Target) (goneDeviceIDs []string)
}

// NopNotifier ignores all pushes. Used when push is not configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, []Target) []string { return nil }

// APNSNotifier sends silent pushes over the APNs HTTP/2 provider API,
// authenticating with a cached ES256 provider token.
type APNSNotifier struct {
	client   *http.Client
	key      *ecdsa.PrivateKey
	keyID    string
	teamID   string
	topic    string
	endpoint string

	mu          sync.Mutex
	cachedToken string
	mintedAt    time.Time
}

// NewAPNS builds a notifier from provider credentials.
func NewAPNS(config Config) (*APNSNotifier, error) {
	if config.KeyID == "" || config.TeamID == "" || config.PrivateKey == "" {
		return nil, errors.New("push requires key_id, team_id and private_key")
	}
	key, err := parseES256Key([]byte(config.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid push private key: %w", err)
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	return &APNSNotifier{
		client:   &http.Client{Timeout: 10 * time.Second},
		key:      key,
		keyID:    config.KeyID,
		teamID:   config.TeamID,
		topic:    config.Topic,
		endpoint: endpoint,
	}, nil
}

// parseES256Key decodes a PEM-encoded PKCS#8 or SEC1 P-256 private key.
func parseES256Key(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an EC private key")
		}
		return ecKey, nil
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

// providerToken returns a signed provider JWT, minting a fresh one when
// the cached token is older than providerTokenTTL.
func (n *APNSNotifier) providerToken() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cachedToken != "" && time.Since(n.mintedAt) < providerTokenTTL {
		return n.cachedToken, nil
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": n.teamID,
		"iat": now.Unix(),
	})
	token.Header["kid"] = n.keyID

	signed, err := token.SignedString(n.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign provider token: %w", err)
	}

	n.cachedToken = signed
	n.mintedAt = now
	return signed, nil
}

// Notify pushes to all targets in parallel. Per-target outcomes are
// logged; only gone tokens are reported back.
func (n *APNSNotifier) Notify(ctx context.Context, targets []Target) []string {
	if len(targets) == 0 {
		return nil
	}

	token, err := n.providerToken()
	if err != nil {
		logger.ErrorCtx(ctx, "failed to mint push provider token", "error", err)
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		gone []string
	)
	for _, target := range targets {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			if n.send(ctx, token, target) {
				mu.Lock()
				gone = append(gone, target.DeviceID)
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()
	return gone
}

// send delivers one push. Returns true when the provider reported the
// token gone (HTTP 410).
func (n *APNSNotifier) send(ctx context.Context, providerToken string, target Target) bool {
	url := fmt.Sprintf("%s/3/device/%s", n.endpoint, target.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(silentPayload))
	if err != nil {
		logger.ErrorCtx(ctx, "failed to build push request", "device_id", target.DeviceID, "error", err)
		return false
	}
	req.Header.Set("authorization", "bearer "+providerToken)
	req.Header.Set("apns-push-type", "background")
	req.Header.Set("apns-priority", "5")
	if n.topic != "" {
		req.Header.Set("apns-topic", n.topic)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		logger.WarnCtx(ctx, "push delivery failed", "device_id", target.DeviceID, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return false
	case resp.StatusCode == http.StatusGone:
		logger.InfoCtx(ctx, "push token gone, deactivating device", "device_id", target.DeviceID)
		return true
	case resp.StatusCode == http.StatusTooManyRequests:
		logger.WarnCtx(ctx, "push provider rate limited", "device_id", target.DeviceID)
		return false
	default:
		logger.WarnCtx(ctx, "push rejected",
			"device_id", target.DeviceID,
			"status", resp.StatusCode)
		return false
	}
}
