package iceservers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const cloudflareBaseURL = "https://rtc.live.cloudflare.com/v1/turn/keys"

// CloudflareProvider generates short-lived credentials for Cloudflare Calls TURN.
type CloudflareProvider struct {
	client   *resty.Client
	endpoint string
	token    string
	ttl      time.Duration
	now      func() time.Time
}

// NewCloudflareProvider creates a provider for TURN key keyID.
func NewCloudflareProvider(keyID, apiToken string, ttl, timeout time.Duration) *CloudflareProvider {
	if ttl < MinCredentialTTL {
		ttl = MinCredentialTTL
	}
	return &CloudflareProvider{
		client:   resty.New().SetTimeout(timeout).SetHeader("User-Agent", "signaling-server/1.0"),
		endpoint: fmt.Sprintf("%s/%s/credentials/generate-ice-servers", cloudflareBaseURL, keyID),
		token:    apiToken,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (p *CloudflareProvider) Name() string { return "cloudflare" }

type cloudflareResponse struct {
	ICEServers []Server `json:"iceServers"`
}

func (p *CloudflareProvider) Fetch(ctx context.Context) ([]Server, error) {
	var result cloudflareResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.token).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"ttl": int64(p.ttl / time.Second)}).
		SetResult(&result).
		Post(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("cloudflare request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cloudflare api error (status %d)", resp.StatusCode())
	}
	expires := p.now().UTC().Add(p.ttl).Truncate(time.Second)
	out := make([]Server, 0, len(result.ICEServers))
	for _, s := range result.ICEServers {
		if len(s.URLs) == 0 {
			continue
		}
		s.Provider = p.Name()
		if s.Credential != "" {
			s.ExpiresAt = &expires
		}
		out = append(out, s)
	}
	return out, nil
}
