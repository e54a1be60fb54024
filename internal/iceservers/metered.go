package iceservers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// MeteredProvider fetches TURN credentials from the metered.ca REST API.
type MeteredProvider struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

// NewMeteredProvider targets https://<domain>/api/v1/turn/credentials.
func NewMeteredProvider(domain, apiKey string, timeout time.Duration) *MeteredProvider {
	return &MeteredProvider{
		client:   resty.New().SetTimeout(timeout).SetHeader("User-Agent", "signaling-server/1.0"),
		endpoint: fmt.Sprintf("https://%s/api/v1/turn/credentials", domain),
		apiKey:   apiKey,
	}
}

func (p *MeteredProvider) Name() string { return "metered" }

func (p *MeteredProvider) Fetch(ctx context.Context) ([]Server, error) {
	var result []Server
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("apiKey", p.apiKey).
		SetResult(&result).
		Get(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("metered request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("metered api error (status %d)", resp.StatusCode())
	}
	out := make([]Server, 0, len(result))
	for _, s := range result {
		if len(s.URLs) == 0 {
			continue
		}
		s.Provider = p.Name()
		out = append(out, s)
	}
	return out, nil
}
