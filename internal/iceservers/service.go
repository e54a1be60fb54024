package iceservers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/metrics"
)

// Service assembles the ICE server list.
type Service struct {
	static    []Server
	providers []Provider
	timeout   time.Duration
	log       *zap.Logger
}

// NewService creates a service. stunURLs become one static entry each, in order.
func NewService(stunURLs []string, providers []Provider, timeout time.Duration, log *zap.Logger) *Service {
	static := make([]Server, 0, len(stunURLs))
	for _, u := range stunURLs {
		static = append(static, Server{URLs: URLs{u}, Provider: "static"})
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{static: static, providers: providers, timeout: timeout, log: log}
}

// GetICEServers returns static entries followed by each provider's entries in
// configured order. Failing providers are logged and omitted.
func (s *Service) GetICEServers(ctx context.Context) []Server {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make([][]Server, len(s.providers))
	var g errgroup.Group
	for i, p := range s.providers {
		g.Go(func() error {
			servers, err := p.Fetch(ctx)
			if err != nil {
				metrics.ICEProviderErrors.WithLabelValues(p.Name()).Inc()
				s.log.Warn("ice provider failed",
					zap.String("provider", p.Name()),
					zap.Error(fmt.Errorf("%w: %w", errs.ErrUpstreamUnavailable, err)))
				return nil
			}
			results[i] = servers
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Server, 0, len(s.static)+len(s.providers))
	out = append(out, s.static...)
	for _, r := range results {
		out = append(out, r...)
	}
	// Configured static STUN entries count as reachable; the fallback only
	// replaces an otherwise empty list.
	if len(out) == 0 {
		return []Server{{URLs: URLs{FallbackSTUN}, Provider: "fallback"}}
	}
	return out
}
