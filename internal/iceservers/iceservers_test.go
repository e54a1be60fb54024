package iceservers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	name    string
	servers []Server
	err     error
	delay   time.Duration
}

func (p stubProvider) Name() string { return p.name }

func (p stubProvider) Fetch(ctx context.Context) ([]Server, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.servers, p.err
}

func TestService_OrderStaticThenProviders(t *testing.T) {
	svc := NewService(
		[]string{"stun:stun1.example.com:3478", "stun:stun2.example.com:3478"},
		[]Provider{
			stubProvider{name: "slow", delay: 20 * time.Millisecond, servers: []Server{{URLs: URLs{"turn:a.example.com"}}}},
			stubProvider{name: "fast", servers: []Server{{URLs: URLs{"turn:b.example.com"}}}},
		},
		time.Second, zap.NewNop())

	got := svc.GetICEServers(context.Background())
	require.Len(t, got, 4)
	assert.Equal(t, URLs{"stun:stun1.example.com:3478"}, got[0].URLs)
	assert.Equal(t, URLs{"stun:stun2.example.com:3478"}, got[1].URLs)
	assert.Equal(t, URLs{"turn:a.example.com"}, got[2].URLs)
	assert.Equal(t, URLs{"turn:b.example.com"}, got[3].URLs)
}

func TestService_FailingProviderIsOmitted(t *testing.T) {
	svc := NewService(nil, []Provider{
		stubProvider{name: "broken", err: errors.New("boom")},
		stubProvider{name: "hung", delay: time.Minute},
		stubProvider{name: "ok", servers: []Server{{URLs: URLs{"turn:ok.example.com"}, Username: "u", Credential: "c"}}},
	}, 50*time.Millisecond, zap.NewNop())

	got := svc.GetICEServers(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "u", got[0].Username)
}

func TestService_FallbackWhenNothingAvailable(t *testing.T) {
	svc := NewService(nil, []Provider{stubProvider{name: "broken", err: errors.New("boom")}}, time.Second, zap.NewNop())
	got := svc.GetICEServers(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, URLs{FallbackSTUN}, got[0].URLs)

	// Static entries suppress the fallback.
	svc = NewService([]string{"stun:own.example.com"}, nil, time.Second, zap.NewNop())
	got = svc.GetICEServers(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, URLs{"stun:own.example.com"}, got[0].URLs)
}

func TestService_StaticSurvivesAllProvidersFailing(t *testing.T) {
	svc := NewService([]string{"stun:own.example.com:3478"}, []Provider{
		stubProvider{name: "broken", err: errors.New("boom")},
		stubProvider{name: "hung", delay: time.Minute},
	}, 50*time.Millisecond, zap.NewNop())

	got := svc.GetICEServers(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, URLs{"stun:own.example.com:3478"}, got[0].URLs)
	assert.Equal(t, "static", got[0].Provider)
	for _, s := range got {
		assert.NotContains(t, s.URLs, FallbackSTUN)
	}
}

func TestTURNRESTProvider(t *testing.T) {
	p, err := NewTURNRESTProvider([]string{"turn:turn.example.com:3478?transport=udp"}, "s3cret", time.Minute)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time { return now }

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	s := got[0]
	assert.Equal(t, "turnrest", s.Provider)
	require.NotNil(t, s.ExpiresAt)
	// TTL is raised to the one hour minimum.
	assert.Equal(t, now.Add(time.Hour).Unix(), s.ExpiresAt.Unix())
	assert.True(t, strings.HasPrefix(s.Username, "1700003600:call:"))
	assert.True(t, verifyCredential("s3cret", s.Username, s.Credential, now))
	assert.False(t, verifyCredential("other", s.Username, s.Credential, now))
	assert.False(t, verifyCredential("s3cret", s.Username, s.Credential, now.Add(2*time.Hour)))

	_, err = NewTURNRESTProvider(nil, "x", time.Hour)
	assert.Error(t, err)
	_, err = NewTURNRESTProvider([]string{"turn:x"}, "", time.Hour)
	assert.Error(t, err)
}

func TestMeteredProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/turn/credentials", r.URL.Path)
		assert.Equal(t, "key-1", r.URL.Query().Get("apiKey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"urls":"stun:relay.metered.ca:80"},
			{"urls":["turn:relay.metered.ca:80","turn:relay.metered.ca:443"],"username":"u","credential":"c"}
		]`)
	}))
	defer srv.Close()

	p := NewMeteredProvider("example.metered.live", "key-1", time.Second)
	p.endpoint = srv.URL + "/api/v1/turn/credentials"

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, URLs{"stun:relay.metered.ca:80"}, got[0].URLs)
	assert.Equal(t, URLs{"turn:relay.metered.ca:80", "turn:relay.metered.ca:443"}, got[1].URLs)
	assert.Equal(t, "metered", got[1].Provider)
}

func TestMeteredProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewMeteredProvider("example.metered.live", "bad", time.Second)
	p.endpoint = srv.URL
	_, err := p.Fetch(context.Background())
	assert.ErrorContains(t, err, "401")
}

func TestCloudflareProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]int64
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(7200), body["ttl"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"iceServers":[{"urls":["turn:turn.cloudflare.com:3478?transport=udp"],"username":"cu","credential":"cc"}]}`)
	}))
	defer srv.Close()

	p := NewCloudflareProvider("key", "tok", 2*time.Hour, time.Second)
	p.endpoint = srv.URL
	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cu", got[0].Username)
	assert.Equal(t, "cloudflare", got[0].Provider)
	assert.NotNil(t, got[0].ExpiresAt)
}

func TestServerJSON(t *testing.T) {
	var s Server
	require.NoError(t, json.Unmarshal([]byte(`{"urls":"stun:a"}`), &s))
	assert.Equal(t, URLs{"stun:a"}, s.URLs)
	require.NoError(t, json.Unmarshal([]byte(`{"urls":["stun:a","stun:b"]}`), &s))
	assert.Equal(t, URLs{"stun:a", "stun:b"}, s.URLs)
	assert.Error(t, json.Unmarshal([]byte(`{"urls":5}`), &s))

	raw, err := json.Marshal(Server{URLs: URLs{"stun:a"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"urls":["stun:a"]}`, string(raw))
}
