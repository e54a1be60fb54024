package iceservers

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinCredentialTTL is the shortest lifetime handed out for TURN credentials.
const MinCredentialTTL = time.Hour

// TURNRESTProvider issues coturn-compatible TURN REST credentials:
//
//	username   = <unix_expiry>:<prefix>:<random>
//	credential = base64(hmac_sha1(secret, username))
type TURNRESTProvider struct {
	urls   []string
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// NewTURNRESTProvider validates the configuration. ttl below one hour is raised to one hour.
func NewTURNRESTProvider(urls []string, secret string, ttl time.Duration) (*TURNRESTProvider, error) {
	if len(urls) == 0 {
		return nil, errors.New("turn rest: at least one url is required")
	}
	if secret == "" {
		return nil, errors.New("turn rest: shared secret is required")
	}
	if ttl < MinCredentialTTL {
		ttl = MinCredentialTTL
	}
	return &TURNRESTProvider{
		urls:   urls,
		secret: []byte(secret),
		ttl:    ttl,
		prefix: "call",
		now:    time.Now,
	}, nil
}

func (p *TURNRESTProvider) Name() string { return "turnrest" }

func (p *TURNRESTProvider) Fetch(context.Context) ([]Server, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, err
	}
	expires := p.now().UTC().Add(p.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), p.prefix, hex.EncodeToString(b[:]))
	return []Server{{
		URLs:       append(URLs(nil), p.urls...),
		Username:   username,
		Credential: signUsername(p.secret, username),
		Provider:   p.Name(),
		ExpiresAt:  &expires,
	}}, nil
}

func signUsername(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifyCredential checks a credential produced by signUsername and that the
// username has not expired at now.
func verifyCredential(secret, username, credential string, now time.Time) bool {
	if !hmac.Equal([]byte(signUsername([]byte(secret), username)), []byte(credential)) {
		return false
	}
	exp, _, ok := strings.Cut(username, ":")
	if !ok {
		return false
	}
	var unix int64
	if _, err := fmt.Sscanf(exp, "%d", &unix); err != nil {
		return false
	}
	return now.Unix() < unix
}
