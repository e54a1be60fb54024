// Package iceservers builds the ICE server bundle handed to browser clients:
// static STUN entries followed by short-lived TURN credentials from each provider.
package iceservers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// FallbackSTUN is returned when no static entry is configured and every provider failed.
const FallbackSTUN = "stun:stun.l.google.com:19302"

// URLs accepts either a JSON string or an array of strings.
type URLs []string

func (u *URLs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = URLs{s}
		return nil
	}
	var ss []string
	if err := json.Unmarshal(b, &ss); err != nil {
		return fmt.Errorf("urls must be a string or an array of strings: %w", err)
	}
	*u = ss
	return nil
}

// Server is one RTCIceServer entry.
type Server struct {
	URLs       URLs       `json:"urls"`
	Username   string     `json:"username,omitempty"`
	Credential string     `json:"credential,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Provider fetches dynamic TURN entries.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) ([]Server, error)
}
