package service

import "strings"

// URLConfig builds public room URLs for responses.
type URLConfig struct {
	BaseURL  string // scheme://host, no trailing slash
	BasePath string // "" or "/prefix"
}

// RoomURL returns the page URL for a room (e.g. https://host/call/<id>).
func (c *URLConfig) RoomURL(roomID string) string {
	return c.join("/call/" + roomID)
}

// WSURL returns the signaling URL for a room (e.g. wss://host/ws/private/<id>).
func (c *URLConfig) WSURL(roomID string) string {
	u := c.join("/ws/private/" + roomID)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// ICEURL returns the relay credentials endpoint.
func (c *URLConfig) ICEURL() string {
	return c.join("/api/ice-servers")
}

func (c *URLConfig) join(path string) string {
	if c == nil {
		return path
	}
	return strings.TrimRight(c.BaseURL, "/") + c.BasePath + path
}
