package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/model"
)

func TestParseInbound_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":              `{"type":`,
		"missing type":          `{"data":{}}`,
		"data not object":       `{"type":"hangup","data":"x"}`,
		"data missing":          `{"type":"hangup"}`,
		"unknown type":          `{"type":"dance","data":{}}`,
		"call_user no target":   `{"type":"call_user","data":{"call_type":"audio"}}`,
		"call_user bad type":    `{"type":"call_user","data":{"target_id":"b","call_type":"screen"}}`,
		"accept no target":      `{"type":"call_accepted","data":{}}`,
		"offer no target":       `{"type":"offer","data":{"sdp":"x"}}`,
		"offer numeric target":  `{"type":"offer","data":{"target_id":5}}`,
		"established no type":   `{"type":"connection_established","data":{}}`,
		"server-only type sent": `{"type":"identity","data":{"id":"x"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInbound([]byte(raw))
			assert.ErrorIs(t, err, errs.ErrBadFrame)
		})
	}
}

func TestParseInbound_RelayStripsRoutingFields(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"candidate","data":{"target_id":"b","from":"spoofed","candidate":{"sdpMid":"0"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "b", in.TargetID)
	assert.NotContains(t, in.Payload, "from")
	assert.NotContains(t, in.Payload, "target_id")

	raw, err := relayFrame(in, "a")
	require.NoError(t, err)
	var f struct {
		Type MessageType               `json:"type"`
		Data map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, TypeCandidate, f.Type)
	assert.JSONEq(t, `"a"`, string(f.Data["from"]))
	assert.JSONEq(t, `{"sdpMid":"0"}`, string(f.Data["candidate"]))
	assert.NotContains(t, f.Data, "target_id")
}

func TestInbound_EncodeParseRoundTrip(t *testing.T) {
	frames := []Inbound{
		{Type: TypeCallUser, TargetID: "b", CallType: model.CallTypeVideo},
		{Type: TypeCallAccepted, TargetID: "a"},
		{Type: TypeCallDeclined, TargetID: "a"},
		{Type: TypeHangup, TargetID: "b"},
		{Type: TypeOffer, TargetID: "b", Payload: map[string]json.RawMessage{"sdp": json.RawMessage(`"v=0"`)}},
		{Type: TypeAnswer, TargetID: "a", Payload: map[string]json.RawMessage{"sdp": json.RawMessage(`"v=0"`)}},
		{Type: TypeCandidate, TargetID: "a"},
		{Type: TypeConnectionEstablished, ConnectionType: "srflx"},
	}
	for _, want := range frames {
		t.Run(string(want.Type), func(t *testing.T) {
			raw, err := want.Encode()
			require.NoError(t, err)
			got, err := ParseInbound(raw)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestCallKey_Unordered(t *testing.T) {
	k := NewCallKey("b", "a")
	assert.Equal(t, NewCallKey("a", "b"), k)
	assert.True(t, k.Has("a"))
	assert.False(t, k.Has("c"))
	assert.Equal(t, "b", k.Other("a"))
	assert.Equal(t, "a", k.Other("b"))
}

func TestDeviceClass(t *testing.T) {
	assert.Equal(t, "unknown", DeviceClass(""))
	assert.Equal(t, "mobile", DeviceClass("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148"))
	assert.Equal(t, "tablet", DeviceClass("Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)"))
	assert.Equal(t, "desktop", DeviceClass("Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"))
}

func TestParticipant_SlowConsumerIsShut(t *testing.T) {
	p := NewParticipant(Metadata{}, 1)
	assert.True(t, p.enqueue([]byte("1")))
	assert.False(t, p.enqueue([]byte("2")))
	code, reason := p.CloseStatus()
	assert.Equal(t, 1008, code)
	assert.Equal(t, "slow consumer", reason)
	assert.False(t, p.enqueue([]byte("3")))
}

func TestURLConfig(t *testing.T) {
	u := &URLConfig{BaseURL: "https://call.example.com/", BasePath: "/calls"}
	assert.Equal(t, "https://call.example.com/calls/call/r1", u.RoomURL("r1"))
	assert.Equal(t, "wss://call.example.com/calls/ws/private/r1", u.WSURL("r1"))
	assert.Equal(t, "https://call.example.com/calls/api/ice-servers", u.ICEURL())

	bare := &URLConfig{}
	assert.Equal(t, "/call/r1", bare.RoomURL("r1"))
	assert.Equal(t, "/ws/private/r1", bare.WSURL("r1"))
}
