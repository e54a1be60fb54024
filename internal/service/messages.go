package service

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/model"
)

// MessageType is the "type" field of a signaling frame.
type MessageType string

// Client -> server.
const (
	TypeCallUser              MessageType = "call_user"
	TypeCallAccepted          MessageType = "call_accepted"
	TypeCallDeclined          MessageType = "call_declined"
	TypeOffer                 MessageType = "offer"
	TypeAnswer                MessageType = "answer"
	TypeCandidate             MessageType = "candidate"
	TypeHangup                MessageType = "hangup"
	TypeConnectionEstablished MessageType = "connection_established"
)

// Server -> client.
const (
	TypeIdentity         MessageType = "identity"
	TypeUserList         MessageType = "user_list"
	TypeIncomingCall     MessageType = "incoming_call"
	TypeCallEnded        MessageType = "call_ended"
	TypeCallMissed       MessageType = "call_missed"
	TypeRoomExpired      MessageType = "room_expired"
	TypeRoomClosedByUser MessageType = "room_closed_by_user"
)

// Frame is the wire envelope: {"type": <string>, "data": <object>}.
type Frame struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound is a decoded, schema-checked client frame.
type Inbound struct {
	Type           MessageType
	TargetID       string
	CallType       model.CallType
	ConnectionType string
	// Payload holds the opaque fields of offer/answer/candidate, target_id excluded.
	Payload map[string]json.RawMessage
}

type targetData struct {
	TargetID string `json:"target_id"`
}

type callUserData struct {
	TargetID string         `json:"target_id"`
	CallType model.CallType `json:"call_type"`
}

type connectionEstablishedData struct {
	Type string `json:"type"`
}

func badFrame(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrBadFrame, fmt.Sprintf(format, args...))
}

// ParseInbound decodes a raw client frame. Any schema violation returns an error
// wrapping errs.ErrBadFrame.
func ParseInbound(raw []byte) (Inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Inbound{}, badFrame("decode: %v", err)
	}
	if f.Type == "" {
		return Inbound{}, badFrame("missing type")
	}
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || data[0] != '{' {
		return Inbound{}, badFrame("%s: data must be an object", f.Type)
	}

	in := Inbound{Type: f.Type}
	switch f.Type {
	case TypeCallUser:
		var d callUserData
		if err := json.Unmarshal(data, &d); err != nil {
			return Inbound{}, badFrame("%s: %v", f.Type, err)
		}
		if d.TargetID == "" {
			return Inbound{}, badFrame("%s: target_id required", f.Type)
		}
		if !d.CallType.Valid() {
			return Inbound{}, badFrame("%s: call_type %q", f.Type, d.CallType)
		}
		in.TargetID, in.CallType = d.TargetID, d.CallType

	case TypeCallAccepted, TypeCallDeclined, TypeHangup:
		var d targetData
		if err := json.Unmarshal(data, &d); err != nil {
			return Inbound{}, badFrame("%s: %v", f.Type, err)
		}
		if d.TargetID == "" {
			return Inbound{}, badFrame("%s: target_id required", f.Type)
		}
		in.TargetID = d.TargetID

	case TypeOffer, TypeAnswer, TypeCandidate:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return Inbound{}, badFrame("%s: %v", f.Type, err)
		}
		var target string
		if err := json.Unmarshal(fields["target_id"], &target); err != nil || target == "" {
			return Inbound{}, badFrame("%s: target_id required", f.Type)
		}
		delete(fields, "target_id")
		delete(fields, "from")
		in.TargetID = target
		if len(fields) > 0 {
			in.Payload = fields
		}

	case TypeConnectionEstablished:
		var d connectionEstablishedData
		if err := json.Unmarshal(data, &d); err != nil {
			return Inbound{}, badFrame("%s: %v", f.Type, err)
		}
		if d.Type == "" {
			return Inbound{}, badFrame("%s: type required", f.Type)
		}
		in.ConnectionType = d.Type

	default:
		return Inbound{}, badFrame("unknown type %q", f.Type)
	}
	return in, nil
}

// Encode renders the frame the way a client sends it.
func (in Inbound) Encode() ([]byte, error) {
	var data any
	switch in.Type {
	case TypeCallUser:
		data = callUserData{TargetID: in.TargetID, CallType: in.CallType}
	case TypeCallAccepted, TypeCallDeclined, TypeHangup:
		data = targetData{TargetID: in.TargetID}
	case TypeOffer, TypeAnswer, TypeCandidate:
		fields := make(map[string]json.RawMessage, len(in.Payload)+1)
		for k, v := range in.Payload {
			fields[k] = v
		}
		target, _ := json.Marshal(in.TargetID)
		fields["target_id"] = target
		data = fields
	case TypeConnectionEstablished:
		data = connectionEstablishedData{Type: in.ConnectionType}
	default:
		return nil, badFrame("unknown type %q", in.Type)
	}
	return encodeFrame(in.Type, data)
}

func encodeFrame(t MessageType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: t, Data: raw})
}

// Outbound payloads.

type identityData struct {
	ID string `json:"id"`
}

// UserEntry is one row of user_list.
type UserEntry struct {
	ID     string            `json:"id"`
	Status ParticipantStatus `json:"status"`
}

type userListData struct {
	Users []UserEntry `json:"users"`
}

type incomingCallData struct {
	From     string         `json:"from"`
	CallType model.CallType `json:"call_type"`
}

type fromData struct {
	From   string `json:"from,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type reasonData struct {
	Reason string `json:"reason,omitempty"`
}

// Reasons carried in call_ended / call_missed.
const (
	endReasonHangup   = "hangup"
	endReasonDeclined = "declined"
	endReasonTimeout  = "timeout"
	endReasonBusy     = "busy"
	endReasonInvalid  = "invalid_target"
	endReasonPeerLeft = "peer_disconnected"
)

func relayFrame(in Inbound, from string) ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(in.Payload)+1)
	for k, v := range in.Payload {
		fields[k] = v
	}
	raw, _ := json.Marshal(from)
	fields["from"] = raw
	return encodeFrame(in.Type, fields)
}
