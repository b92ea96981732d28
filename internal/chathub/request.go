package chathub

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"
)

// Request is one validated inbound event. The set of implementations is
// closed; handlers switch on the concrete type.
type Request interface {
	eventName() string
}

type FindPartnerRequest struct {
	ChatType  models.ChatType
	Interests []string
	Identity  string
}

type StopSearchingRequest struct{}

type SendMessageRequest struct {
	RoomID    string
	Text      string
	MessageID string
}

type WebRTCSignalRequest struct {
	RoomID     string
	SignalData json.RawMessage
}

type TypingRequest struct {
	RoomID string
	Typing bool
}

type LeaveChatRequest struct {
	RoomID string
}

type SkipPartnerRequest struct {
	RoomID string
}

type HeartbeatAckRequest struct{}

func (FindPartnerRequest) eventName() string   { return models.EventFindPartner }
func (StopSearchingRequest) eventName() string { return models.EventStopSearching }
func (SendMessageRequest) eventName() string   { return models.EventSendMessage }
func (WebRTCSignalRequest) eventName() string  { return models.EventWebRTCSignal }
func (r TypingRequest) eventName() string {
	if r.Typing {
		return models.EventTypingStart
	}
	return models.EventTypingStop
}
func (LeaveChatRequest) eventName() string    { return models.EventLeaveChat }
func (SkipPartnerRequest) eventName() string  { return models.EventSkipPartner }
func (HeartbeatAckRequest) eventName() string { return models.EventHeartbeatAck }

type findPartnerPayload struct {
	ChatType  string   `json:"chatType"`
	Interests []string `json:"interests"`
	Identity  string   `json:"identity"`
}

type sendMessagePayload struct {
	RoomID    string `json:"roomId"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

type signalPayload struct {
	RoomID     string          `json:"roomId"`
	SignalData json.RawMessage `json:"signalData"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

// ParseRequest decodes and validates a raw client frame.
func ParseRequest(frame models.InboundFrame) (Request, error) {
	switch frame.Event {
	case models.EventFindPartner:
		var p findPartnerPayload
		if err := decodePayload(frame.Payload, &p); err != nil {
			return nil, err
		}
		chatType := models.ChatType(strings.ToLower(strings.TrimSpace(p.ChatType)))
		if chatType == "" {
			chatType = models.ChatTypeText
		}
		if !chatType.Valid() {
			return nil, newValidationError(KeyUnsupportedChat, "unsupported chat type %q", p.ChatType)
		}
		return FindPartnerRequest{
			ChatType:  chatType,
			Interests: NormalizeInterests(p.Interests),
			Identity:  strings.TrimSpace(p.Identity),
		}, nil

	case models.EventStopSearching:
		return StopSearchingRequest{}, nil

	case models.EventSendMessage:
		var p sendMessagePayload
		if err := decodePayload(frame.Payload, &p); err != nil {
			return nil, err
		}
		return SendMessageRequest{RoomID: p.RoomID, Text: p.Text, MessageID: strings.TrimSpace(p.MessageID)}, nil

	case models.EventWebRTCSignal:
		var p signalPayload
		if err := decodePayload(frame.Payload, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			return nil, newValidationError(KeyMissingRoom, "webrtcSignal without roomId")
		}
		if !isJSONObject(p.SignalData) {
			return nil, newValidationError(KeyMissingSignal, "webrtcSignal without signalData object")
		}
		return WebRTCSignalRequest{RoomID: p.RoomID, SignalData: p.SignalData}, nil

	case models.EventTypingStart, models.EventTypingStop:
		var p roomPayload
		if err := decodePayload(frame.Payload, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			return nil, newValidationError(KeyMissingRoom, "%s without roomId", frame.Event)
		}
		return TypingRequest{RoomID: p.RoomID, Typing: frame.Event == models.EventTypingStart}, nil

	case models.EventLeaveChat:
		var p roomPayload
		if err := decodePayload(frame.Payload, &p); err != nil {
			return nil, err
		}
		return LeaveChatRequest{RoomID: p.RoomID}, nil

	case models.EventSkipPartner:
		var p roomPayload
		if err := decodePayload(frame.Payload, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			return nil, newValidationError(KeyMissingRoom, "skipPartner without roomId")
		}
		return SkipPartnerRequest{RoomID: p.RoomID}, nil

	case models.EventHeartbeatAck:
		return HeartbeatAckRequest{}, nil
	}
	return nil, newValidationError(KeyUnknownEvent, "unknown event %q", frame.Event)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return newValidationError(KeyInvalidPayload, "malformed payload: %v", err)
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	return len(obj) > 0
}

// NormalizeInterests lowercases and trims interests, drops empty and repeated
// ones, truncates long ones and keeps at most MaxInterests.
func NormalizeInterests(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, min(len(raw), config.MaxInterests))
	for _, interest := range raw {
		interest = strings.ToLower(strings.TrimSpace(interest))
		if utf8.RuneCountInString(interest) > config.MaxInterestLength {
			interest = string([]rune(interest)[:config.MaxInterestLength])
		}
		if interest == "" {
			continue
		}
		if _, dup := seen[interest]; dup {
			continue
		}
		seen[interest] = struct{}{}
		out = append(out, interest)
		if len(out) == config.MaxInterests {
			break
		}
	}
	return out
}
