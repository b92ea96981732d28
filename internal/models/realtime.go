package models

import (
	"encoding/json"
	"time"
)

// Inbound event names sent by clients.
const (
	EventFindPartner   = "findPartner"
	EventStopSearching = "stopSearching"
	EventSendMessage   = "sendMessage"
	EventWebRTCSignal  = "webrtcSignal"
	EventTypingStart   = "typingStart"
	EventTypingStop    = "typingStop"
	EventLeaveChat     = "leaveChat"
	EventSkipPartner   = "skipPartner"
	EventHeartbeatAck  = "heartbeatAck"
)

// Outbound event names sent by the server.
const (
	EventOnlineCountUpdate  = "onlineCountUpdate"
	EventWaitingForPartner  = "waitingForPartner"
	EventSearchCooldown     = "searchCooldown"
	EventPartnerFound       = "partnerFound"
	EventPartnerLeft        = "partnerLeft"
	EventReceiveMessage     = "receiveMessage"
	EventBatchedMessages    = "batchedMessages"
	EventPartnerTypingStart = "partnerTypingStart"
	EventPartnerTypingStop  = "partnerTypingStop"
	EventHeartbeat          = "heartbeat"
	EventConnectionWarning  = "connectionWarning"
	EventError              = "error"
)

// Envelope is one outbound event frame.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// InboundFrame is the raw shape of every client frame before validation.
type InboundFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Priority orders entries inside the delivery batcher.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// OutboundMessage is a queued delivery. It only lives inside the batcher.
type OutboundMessage struct {
	RecipientID string
	Event       string
	Payload     any
	Priority    Priority
	EnqueuedAt  time.Time
}

type OnlineCountPayload struct {
	Count int `json:"count"`
}

type WaitingForPartnerPayload struct {
	QueuePosition        int `json:"queuePosition"`
	EstimatedWaitSeconds int `json:"estimatedWaitSeconds"`
}

type SearchCooldownPayload struct {
	RemainingMs int64 `json:"remainingMs"`
}

// PartnerInfo is what a participant learns about its match.
type PartnerInfo struct {
	ID              string          `json:"id"`
	Profile         ProfileSnapshot `json:"profile"`
	SharedInterests []string        `json:"sharedInterests,omitempty"`
}

type PartnerFoundPayload struct {
	PartnerInfo PartnerInfo `json:"partnerInfo"`
	RoomID      string      `json:"roomId"`
	ChatType    ChatType    `json:"chatType"`
}

type PartnerLeftPayload struct {
	Reason string `json:"reason"`
}

// ChatMessagePayload is a relayed chat message enriched with the sender's
// display attributes.
type ChatMessagePayload struct {
	MessageID   string    `json:"messageId,omitempty"`
	RoomID      string    `json:"roomId"`
	SenderID    string    `json:"senderId"`
	Text        string    `json:"text"`
	DisplayName string    `json:"displayName"`
	Color       string    `json:"color"`
	Animation   string    `json:"animation,omitempty"`
	SentAt      time.Time `json:"sentAt"`
}

type BatchedMessagesPayload struct {
	Messages []Envelope `json:"messages"`
}

type WebRTCSignalPayload struct {
	SignalData json.RawMessage `json:"signalData"`
	FromID     string          `json:"fromId"`
}

type TypingPayload struct {
	RoomID string `json:"roomId"`
}

type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type ConnectionWarningPayload struct {
	Type           string `json:"type"`
	TimeSinceAckMs int64  `json:"timeSinceAckMs"`
}

type ErrorPayload struct {
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	State   SearchState `json:"state,omitempty"`
}
