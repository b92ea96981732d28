package chathub

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MessageRelay validates and forwards chat messages, WebRTC signals and
// typing indicators between the two participants of a room.
type MessageRelay struct {
	logger   zerolog.Logger
	now      func() time.Time
	rooms    *RoomRegistry
	live     LivenessChecker
	dedup    *Deduplicator
	profiles *ProfileCache
	batcher  *DeliveryBatcher
	typing   *TypingTracker
}

func NewMessageRelay(
	logger *zerolog.Logger,
	rooms *RoomRegistry,
	live LivenessChecker,
	dedup *Deduplicator,
	profiles *ProfileCache,
	batcher *DeliveryBatcher,
	typing *TypingTracker,
) *MessageRelay {
	return &MessageRelay{
		logger:   logger.With().Str("component", "relay").Logger(),
		now:      time.Now,
		rooms:    rooms,
		live:     live,
		dedup:    dedup,
		profiles: profiles,
		batcher:  batcher,
		typing:   typing,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *MessageRelay) SetClock(now func() time.Time) { r.now = now }

// RelayMessage runs a chat message through validation, room resolution,
// partner liveness, deduplication and enrichment, then queues it for the
// partner. Nothing is queued when any step fails.
func (r *MessageRelay) RelayMessage(ctx context.Context, sender models.Connection, req SendMessageRequest) (models.ChatMessagePayload, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return models.ChatMessagePayload{}, newValidationError(KeyEmptyMessage, "empty message")
	}
	if n := utf8.RuneCountInString(text); n > config.MaxMessageLength {
		return models.ChatMessagePayload{}, newValidationError(KeyMessageTooLong, "message has %d characters, limit is %d", n, config.MaxMessageLength)
	}

	room, ok := r.rooms.GetRoomByParticipant(sender.ID)
	if !ok {
		return models.ChatMessagePayload{}, fmt.Errorf("%w: sender has no room", ErrNotInRoom)
	}
	if req.RoomID != "" && req.RoomID != room.ID {
		return models.ChatMessagePayload{}, fmt.Errorf("%w: %s", ErrNotInRoom, req.RoomID)
	}
	partner, _ := room.Partner(sender.ID)
	if !r.live.IsLive(partner) {
		return models.ChatMessagePayload{}, &PartnerUnavailableError{PartnerID: partner}
	}

	if err := r.dedup.Check(sender.Key(), room.ID, req.MessageID, text); err != nil {
		r.logger.Debug().
			Err(err).
			Str("connID", sender.ID).
			Str("roomID", room.ID).
			Msg("message rejected by dedup")
		return models.ChatMessagePayload{}, err
	}

	profile := r.profiles.Lookup(ctx, sender.Identity)
	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	msg := models.ChatMessagePayload{
		MessageID:   messageID,
		RoomID:      room.ID,
		SenderID:    sender.ID,
		Text:        text,
		DisplayName: profile.DisplayName,
		Color:       profile.Color,
		Animation:   profile.Animation,
		SentAt:      r.now(),
	}

	r.batcher.Enqueue(partner, models.EventReceiveMessage, msg, models.PriorityHigh)
	r.rooms.Touch(room.ID)
	return msg, nil
}

// RelaySignal forwards signalData to the partner untouched and immediately.
func (r *MessageRelay) RelaySignal(sender models.Connection, req WebRTCSignalRequest) error {
	partner, err := r.livePartner(req.RoomID, sender.ID)
	if err != nil {
		return err
	}
	payload := models.WebRTCSignalPayload{SignalData: req.SignalData, FromID: sender.ID}
	if !r.batcher.SendImmediate(partner, models.EventWebRTCSignal, payload) {
		return &PartnerUnavailableError{PartnerID: partner}
	}
	r.rooms.Touch(req.RoomID)
	return nil
}

// RelayTyping starts or stops the sender's typing indicator for its partner.
func (r *MessageRelay) RelayTyping(sender models.Connection, req TypingRequest) error {
	if !req.Typing {
		r.typing.Stop(sender.ID)
		return nil
	}
	partner, err := r.livePartner(req.RoomID, sender.ID)
	if err != nil {
		return err
	}
	r.typing.Start(sender.ID, partner, req.RoomID)
	return nil
}

func (r *MessageRelay) livePartner(roomID, connID string) (string, error) {
	partner, err := r.rooms.ResolvePartner(roomID, connID)
	if err != nil {
		return "", err
	}
	if !r.live.IsLive(partner) {
		return "", &PartnerUnavailableError{PartnerID: partner}
	}
	return partner, nil
}
