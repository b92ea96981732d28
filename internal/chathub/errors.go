package chathub

import (
	"errors"
	"fmt"
	"time"

	"tinchat/backend/internal/models"
)

// Message keys used to localize error replies.
const (
	KeyInvalidPayload     = "error.invalid_payload"
	KeyUnknownEvent       = "error.unknown_event"
	KeyEmptyMessage       = "error.empty_message"
	KeyMessageTooLong     = "error.message_too_long"
	KeyAlreadySearching   = "error.already_searching"
	KeyLeaveChatFirst     = "error.leave_chat_first"
	KeyNotSearching       = "error.not_searching"
	KeyNotInRoom          = "error.not_in_room"
	KeyPartnerGone        = "error.partner_disconnected"
	KeyDuplicateMessage   = "error.duplicate_message"
	KeySpamMessage        = "error.spam_message"
	KeyRoomDuplicate      = "error.room_duplicate"
	KeySearchCooldown     = "notice.search_cooldown"
	KeyInternal           = "error.internal"
	KeyIdentityMismatch   = "error.identity_mismatch"
	KeyUnsupportedChat    = "error.unsupported_chat_type"
	KeyMissingRoom        = "error.missing_room"
	KeyMissingSignal      = "error.missing_signal"
	KeyConnectionNotFound = "error.unknown_connection"
)

var (
	ErrUnknownConnection   = errors.New("connection is not registered")
	ErrInvalidParticipants = errors.New("room needs two distinct participants")
	ErrParticipantBusy     = errors.New("participant already in a room")
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotInRoom           = errors.New("connection is not a participant of the room")
)

// CodedError is implemented by every error that maps to a client reply.
type CodedError interface {
	error
	Code() string
}

// ValidationError reports a malformed or oversized payload.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Reason }
func (e *ValidationError) Code() string  { return e.Key }

func newValidationError(key, format string, args ...any) *ValidationError {
	return &ValidationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// StateConflictError reports a request that is not valid in the current state.
type StateConflictError struct {
	Key     string
	Current models.SearchState
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict: %s (current state %s)", e.Key, e.Current)
}
func (e *StateConflictError) Code() string { return e.Key }

// RateLimitError reports a search request inside the cooldown window.
type RateLimitError struct {
	Remaining time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("search cooldown, retry in %s", e.Remaining)
}
func (e *RateLimitError) Code() string { return KeySearchCooldown }

// PartnerUnavailableError reports that the partner connection is gone.
type PartnerUnavailableError struct {
	PartnerID string
}

func (e *PartnerUnavailableError) Error() string {
	return fmt.Sprintf("partner %s is not connected", e.PartnerID)
}
func (e *PartnerUnavailableError) Code() string { return KeyPartnerGone }

// DuplicateKind names which dedup tier rejected a message.
type DuplicateKind string

const (
	DuplicateMessageID DuplicateKind = "message_id"
	DuplicateSpam      DuplicateKind = "spam"
	DuplicateRoom      DuplicateKind = "room"
)

// DuplicateError reports a message dropped by deduplication.
type DuplicateError struct {
	Kind DuplicateKind
}

func (e *DuplicateError) Error() string { return "duplicate message (" + string(e.Kind) + ")" }

func (e *DuplicateError) Code() string {
	switch e.Kind {
	case DuplicateSpam:
		return KeySpamMessage
	case DuplicateRoom:
		return KeyRoomDuplicate
	default:
		return KeyDuplicateMessage
	}
}

// errorCode maps any error to a localization key.
func errorCode(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, ErrNotInRoom), errors.Is(err, ErrRoomNotFound):
		return KeyNotInRoom
	case errors.Is(err, ErrUnknownConnection):
		return KeyConnectionNotFound
	}
	return KeyInternal
}
