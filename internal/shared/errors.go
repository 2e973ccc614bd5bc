// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes engine errors.
type ErrorKind string

const (
	// KindPermission indicates microphone/device access was refused.
	KindPermission ErrorKind = "permission"
	// KindUnsupportedAudio indicates no capture format could be negotiated.
	KindUnsupportedAudio ErrorKind = "unsupported_audio"
	// KindTranscription indicates remote transcription failed or the input
	// was empty or oversized.
	KindTranscription ErrorKind = "transcription"
	// KindTurnProcessing indicates the remote dialogue call failed after retry.
	KindTurnProcessing ErrorKind = "turn_processing"
	// KindSynthesis indicates remote synthesis failed or returned invalid audio.
	KindSynthesis ErrorKind = "synthesis"
	// KindTimeout indicates the 30 s budget was exceeded on a turn-affecting call.
	KindTimeout ErrorKind = "timeout"
	// KindCacheRead indicates the local persisted cache was unreadable.
	// Always recovered silently, never surfaced to the user.
	KindCacheRead ErrorKind = "cache_read"
)

// Error is a classified engine error. Message is safe to show to the user;
// Err holds the underlying cause for logging.
type Error struct {
	Kind    ErrorKind
	Message string
	Code    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error with an optional underlying cause.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of a classified error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// UserMessage extracts the user-facing message from a classified error,
// falling back to a generic message for anything else.
func UserMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// IsTimeout reports whether err represents an exceeded deadline, either as
// a classified timeout or a raw context error from a cancelled request.
func IsTimeout(err error) bool {
	if IsKind(err, KindTimeout) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// legacyConflictDetail is the detail string older dialogue agents return when
// a turn fails to persist remotely. Newer agents return the structured code
// "turn_conflict" instead; this substring match exists only for those older
// deployments. TODO: drop once no agent older than the structured-code
// rollout remains deployed.
const legacyConflictDetail = "Failed to save interview turn"

// TurnConflictCode is the structured error code the dialogue agent returns
// when a turn could not be persisted remotely.
const TurnConflictCode = "turn_conflict"

// IsTurnConflict reports whether err indicates a turn-persistence conflict
// on the remote side, which warrants rolling back the optimistic turn.
func IsTurnConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Code == TurnConflictCode {
			return true
		}
		if strings.Contains(e.Message, legacyConflictDetail) {
			return true
		}
	}
	return strings.Contains(err.Error(), legacyConflictDetail)
}
