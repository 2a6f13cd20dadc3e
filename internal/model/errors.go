package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMessage      = errors.New("invalid message")
	ErrInvalidConversation = errors.New("invalid conversation")
	ErrEmptyBody           = errors.New("message body is empty")
	ErrNotParticipant      = errors.New("sender is not the conversation owner")
	ErrEngineStopped       = errors.New("messaging engine stopped")
	ErrNotFound            = errors.New("not found")
)

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, reason)
}

type (
	WritePhase string
	UploadStep string

	// EncodeError: the attachment could not be turned into uploadable bytes.
	// Retrying with the same input will fail again.
	EncodeError struct {
		Err error
	}

	// UploadError: the blob store rejected or lost the attachment.
	UploadError struct {
		Step UploadStep
		Key  string
		Err  error
	}

	// WriteError: a conversation log write failed.
	WriteError struct {
		Phase WritePhase
		Log   ConversationID
		Err   error
	}

	// FeedError: the live change feed of a conversation broke.
	FeedError struct {
		Conversation ConversationID
		Err          error
	}

	// DecodeError: fetched bytes are not a usable image.
	DecodeError struct {
		Key string
		Err error
	}
)

const (
	PhaseOwner WritePhase = "owner"
	PhasePeer  WritePhase = "peer"

	StepPut     UploadStep = "put"
	StepResolve UploadStep = "resolve"
)

func (e *EncodeError) Error() string { return "encode attachment: " + e.Err.Error() }
func (e *EncodeError) Unwrap() error { return e.Err }

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload attachment (%s %s): %v", e.Step, e.Key, e.Err)
}
func (e *UploadError) Unwrap() error { return e.Err }

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s log %s: %v", e.Phase, e.Log, e.Err)
}
func (e *WriteError) Unwrap() error { return e.Err }

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Conversation, e.Err)
}
func (e *FeedError) Unwrap() error { return e.Err }

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Key, e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }

// IsRetryable reports whether re-running the failed operation from the start
// may succeed without new input.
func IsRetryable(err error) bool {
	var (
		encodeErr *EncodeError
		uploadErr *UploadError
		writeErr  *WriteError
		feedErr   *FeedError
		decodeErr *DecodeError
	)
	switch {
	case errors.As(err, &encodeErr):
		return false
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrEmptyBody), errors.Is(err, ErrInvalidConversation):
		return false
	case errors.As(err, &uploadErr), errors.As(err, &writeErr), errors.As(err, &feedErr), errors.As(err, &decodeErr):
		return true
	}
	return false
}
